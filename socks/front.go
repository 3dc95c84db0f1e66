package socks

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/peer"
	"github.com/anywire/anywire/session"
)

// Frontend is C5: a local TCP listener that opens one session per accepted
// connection against a chosen remote rid and bridges bytes over it.
type Frontend struct {
	client     *peer.Client
	rid        string
	capability string // CapabilitySocks4 or CapabilitySocks5
}

// NewFrontend builds a front-end that forwards every accepted connection
// to rid's capability (CapabilitySocks4 or CapabilitySocks5).
func NewFrontend(client *peer.Client, rid, capability string) *Frontend {
	return &Frontend{client: client, rid: rid, capability: capability}
}

// ListenAndServe binds laddr and serves until ctx is canceled.
func (f *Frontend) ListenAndServe(ctx context.Context, laddr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", laddr)
	if err != nil {
		return err
	}
	return f.Serve(ctx, ln)
}

// Serve accepts connections off an already-bound listener until ctx is
// canceled. Split out from ListenAndServe so callers (and tests) that
// need the bound address — e.g. after binding to port 0 — can do so
// before handing the listener over.
func (f *Frontend) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	nlog.Infof("socks: %s front-end listening on %s, forwarding to %s", f.capability, ln.Addr(), f.rid)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go f.handleConn(ctx, conn)
	}
}

func (f *Frontend) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	s, err := f.client.OpenSession(ctx, f.rid, f.capability)
	if err != nil {
		nlog.Warningf("socks: open session against %s: %v", f.rid, err)
		return
	}
	defer s.Close(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tToS(gctx, conn, s, f.capability == CapabilitySocks5) })
	g.Go(func() error { return sToT(gctx, conn, s) })
	if err := g.Wait(); err != nil {
		nlog.Infof("socks: connection from %s ended: %v", conn.RemoteAddr(), err)
	}
}

// tToS reads from the local connection T and forwards to the session S,
// buffering per spec §4.5's three flush triggers and tagging payload
// chunks with the DATA prefix once the handshake is behind us.
func tToS(ctx context.Context, t net.Conn, s *session.Session, isV5 bool) error {
	const stageV4Handshake = stage(-1)
	st := stageV4Handshake
	if isV5 {
		st = stageMethodSelect
	}

	var pending []byte
	buf := make([]byte, BlockSize)
	flushThreshold := session.MaxChunk - BlockSize

	// flush emits pending[:n] as one chunk — tagged DATA if st is already
	// stageData, untagged otherwise — and advances st to next when given.
	flush := func(n int, next stage) error {
		chunk := pending[:n]
		var out []byte
		if st == stageData {
			out = session.EncodeData(chunk)
		} else {
			out = append([]byte(nil), chunk...)
		}
		if err := s.Send(out); err != nil {
			return err
		}
		pending = append([]byte(nil), pending[n:]...)
		st = next
		return nil
	}

	for {
		t.SetReadDeadline(time.Now().Add(DataTimeout))
		n, err := t.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}

		// (c) SOCKS5-only: flush exactly at a complete sub-header boundary,
		// so any trailing bytes the client pipelined right after its
		// handshake start the next, DATA-tagged chunk instead of being
		// glued onto the control one.
		if isV5 {
			for st != stageData {
				want, complete := stageWant(st, pending)
				if !complete || want > len(pending) {
					break
				}
				next := stageData
				if st == stageMethodSelect {
					next = nextStageAfterMethodSelect(pending)
				}
				if ferr := flush(want, next); ferr != nil {
					return ferr
				}
			}
		}

		switch {
		case err != nil:
			if len(pending) > 0 {
				// SOCKS4 has no completeness check (spec §4.5): the first
				// lull in traffic closes out its single handshake message.
				next := st
				if st == stageV4Handshake {
					next = stageData
				}
				if ferr := flush(len(pending), next); ferr != nil {
					return ferr
				}
			}
			if isTimeout(err) {
				continue
			}
			return err
		case len(pending) >= flushThreshold:
			if ferr := flush(len(pending), st); ferr != nil {
				return ferr
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func stageWant(st stage, buf []byte) (want int, ok bool) {
	switch st {
	case stageMethodSelect:
		return methodSelectWant(buf)
	case stageAuth:
		return authWant(buf)
	case stageRequest:
		return requestWant(buf)
	default:
		return 0, false
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// sToT drains the session and writes to the local connection T. Per spec
// §4.5, the rule is purely syntactic: a DATA-tagged chunk is payload and
// gets the tag stripped; anything else is a control/reply byte string
// forwarded verbatim.
func sToT(ctx context.Context, t net.Conn, s *session.Session) error {
	for {
		chunk, err := s.ReceiveChunk(ctx)
		if err != nil {
			return err
		}
		out := chunk
		if payload, ok := session.IsData(chunk); ok {
			out = payload
		}
		if _, err := t.Write(out); err != nil {
			return err
		}
	}
}
