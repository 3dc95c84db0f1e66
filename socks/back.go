package socks

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/metrics"
	"github.com/anywire/anywire/peer"
	"github.com/anywire/anywire/session"
)

// Socks4Backend is C6 for the capability "socks": it parses a SOCKS4/4a
// handshake off a freshly opened session, dials the requested origin, and
// bridges bytes (spec §4.6).
type Socks4Backend struct{ peer.NopRPC }

func (Socks4Backend) Name() string { return CapabilitySocks4 }

func (Socks4Backend) Start(ctx context.Context, s *session.Session) {
	defer s.Close(false)

	if _, err := s.ReceiveByte(ctx); err != nil { // VER, always 4
		return
	}
	cmd, err := s.ReceiveByte(ctx)
	if err != nil {
		return
	}
	portHi, err := s.ReceiveByte(ctx)
	if err != nil {
		return
	}
	portLo, err := s.ReceiveByte(ctx)
	if err != nil {
		return
	}
	var ip [4]byte
	for i := range ip {
		b, err := s.ReceiveByte(ctx)
		if err != nil {
			return
		}
		ip[i] = b
	}
	if _, err := readNulTerminated(ctx, s); err != nil { // USERID, unused
		return
	}

	var addr string
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		domain, err := readNulTerminated(ctx, s)
		if err != nil {
			return
		}
		addr = string(domain)
	} else {
		addr = net.IP(ip[:]).String()
	}
	port := int(portHi)<<8 | int(portLo)

	if cmd != 1 {
		replySocks4(s, Socks4Rejected) // BIND (2) unimplemented, anything else malformed
		return
	}

	origin, err := net.Dial("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		nlog.Infof("socks4: dial %s:%d: %v", addr, port, err)
		replySocks4(s, Socks4CannotConnect)
		return
	}
	defer origin.Close()

	if err := replySocks4(s, Socks4Granted); err != nil {
		return
	}
	bridge(ctx, s, origin, CapabilitySocks4)
}

func replySocks4(s *session.Session, code byte) error {
	return s.Send([]byte{0x00, code, 0, 0, 0, 0, 0, 0})
}

func readNulTerminated(ctx context.Context, s *session.Session) ([]byte, error) {
	var out []byte
	for {
		b, err := s.ReceiveByte(ctx)
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return out, nil
		}
		out = append(out, b)
	}
}

// Socks5Backend is C6 for the capability "socks5" (spec §4.6).
type Socks5Backend struct{ peer.NopRPC }

func (Socks5Backend) Name() string { return CapabilitySocks5 }

func (Socks5Backend) Start(ctx context.Context, s *session.Session) {
	defer s.Close(false)

	ver, err := s.ReceiveByte(ctx)
	if err != nil || ver != 0x05 {
		s.Send([]byte{0x05, 0xff})
		return
	}
	nmethods, err := s.ReceiveByte(ctx)
	if err != nil {
		return
	}
	methods := make([]byte, nmethods)
	for i := range methods {
		if methods[i], err = s.ReceiveByte(ctx); err != nil {
			return
		}
	}

	switch {
	case containsByte(methods, 0x00):
		if err := s.Send([]byte{0x05, 0x00}); err != nil {
			return
		}
	case containsByte(methods, 0x02):
		if err := s.Send([]byte{0x05, 0x02}); err != nil {
			return
		}
		if err := consumeAuthStub(ctx, s); err != nil {
			return
		}
	default:
		s.Send([]byte{0x05, 0xff})
		return
	}

	req, err := readSocks5Request(ctx, s)
	if err != nil {
		return
	}
	if req.cmd == 2 || req.cmd == 3 { // BIND / UDP ASSOCIATE: not supported
		reply := append([]byte(nil), req.raw...)
		reply[1] = Socks5StatusCmdNotSupported
		s.Send(reply)
		return
	}
	if req.cmd != 1 {
		reply := append([]byte(nil), req.raw...)
		reply[1] = Socks5StatusGeneralFailure
		s.Send(reply)
		return
	}

	origin, err := net.Dial("tcp", fmt.Sprintf("%s:%d", req.addr, req.port))
	reply := append([]byte(nil), req.raw...)
	if err != nil {
		nlog.Infof("socks5: dial %s:%d: %v", req.addr, req.port, err)
		reply[1] = dialFailureStatus(err)
		s.Send(reply)
		return
	}
	defer origin.Close()

	reply[1] = Socks5StatusOK
	if err := s.Send(reply); err != nil {
		return
	}
	bridge(ctx, s, origin, CapabilitySocks5)
}

func dialFailureStatus(err error) byte {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "refused"):
		return Socks5StatusConnRefused
	case strings.Contains(msg, "unreachable"):
		return Socks5StatusHostUnreachable
	default:
		return Socks5StatusGeneralFailure
	}
}

func containsByte(bs []byte, want byte) bool {
	for _, b := range bs {
		if b == want {
			return true
		}
	}
	return false
}

// consumeAuthStub reads one RFC1929 username/password sub-message and
// accepts it unconditionally, per spec §4.6 "stub: accept any".
func consumeAuthStub(ctx context.Context, s *session.Session) error {
	if _, err := s.ReceiveByte(ctx); err != nil { // auth VER
		return err
	}
	ulen, err := s.ReceiveByte(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < int(ulen); i++ {
		if _, err := s.ReceiveByte(ctx); err != nil {
			return err
		}
	}
	plen, err := s.ReceiveByte(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < int(plen); i++ {
		if _, err := s.ReceiveByte(ctx); err != nil {
			return err
		}
	}
	return s.Send([]byte{0x01, 0x00}) // auth VER=1, STATUS=success
}

type socks5Request struct {
	raw  []byte
	cmd  byte
	addr string
	port int
}

func readSocks5Request(ctx context.Context, s *session.Session) (*socks5Request, error) {
	hdr := make([]byte, 4)
	for i := range hdr {
		b, err := s.ReceiveByte(ctx)
		if err != nil {
			return nil, err
		}
		hdr[i] = b
	}
	ver, cmd, _, atyp := hdr[0], hdr[1], hdr[2], hdr[3]
	if ver != 0x05 {
		return nil, fmt.Errorf("socks5: bad request version %d", ver)
	}

	var addrBytes []byte
	var addr string
	switch atyp {
	case 0x01:
		addrBytes = make([]byte, 4)
		for i := range addrBytes {
			b, err := s.ReceiveByte(ctx)
			if err != nil {
				return nil, err
			}
			addrBytes[i] = b
		}
		addr = net.IP(addrBytes).String()
	case 0x04:
		addrBytes = make([]byte, 16)
		for i := range addrBytes {
			b, err := s.ReceiveByte(ctx)
			if err != nil {
				return nil, err
			}
			addrBytes[i] = b
		}
		addr = net.IP(addrBytes).String()
	case 0x03:
		dlen, err := s.ReceiveByte(ctx)
		if err != nil {
			return nil, err
		}
		domain := make([]byte, dlen)
		for i := range domain {
			b, err := s.ReceiveByte(ctx)
			if err != nil {
				return nil, err
			}
			domain[i] = b
		}
		addrBytes = append([]byte{dlen}, domain...)
		addr = string(domain)
	default:
		return nil, fmt.Errorf("socks5: unknown ATYP %d", atyp)
	}

	portBytes := make([]byte, 2)
	for i := range portBytes {
		b, err := s.ReceiveByte(ctx)
		if err != nil {
			return nil, err
		}
		portBytes[i] = b
	}
	port := int(portBytes[0])<<8 | int(portBytes[1])

	raw := append([]byte(nil), hdr...)
	raw = append(raw, addrBytes...)
	raw = append(raw, portBytes...)
	return &socks5Request{raw: raw, cmd: cmd, addr: addr, port: port}, nil
}

// bridge runs after a successful CONNECT reply: bytes from the origin are
// DATA-tagged and sent to the session; DATA-tagged chunks from the session
// are written to the origin. Any payload the front-end folded into the
// same chunk as the handshake (session.DrainCarry) is forwarded first.
func bridge(ctx context.Context, s *session.Session, origin net.Conn, capability string) {
	rid := s.Local()
	if leftover := s.DrainCarry(); len(leftover) > 0 {
		origin.Write(leftover)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buf := make([]byte, BlockSize)
		for {
			n, err := origin.Read(buf)
			if n > 0 {
				if serr := s.Send(session.EncodeData(buf[:n])); serr != nil {
					return serr
				}
				metrics.ChunksSent.WithLabelValues(rid, capability).Inc()
				metrics.BytesSent.WithLabelValues(rid, capability).Add(float64(n))
			}
			if err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		for {
			chunk, err := s.ReceiveChunk(gctx)
			if err != nil {
				return err
			}
			payload, ok := session.IsData(chunk)
			if !ok {
				continue
			}
			metrics.ChunksReceived.WithLabelValues(rid, capability).Inc()
			metrics.BytesReceived.WithLabelValues(rid, capability).Add(float64(len(payload)))
			if _, err := origin.Write(payload); err != nil {
				return err
			}
		}
	})
	g.Wait()
}
