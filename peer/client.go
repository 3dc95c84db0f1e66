package peer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/cmn/cos"
	"github.com/anywire/anywire/session"
)

// Client is the "cid" side: it discovers servers, reads their capability
// records, and opens sessions against them.
//
// Every exchange with a given rid over the sid=0 discovery channel shares
// one underlying *session.Session (lazily created, cached per rid) rather
// than a fresh one per call. The channel is stateless in the sense that no
// framing survives across requests, but seq still has to climb 0,1,2,...
// in lockstep with the server's own per-cid reply counter (peer.Server),
// so the discovery session itself is long-lived; what's retired after each
// OpenSession is only the *capability* session handshake, never a second
// numbered session alongside the one just opened.
type Client struct {
	binding carrier.Binding
	poller  *carrier.Poller
	cid     string

	seenDBDir string // see WithSeenDBDir

	discoMu sync.Mutex
	disco   map[string]*discoChannel
}

type discoChannel struct {
	mu sync.Mutex
	s  *session.Session
}

func NewClient(binding carrier.Binding, poller *carrier.Poller, cid string) *Client {
	return &Client{binding: binding, poller: poller, cid: cid, disco: make(map[string]*discoChannel)}
}

// WithSeenDBDir makes every session this client opens remember broadcast
// uids in a file under dir instead of in memory, so they survive a process
// restart (session.Session.SetSeenDBDir).
func (c *Client) WithSeenDBDir(dir string) *Client {
	c.seenDBDir = dir
	return c
}

func (c *Client) discoveryFor(rid string) *discoChannel {
	c.discoMu.Lock()
	defer c.discoMu.Unlock()
	if d, ok := c.disco[rid]; ok {
		return d
	}
	s := session.New(c.binding, c.poller, c.cid, rid, 0)
	s.SetSeenDBDir(c.seenDBDir)
	d := &discoChannel{s: s}
	c.disco[rid] = d
	return d
}

// ListServers returns the rids currently advertising a capability record.
func (c *Client) ListServers() ([]string, error) {
	return c.binding.ListCapabilities()
}

// Capabilities returns the capability names rid advertises.
func (c *Client) Capabilities(rid string) ([]string, error) {
	return c.binding.Capabilities(rid)
}

func (c *Client) roundTrip(ctx context.Context, rid string, req []byte) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	d := c.discoveryFor(rid)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.s.Send(req); err != nil {
		return nil, err
	}
	return d.s.ReceiveChunk(ctx)
}

// OpenSession asks rid to start capability, and returns the session it
// assigns.
func (c *Client) OpenSession(ctx context.Context, rid, capability string) (*session.Session, error) {
	raw, err := c.roundTrip(ctx, rid, session.EncodeOpen(capability))
	if err != nil {
		return nil, err
	}
	msg := session.Decode(raw)
	if msg.Kind == session.KindError {
		return nil, &cos.ErrProtocolViolation{Reason: msg.Reason}
	}
	sid, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, &cos.ErrProtocolViolation{Reason: "open reply not a session id: " + string(raw)}
	}
	s := session.New(c.binding, c.poller, c.cid, rid, sid)
	s.SetSeenDBDir(c.seenDBDir)
	return s, nil
}

// Call issues one generic RPC (spec §4.3 GenericMessageFor) against rid's
// target (a capability name, or "server" for the server's own methods) and
// waits for the reply.
func (c *Client) Call(ctx context.Context, rid, target, method string, args ...string) ([]byte, error) {
	raw, err := c.roundTrip(ctx, rid, session.EncodeRpc(target, method, args...))
	if err != nil {
		return nil, err
	}
	msg := session.Decode(raw)
	if msg.Kind == session.KindError {
		return nil, &cos.ErrProtocolViolation{Reason: msg.Reason}
	}
	return raw, nil
}

// StopServer sends the StopServer sentinel to rid (spec §4.3 graceful stop).
func (c *Client) StopServer(rid string) error {
	d := c.discoveryFor(rid)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Send(session.EncodeStop())
}

// defaultDiscoveryTimeout bounds how long OpenSession/Call wait for a reply
// before giving up, when the caller hasn't already set a deadline on ctx.
const defaultDiscoveryTimeout = 30 * time.Second

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultDiscoveryTimeout)
}
