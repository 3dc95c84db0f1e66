package peer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/cmn/cos"
	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/metrics"
	"github.com/anywire/anywire/session"
)

// Server owns a capability map, a monotonic session-id allocator, and the
// set of sessions it has opened, and answers the sid=0 discovery channel
// (spec §4.3). A Server instance is the "rid" side of every exchange.
type Server struct {
	binding carrier.Binding
	poller  *carrier.Poller
	rid     string

	seenDBDir string // see WithSeenDBDir

	capMu   sync.RWMutex
	actions map[string]Action
	methods map[string]func(args []string) ([]byte, error)

	nextSid atomic.Uint64

	sessMu   sync.Mutex
	sessions map[uint64]*session.Session

	replyMu  sync.Mutex
	replySeq map[string]uint64 // per-cid send-seq on the discovery channel

	stopped atomic.Bool
}

// NewServer builds a server identified as rid over binding, polling at the
// pace poller dictates between empty discovery-channel reads.
func NewServer(binding carrier.Binding, poller *carrier.Poller, rid string) *Server {
	return &Server{
		binding:  binding,
		poller:   poller,
		rid:      rid,
		actions:  make(map[string]Action),
		methods:  make(map[string]func([]string) ([]byte, error)),
		sessions: make(map[uint64]*session.Session),
		replySeq: make(map[string]uint64),
	}
}

// WithSeenDBDir makes every session this server opens remember broadcast
// uids in a file under dir instead of in memory, so they survive a process
// restart (session.Session.SetSeenDBDir).
func (srv *Server) WithSeenDBDir(dir string) *Server {
	srv.seenDBDir = dir
	return srv
}

// RegisterCapability makes a.Name() openable by clients.
func (srv *Server) RegisterCapability(a Action) {
	srv.capMu.Lock()
	defer srv.capMu.Unlock()
	srv.actions[a.Name()] = a
}

// RegisterMethod exposes fn under target "server" for generic RPC calls
// (spec §4.3 "dispatch to self when target == server").
func (srv *Server) RegisterMethod(name string, fn func(args []string) ([]byte, error)) {
	srv.capMu.Lock()
	defer srv.capMu.Unlock()
	srv.methods[name] = fn
}

func (srv *Server) capabilityNames() []string {
	srv.capMu.RLock()
	defer srv.capMu.RUnlock()
	names := make([]string, 0, len(srv.actions))
	for name := range srv.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeForever publishes the capability record, then polls the discovery
// session until ctx is canceled or a StopServer sentinel arrives, dispatching
// Open and Rpc messages as they're observed. The capability record is
// republished every tick rather than once at start-up, so a record that is
// lost or removed from the medium while this server is alive is restored on
// the next tick.
func (srv *Server) ServeForever(ctx context.Context) error {
	defer func() {
		if err := srv.binding.RemoveCapabilities(srv.rid); err != nil {
			nlog.Warningf("peer %s: remove capability record on stop: %v", srv.rid, err)
		}
	}()

	for {
		if err := srv.binding.PublishCapabilities(srv.rid, srv.capabilityNames()); err != nil {
			nlog.Warningf("peer %s: publish capabilities: %v", srv.rid, err)
		}
		if err := srv.pollOnce(); err != nil {
			if srv.stopped.Load() {
				return nil
			}
			if carrier.IsTransient(err) {
				srv.poller.Backoff()
				if werr := srv.poller.Wait(ctx); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		srv.poller.Reset()
		if srv.stopped.Load() {
			return nil
		}
		if err := srv.poller.Wait(ctx); err != nil {
			return err
		}
	}
}

func (srv *Server) pollOnce() error {
	uids, err := srv.binding.List(carrier.FilterFor(srv.rid, 0, nil))
	if err != nil {
		return err
	}
	type req struct {
		uid    string
		fields carrier.Fields
		msg    session.Msg
	}
	reqs := make([]req, 0, len(uids))
	for _, uid := range uids {
		fields, raw, err := srv.binding.Fetch(uid)
		if err != nil {
			if cos.IsErrNotFound(err) {
				continue
			}
			return err
		}
		reqs = append(reqs, req{uid, fields, session.Decode(raw)})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].fields.Seq < reqs[j].fields.Seq })

	for _, r := range reqs {
		srv.handleDiscovery(r.fields, r.msg)
		if err := srv.binding.Delete(r.uid); err != nil {
			nlog.Warningf("peer %s: delete consumed discovery blob %s: %v", srv.rid, r.uid, err)
		}
	}
	return nil
}

func (srv *Server) handleDiscovery(fields carrier.Fields, msg session.Msg) {
	cid := fields.Sender
	switch msg.Kind {
	case session.KindOpen:
		srv.handleOpen(cid, msg.Capability)
	case session.KindRpc:
		srv.handleRpc(cid, msg)
	case session.KindStop:
		nlog.Infof("peer %s: received StopServer from %s", srv.rid, cid)
		srv.stopped.Store(true)
	default:
		nlog.Warningf("peer %s: unexpected discovery message from %s: %s", srv.rid, cid, msg)
	}
}

func (srv *Server) handleOpen(cid, capability string) {
	srv.capMu.RLock()
	action, known := srv.actions[capability]
	srv.capMu.RUnlock()
	if !known {
		srv.reply(cid, session.EncodeError("ServiceNotKnown:"+capability))
		return
	}
	sid := srv.nextSid.Add(1)
	s := session.New(srv.binding, srv.poller, srv.rid, cid, sid)
	s.SetSeenDBDir(srv.seenDBDir)
	srv.sessMu.Lock()
	srv.sessions[sid] = s
	srv.sessMu.Unlock()

	srv.reply(cid, []byte(strconv.FormatUint(sid, 10)))

	metrics.SessionOpened(srv.rid, capability)
	go func() {
		defer func() {
			srv.sessMu.Lock()
			delete(srv.sessions, sid)
			srv.sessMu.Unlock()
			metrics.SessionClosed(srv.rid, capability)
		}()
		action.Start(context.Background(), s)
	}()
}

func (srv *Server) handleRpc(cid string, msg session.Msg) {
	var (
		out []byte
		err error
	)
	if msg.Target == "server" {
		srv.capMu.RLock()
		fn, known := srv.methods[msg.Method]
		srv.capMu.RUnlock()
		if !known {
			err = fmt.Errorf("unknown server method: %s", msg.Method)
		} else {
			out, err = fn(msg.Args)
		}
	} else {
		srv.capMu.RLock()
		action, known := srv.actions[msg.Target]
		srv.capMu.RUnlock()
		if !known {
			err = fmt.Errorf("unknown capability: %s", msg.Target)
		} else {
			out, err = action.Call(msg.Method, msg.Args)
		}
	}
	if err != nil {
		srv.reply(cid, session.EncodeError(err.Error()))
		return
	}
	srv.reply(cid, out)
}

func (srv *Server) reply(cid string, payload []byte) {
	srv.replyMu.Lock()
	seq := srv.replySeq[cid]
	srv.replySeq[cid] = seq + 1
	srv.replyMu.Unlock()

	if _, err := srv.binding.Send(srv.rid, cid, 0, seq, payload); err != nil {
		nlog.Warningf("peer %s: reply to %s: %v", srv.rid, cid, err)
	}
}
