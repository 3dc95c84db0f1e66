package peer

import (
	"context"
	"testing"
	"time"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/session"
)

type echoAction struct {
	NopRPC
	started chan *session.Session
}

func (a *echoAction) Name() string { return "echo" }

func (a *echoAction) Start(ctx context.Context, s *session.Session) {
	a.started <- s
	for {
		chunk, err := s.ReceiveChunk(ctx)
		if err != nil {
			return
		}
		if err := s.Send(chunk); err != nil {
			return
		}
	}
}

func newTestServer(t *testing.T, binding carrier.Binding, p *carrier.Poller, rid string) *Server {
	t.Helper()
	srv := NewServer(binding, p, rid)
	return srv
}

func TestOpenSessionUnknownCapabilityReturnsError(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Close()
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)

	srv := newTestServer(t, binding, p, "rid1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.ServeForever(ctx)

	cl := NewClient(binding, p, "cid1")
	if _, err := cl.OpenSession(ctx, "rid1", "nosuchcap"); err == nil {
		t.Fatal("expected ServiceNotKnown error")
	}
}

func TestOpenSessionKnownCapabilityEchoesData(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Close()
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)

	srv := newTestServer(t, binding, p, "rid1")
	echo := &echoAction{started: make(chan *session.Session, 1)}
	srv.RegisterCapability(echo)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go srv.ServeForever(ctx)

	cl := NewClient(binding, p, "cid1")
	s, err := cl.OpenSession(ctx, "rid1", "echo")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReceiveChunk(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q", got)
	}
}

func TestListServersAndCapabilities(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Close()
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)

	srv := newTestServer(t, binding, p, "rid1")
	srv.RegisterCapability(&echoAction{started: make(chan *session.Session, 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.ServeForever(ctx)
	time.Sleep(20 * time.Millisecond) // let the first publish land

	cl := NewClient(binding, p, "cid1")
	rids, err := cl.ListServers()
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 1 || rids[0] != "rid1" {
		t.Fatalf("ListServers = %v", rids)
	}
	names, err := cl.Capabilities("rid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "echo" {
		t.Fatalf("Capabilities = %v", names)
	}
}

func TestRpcDispatchToServerMethod(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Close()
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)

	srv := newTestServer(t, binding, p, "rid1")
	srv.RegisterMethod("ping", func(args []string) ([]byte, error) {
		return []byte("pong"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.ServeForever(ctx)

	cl := NewClient(binding, p, "cid1")
	out, err := cl.Call(ctx, "rid1", "server", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "pong" {
		t.Fatalf("got %q", out)
	}
}
