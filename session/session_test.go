package session

import (
	"context"
	"testing"
	"time"

	"github.com/anywire/anywire/carrier"
)

func newTestPair(t *testing.T) (client, server *Session) {
	t.Helper()
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { binding.Close() })
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)
	client = New(binding, p, "cid1", "rid1", 7)
	server = New(binding, p, "rid1", "cid1", 7)
	return client, server
}

func TestSessionRoundTripSmallPayload(t *testing.T) {
	client, server := newTestPair(t)
	if err := client.Send([]byte("Hello world!")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := server.ReceiveChunk(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestSessionOrderedSeqNoGapsNoRepeats(t *testing.T) {
	client, server := newTestPair(t)
	want := []string{"a", "b", "c", "d"}
	for _, w := range want {
		if err := client.Send([]byte(w)); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, w := range want {
		got, err := server.ReceiveChunk(ctx)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if string(got) != w {
			t.Fatalf("chunk %d: got %q want %q", i, got, w)
		}
	}
}

func TestSessionChunkingBoundary(t *testing.T) {
	client, server := newTestPair(t)
	payload := make([]byte, 2*MaxChunk+123)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := client.Send(payload); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []byte
	for len(got) < len(payload) {
		chunk, err := server.ReceiveChunk(ctx)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk...)
	}
	if len(got) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestSessionCloseSignalsEOF(t *testing.T) {
	client, server := newTestPair(t)
	if err := client.Close(false); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := server.ReceiveChunk(ctx); err == nil {
		t.Fatal("expected receive after close to fail")
	}
}

func TestSessionSendAfterCloseFails(t *testing.T) {
	client, _ := newTestPair(t)
	client.Close(true)
	if err := client.Send([]byte("x")); err == nil {
		t.Fatal("expected send after close to error")
	}
}

func TestSessionBroadcastNeverDeletedAndDedupedOnReplay(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { binding.Close() })
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)

	// A broadcast chunk (recipient=ANY) bypasses Session.Send (which always
	// addresses s.remote); write it directly the way a capability-style
	// fan-out would.
	uid, err := binding.Send("rid1", carrier.Any, 9, 0, []byte("to-everyone"))
	if err != nil {
		t.Fatal(err)
	}

	server := New(binding, p, "cid1", "rid1", 9)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := server.ReceiveChunk(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "to-everyone" {
		t.Fatalf("got %q", got)
	}

	// Broadcast blobs must never be deleted: other listeners still need them.
	if _, _, err := binding.Fetch(uid); err != nil {
		t.Fatalf("broadcast blob was deleted: %v", err)
	}

	// Simulate the same uid resurfacing at the same seq (e.g. a session
	// re-polling after a recvSeq reset): the seen ledger must recognize it
	// and refuse to redeliver it, rather than handing the payload back out
	// a second time.
	server.recvSeq = 0
	payload, found, err := server.tryOnce()
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("expected already-seen broadcast uid to be suppressed, got payload %q", payload)
	}
}

func TestSessionBroadcastSeenLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { binding.Close() })
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)
	seenDBDir := t.TempDir()

	uid, err := binding.Send("rid1", carrier.Any, 9, 0, []byte("to-everyone"))
	if err != nil {
		t.Fatal(err)
	}

	// "Process 1" observes and records the broadcast uid.
	first := New(binding, p, "cid1", "rid1", 9)
	first.SetSeenDBDir(seenDBDir)
	if _, _, err := first.tryOnce(); err != nil {
		t.Fatal(err)
	}
	if err := first.seen.Close(); err != nil {
		t.Fatal(err)
	}

	// "Process 2" is a brand-new Session (simulating a restart: recvSeq
	// starts back at 0), pointed at the same seenDBDir. It must still
	// recognize uid as already processed rather than redelivering it.
	second := New(binding, p, "cid1", "rid1", 9)
	second.SetSeenDBDir(seenDBDir)
	payload, found, err := second.tryOnce()
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("expected uid %s to be recognized as already-seen across restart, got payload %q", uid, payload)
	}
}

func TestSessionZeroSidNeverSendsCloseSentinel(t *testing.T) {
	dir := t.TempDir()
	binding, _ := carrier.NewFolderBinding(dir)
	defer binding.Close()
	p := carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)
	disco := New(binding, p, "cid1", "rid1", 0)
	if err := disco.Close(false); err != nil {
		t.Fatal(err)
	}
	uids, err := binding.List(carrier.FilterFor("rid1", 0, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 0 {
		t.Fatalf("sid=0 session must not emit a close sentinel, found %v", uids)
	}
}
