package carrier

import (
	"os"
	"testing"
)

func TestFolderBindingSendFetchDelete(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	uid, err := b.Send("cid1", "rid1", 1, 0, []byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}

	uids, err := b.List(FilterFor("rid1", 1, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 1 || uids[0] != uid {
		t.Fatalf("expected [%s], got %v", uid, uids)
	}

	fl, payload, err := b.Fetch(uid)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("payload mismatch: %q", payload)
	}
	if fl.Sender != "cid1" || fl.Recipient != "rid1" || fl.Sid != 1 || fl.Seq != 0 {
		t.Fatalf("fields mismatch: %+v", fl)
	}

	if err := b.Delete(uid); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Fetch(uid); err == nil {
		t.Fatal("expected fetch after delete to fail")
	}
	// deleting twice must be idempotent (spec §4.1 failure semantics)
	if err := b.Delete(uid); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestFolderBindingBroadcastNotDeleted(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFolderBinding(dir)
	defer b.Close()

	uid, err := b.Send("rid1", Any, 0, 0, []byte("announce"))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(uid); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Fetch(uid); err != nil {
		t.Fatalf("broadcast blob must survive Delete(), got %v", err)
	}
}

func TestFolderBindingCapabilities(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFolderBinding(dir)
	defer b.Close()

	if err := b.PublishCapabilities("rid1", []string{"socks", "socks5"}); err != nil {
		t.Fatal(err)
	}
	rids, err := b.ListCapabilities()
	if err != nil || len(rids) != 1 || rids[0] != "rid1" {
		t.Fatalf("ListCapabilities = %v, %v", rids, err)
	}
	names, err := b.Capabilities("rid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "socks" || names[1] != "socks5" {
		t.Fatalf("Capabilities = %v", names)
	}

	if err := b.RemoveCapabilities("rid1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Capabilities("rid1"); err == nil {
		t.Fatal("expected capabilities lookup to fail after removal")
	}
}

func TestFolderBindingAtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFolderBinding(dir)
	defer b.Close()

	if _, err := b.Send("cid1", "rid1", 1, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if len(e.Name()) > 0 && e.Name()[0] == '.' {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
