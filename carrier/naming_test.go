package carrier

import "testing"

func TestEncodeDecodeBlobName(t *testing.T) {
	f := Fields{Sender: "cid1", Recipient: "rid1", Sid: 7, Seq: 42}
	name := encodeBlobName(f)
	if name != "cid1,rid1,7,42.bin" {
		t.Fatalf("unexpected name: %s", name)
	}
	got, ok := decodeBlobName(name)
	if !ok {
		t.Fatalf("decode failed for %s", name)
	}
	if got != f {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, f)
	}
}

func TestDecodeBlobNameRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"not-a-blob.bin", "a,b,c.bin", "a,b,c,d,e.bin", "a,b,c,d.txt"} {
		if _, ok := decodeBlobName(bad); ok {
			t.Fatalf("expected decode to reject %q", bad)
		}
	}
}

func TestCapaNameRoundtrip(t *testing.T) {
	name := capaName("rid1")
	rid, ok := ridFromCapaName(name)
	if !ok || rid != "rid1" {
		t.Fatalf("capability name roundtrip failed: %s -> %s,%v", name, rid, ok)
	}
}

func TestFilterMatchesBroadcast(t *testing.T) {
	f := FilterFor("cid1", 3, nil)
	if !f.matches(Fields{Sender: "rid1", Recipient: Any, Sid: 3, Seq: 0}) {
		t.Fatal("broadcast blob should match any recipient filter")
	}
	if f.matches(Fields{Sender: "rid1", Recipient: "other", Sid: 3, Seq: 0}) {
		t.Fatal("unicast blob to a different recipient should not match")
	}
}
