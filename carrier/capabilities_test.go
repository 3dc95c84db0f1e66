package carrier

import "testing"

func TestDecodeCapabilitiesRoundTrip(t *testing.T) {
	body := encodeCapabilities([]string{"socks", "socks5"})
	names, err := decodeCapabilities(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "socks" || names[1] != "socks5" {
		t.Fatalf("got %v", names)
	}
}

func TestDecodeCapabilitiesEmptyBody(t *testing.T) {
	names, err := decodeCapabilities(nil)
	if err != nil || names != nil {
		t.Fatalf("got %v, %v", names, err)
	}
}

func TestDecodeCapabilitiesRejectsUnknownVersion(t *testing.T) {
	_, err := decodeCapabilities([]byte(`{"v":2,"names":["socks"]}`))
	if err == nil {
		t.Fatal("expected an error for an unsupported record version")
	}
}
