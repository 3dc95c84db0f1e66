package socks

// The front-end's SOCKS5 micro-state (spec §4.5): it needs to know, from
// the raw bytes read off the local TCP connection so far, whether the
// current handshake sub-message is complete, so it can flush exactly that
// many bytes as one untagged control chunk and let any trailing bytes
// (payload the client pipelined right behind its handshake) start the
// next, DATA-tagged chunk instead of being glued onto the control one.

type stage int

const (
	stageMethodSelect stage = iota // awaiting [VER][NMETHODS][METHODS...]
	stageAuth                      // awaiting RFC1929 user/pass sub-message (stub)
	stageRequest                   // awaiting [VER][CMD][RSV][ATYP][ADDR][PORT]
	stageData                      // handshake complete; everything is payload
)

// methodSelectWant reports the total byte count of a complete SOCKS5
// method-selection header once buf is long enough to know it.
func methodSelectWant(buf []byte) (want int, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	want = 2 + int(buf[1])
	return want, len(buf) >= want
}

// nextStageAfterMethodSelect inspects a complete method-selection header
// and decides whether the auth sub-negotiation stage follows, per spec
// §4.5 ("If METHODS contains 0x00, advance to 10; if 0x02, advance to 9").
func nextStageAfterMethodSelect(buf []byte) stage {
	n := int(buf[1])
	methods := buf[2 : 2+n]
	for _, m := range methods {
		if m == 0x00 {
			return stageRequest
		}
	}
	for _, m := range methods {
		if m == 0x02 {
			return stageAuth
		}
	}
	return stageData // no acceptable method; back-end will refuse and close
}

// authWant reports the total byte count of a complete RFC1929 user/pass
// sub-message: [VER][ULEN][UNAME][PLEN][PASSWD].
func authWant(buf []byte) (want int, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	ulen := int(buf[1])
	if len(buf) < 2+ulen+1 {
		return 0, false
	}
	plen := int(buf[2+ulen])
	want = 2 + ulen + 1 + plen
	return want, len(buf) >= want
}

// requestWant reports the total byte count of a complete SOCKS5 request
// header: [VER][CMD][RSV][ATYP][ADDR][PORT].
func requestWant(buf []byte) (want int, ok bool) {
	if len(buf) < 4 {
		return 0, false
	}
	switch buf[3] {
	case 0x01: // IPv4
		want = 4 + 4 + 2
	case 0x04: // IPv6
		want = 4 + 16 + 2
	case 0x03: // domain, length-prefixed
		if len(buf) < 5 {
			return 0, false
		}
		want = 5 + int(buf[4]) + 2
	default:
		// unknown ATYP: can't compute a length; let the back-end's own
		// byte-at-a-time parser surface the protocol violation instead
		// of guessing a boundary here.
		return len(buf), true
	}
	return want, len(buf) >= want
}
