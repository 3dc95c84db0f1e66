// Package socks implements C5 (the local SOCKS4/4a/5 front-end listener)
// and C6 (the server-side back-end action that parses the handshake and
// bridges to an origin TCP socket), per spec §4.5/§4.6.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package socks

import "time"

const (
	// BlockSize is the front-end's default read quantum off the local
	// TCP connection (spec §4.5).
	BlockSize = 1024
	// DataTimeout bounds how long the front-end buffers inbound bytes
	// waiting for more before flushing what it has as one chunk.
	DataTimeout = 20 * time.Millisecond
)

// Capability names a SOCKS back-end is opened under (spec §4.5/§6).
const (
	CapabilitySocks4 = "socks"
	CapabilitySocks5 = "socks5"
)

// SOCKS5 reply status codes (spec §4.6).
const (
	Socks5StatusOK                 = 0x00
	Socks5StatusGeneralFailure     = 0x01
	Socks5StatusNetworkUnreachable = 0x03
	Socks5StatusHostUnreachable    = 0x04
	Socks5StatusConnRefused        = 0x05
	Socks5StatusCmdNotSupported    = 0x07
)

// SOCKS4 reply codes (spec §4.6).
const (
	Socks4Granted       = 0x5a
	Socks4Rejected      = 0x5b
	Socks4CannotConnect = 0x5c
)
