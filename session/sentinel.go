// Package session implements C2: an ordered, chunked, bidirectional byte
// stream between two named peers sharing a sid, built on top of carrier.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package session

import (
	"bytes"
	"fmt"
)

// Control sentinels (spec.md §3): literal byte strings that MUST be
// reproduced exactly on the wire for interoperability with any other
// implementation of this protocol. Per the "Tagged control messages via
// byte-string sentinels" Design Note, these are parsed here via an
// explicit tagged-union decoder (Kind + fields) rather than the original's
// chain of bytes.startswith(...) checks, while still emitting the exact
// literal bytes a startswith-based peer expects.
const (
	OpenPrefix    = "MessageOutsideCommunication:PleaseStartASession:"
	CloseSentinel = "MessageInCommunication:PleaseCloseTheSession"
	StopServer    = "MessageOutsideSession:StopServer"
	RpcPrefix     = "GenericMessageFor:"
	ErrorPrefix   = "Error:"
	// DataTag marks a SOCKS tunneling payload chunk, as opposed to a
	// control message, per spec §3/§4.5/§4.6.
	DataTag = "DATA"
)

// rpcSep is the delimiter byte used to encode GenericMessageFor: messages.
// The original picks whatever byte isn't present in the fields and reads
// it back via data[-1]; we fix it at 0x1F (ASCII unit separator), which
// cannot appear in any of our [A-Za-z0-9._-] identifiers or shell-safe
// RPC arguments.
const rpcSep = 0x1F

type Kind int

const (
	KindData Kind = iota
	KindOpen
	KindClose
	KindStop
	KindRpc
	KindError
)

// Msg is the decoded form of one control-or-data message read off a
// discovery session or delivered as a session chunk.
type Msg struct {
	Kind       Kind
	Capability string   // KindOpen
	Target     string   // KindRpc
	Method     string   // KindRpc
	Args       []string // KindRpc
	Reason     string   // KindError
	Data       []byte   // KindData: the raw payload, tag stripped
}

// Decode classifies a raw chunk payload into its control meaning. Session
// payloads that don't match any sentinel are KindData.
func Decode(raw []byte) Msg {
	switch {
	case bytes.HasPrefix(raw, []byte(OpenPrefix)):
		return Msg{Kind: KindOpen, Capability: string(raw[len(OpenPrefix):])}
	case bytes.Equal(raw, []byte(CloseSentinel)):
		return Msg{Kind: KindClose}
	case bytes.Equal(raw, []byte(StopServer)):
		return Msg{Kind: KindStop}
	case bytes.HasPrefix(raw, []byte(RpcPrefix)):
		return decodeRpc(raw)
	case bytes.HasPrefix(raw, []byte(ErrorPrefix)):
		return Msg{Kind: KindError, Reason: string(raw[len(ErrorPrefix):])}
	default:
		return Msg{Kind: KindData, Data: raw}
	}
}

func decodeRpc(raw []byte) Msg {
	if len(raw) == 0 {
		return Msg{Kind: KindRpc}
	}
	sep := raw[len(raw)-1:]
	parts := bytes.Split(raw, sep)
	// parts[0] == RpcPrefix itself; parts[1]=target, parts[2]=method,
	// parts[3:]=args (with a trailing empty element from the closing sep).
	if len(parts) < 3 {
		return Msg{Kind: KindRpc}
	}
	m := Msg{Kind: KindRpc, Target: string(parts[1]), Method: string(parts[2])}
	for _, a := range parts[3:] {
		if len(a) == 0 {
			continue
		}
		m.Args = append(m.Args, string(a))
	}
	return m
}

func EncodeOpen(capability string) []byte {
	return []byte(OpenPrefix + capability)
}

func EncodeClose() []byte { return []byte(CloseSentinel) }

func EncodeStop() []byte { return []byte(StopServer) }

func EncodeError(reason string) []byte { return []byte(ErrorPrefix + reason) }

func EncodeRpc(target, method string, args ...string) []byte {
	sep := string(rune(rpcSep))
	buf := bytes.NewBufferString(RpcPrefix)
	buf.WriteString(sep)
	buf.WriteString(target)
	buf.WriteString(sep)
	buf.WriteString(method)
	for _, a := range args {
		buf.WriteString(sep)
		buf.WriteString(a)
	}
	buf.WriteString(sep)
	return buf.Bytes()
}

func EncodeData(payload []byte) []byte {
	out := make([]byte, 0, len(DataTag)+len(payload))
	out = append(out, DataTag...)
	out = append(out, payload...)
	return out
}

// IsData reports whether raw carries a DATA-tagged SOCKS payload, and
// returns the payload with the tag stripped.
func IsData(raw []byte) (payload []byte, ok bool) {
	if bytes.HasPrefix(raw, []byte(DataTag)) {
		return raw[len(DataTag):], true
	}
	return nil, false
}

func (m Msg) String() string {
	switch m.Kind {
	case KindOpen:
		return fmt.Sprintf("open(%s)", m.Capability)
	case KindClose:
		return "close"
	case KindStop:
		return "stop"
	case KindRpc:
		return fmt.Sprintf("rpc(%s.%s%v)", m.Target, m.Method, m.Args)
	case KindError:
		return "error(" + m.Reason + ")"
	default:
		return fmt.Sprintf("data(%dB)", len(m.Data))
	}
}
