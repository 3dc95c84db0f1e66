// Package carrier implements C1, the blob transport abstraction: a
// symmetric named-blob channel over a shared store-and-forward medium
// (filesystem folder, FTP directory, IMAP mailbox, or an S3-compatible
// bucket). Every binding honors the same contract so the session and peer
// layers above never know which medium they're riding.
//
// The design follows the "Dynamic dispatch by class hierarchy" note in
// spec.md §9: instead of a deep inheritance tree per medium (the original
// Python's CommunicationSession -> FolderCommunicationSession -> ...), a
// binding is a flat capability set — send/list/fetch/delete/close — and
// new mediums are new values of that set, not new types in a chain.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package carrier

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/anywire/anywire/cmn/cos"
	"github.com/anywire/anywire/cmn/debug"
)

var capJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// capabilityRecord is the body every binding's capability record holds
// (spec §4.3 PublishCapabilities). Version lets a future incompatible
// record shape be rejected before Names is even parsed.
type capabilityRecord struct {
	Version int      `json:"v"`
	Names   []string `json:"names"`
}

const capabilityRecordVersion = 1

// encodeCapabilities is the PublishCapabilities body every binding writes.
func encodeCapabilities(names []string) []byte {
	body, err := capJSON.Marshal(capabilityRecord{Version: capabilityRecordVersion, Names: names})
	debug.AssertNoErr(err) // a []string literally cannot fail to marshal
	return body
}

// decodeCapabilities is the Capabilities/ListCapabilities-record counterpart
// to encodeCapabilities. An empty body (never written by this binding,
// possibly left over from an older record shape) decodes to no names rather
// than an error.
func decodeCapabilities(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var rec capabilityRecord
	if err := capJSON.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode capability record: %w", err)
	}
	if rec.Version != capabilityRecordVersion {
		return nil, fmt.Errorf("capability record: unsupported version %d (want %d)", rec.Version, capabilityRecordVersion)
	}
	return rec.Names, nil
}

const (
	// Recipient value meaning "deliverable to every lister" (spec §3 Blob).
	Any = "ANY"
)

type (
	// Fields are the blob's metadata, decoded from whatever naming schema
	// the binding uses (see §6 EXTERNAL INTERFACES for the reference
	// filesystem/IMAP schemas).
	Fields struct {
		Sender    string
		Recipient string
		Sid       uint64
		Seq       uint64
	}

	// Filter selects a subset of blobs during List; nil fields are
	// wildcards. Recipient is matched either exactly or against Any,
	// per spec §4.1 "recipient=ANY blobs are returned to every lister".
	Filter struct {
		Sender    *string
		Recipient *string
		Sid       *uint64
		Seq       *uint64
	}

	// Binding is the capability set a medium must provide. Implementations:
	// folder.go, ftp.go, imap.go, s3.go.
	Binding interface {
		// Send writes a blob atomically and returns its uid.
		Send(sender, recipient string, sid, seq uint64, payload []byte) (uid string, err error)
		// List returns uids of blobs matching filter, in no defined order.
		List(filter Filter) ([]string, error)
		// Fetch retrieves a blob's fields and payload without removing it.
		Fetch(uid string) (Fields, []byte, error)
		// Delete removes a blob. Deleting an already-deleted or broadcast
		// (recipient=Any) uid is a no-op, never an error (idempotent).
		Delete(uid string) error
		// PublishCapabilities overwrites the capability record for rid.
		PublishCapabilities(rid string, names []string) error
		// ListCapabilities returns the rids with a live capability record.
		ListCapabilities() ([]string, error)
		// Capabilities returns the capability names advertised by rid.
		Capabilities(rid string) ([]string, error)
		// RemoveCapabilities deletes rid's capability record (graceful stop).
		RemoveCapabilities(rid string) error
		// Close releases any resources the binding holds (connections, etc).
		Close() error
	}
)

func (f Filter) matches(fl Fields) bool {
	if f.Sender != nil && *f.Sender != fl.Sender {
		return false
	}
	if f.Recipient != nil && *f.Recipient != fl.Recipient && fl.Recipient != Any {
		return false
	}
	if f.Sid != nil && *f.Sid != fl.Sid {
		return false
	}
	if f.Seq != nil && *f.Seq != fl.Seq {
		return false
	}
	return true
}

func ptrS(s string) *string { return &s }
func ptrU(u uint64) *uint64 { return &u }

// FilterFor builds the common case: messages addressed to me (or broadcast)
// on a given session, optionally pinned to an exact seq.
func FilterFor(recipient string, sid uint64, seq *uint64) Filter {
	f := Filter{Recipient: ptrS(recipient), Sid: ptrU(sid)}
	if seq != nil {
		f.Seq = ptrU(*seq)
	}
	return f
}

func validate(sender, recipient string) error {
	if !cos.ValidID(sender) {
		return fmt.Errorf("%w: sender %q", errBadID, sender)
	}
	if recipient != Any && !cos.ValidID(recipient) {
		return fmt.Errorf("%w: recipient %q", errBadID, recipient)
	}
	return nil
}
