// Package cos provides the low-level types shared by every anywire package:
// the §7 error taxonomy, identifier validation, and uid generation.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package cos

import (
	"errors"
	"fmt"
	"sync"
)

// Error kinds from spec §7. Each is a distinct type (not a sentinel value)
// so callers can carry the offending name/reason; classification is by
// type-switch or the Is* helpers below, the way aistore/cmn/cos does it
// for its own error zoo.
type (
	// ErrTransportTransient: the medium is momentarily unavailable; the
	// polling loop retries it and logs at INFO.
	ErrTransportTransient struct{ Cause error }

	// ErrTransportFatal: the medium rejects credentials or is misconfigured.
	ErrTransportFatal struct{ Reason string }

	// ErrProtocolViolation: a blob/header that parses but is semantically
	// impossible (bad seq, bad SOCKS version, unknown ATYP).
	ErrProtocolViolation struct{ Reason string }

	// ErrSessionClosed: the peer is gone; receive_chunk returns ∅.
	ErrSessionClosed struct{ Sid uint64 }

	// ErrServiceNotKnown: the requested capability isn't registered.
	ErrServiceNotKnown struct{ Name string }

	// ErrDialError: origin socket dial failed (SOCKS back-end).
	ErrDialError struct{ Addr string; Cause error }

	// ErrNotFound: a blob/uid/record doesn't exist in the transport medium.
	ErrNotFound struct{ What string }
)

func (e *ErrTransportTransient) Error() string { return fmt.Sprintf("transport transient: %v", e.Cause) }
func (e *ErrTransportTransient) Unwrap() error  { return e.Cause }

func (e *ErrTransportFatal) Error() string { return "transport fatal: " + e.Reason }

func (e *ErrProtocolViolation) Error() string { return "protocol violation: " + e.Reason }

func (e *ErrSessionClosed) Error() string { return fmt.Sprintf("session %d closed", e.Sid) }

func (e *ErrServiceNotKnown) Error() string { return "ServiceNotKnown:" + e.Name }

func (e *ErrDialError) Error() string { return fmt.Sprintf("dial %s: %v", e.Addr, e.Cause) }
func (e *ErrDialError) Unwrap() error { return e.Cause }

func (e *ErrNotFound) Error() string { return e.What + " not found" }

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{What: fmt.Sprintf(format, a...)}
}

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

func IsErrSessionClosed(err error) bool {
	var e *ErrSessionClosed
	return errors.As(err, &e)
}

func IsErrTransportTransient(err error) bool {
	var e *ErrTransportTransient
	return errors.As(err, &e)
}

// Errs aggregates up to maxErrs distinct errors, deduplicated by message,
// the way aistore/cmn/cos.Errs does for multi-object operations; errors
// past the first maxErrs distinct ones are dropped.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}
