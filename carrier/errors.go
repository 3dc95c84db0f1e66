package carrier

import (
	"errors"

	"github.com/anywire/anywire/cmn/cos"
)

var (
	errBadID  = errors.New("invalid identifier")
	errBadUID = errors.New("invalid uid")
)

// errTransient wraps a medium error that the poller should retry rather
// than surface, per spec §7 TransportTransient.
type errTransient struct{ cause error }

func (e *errTransient) Error() string { return "transport transient: " + e.cause.Error() }
func (e *errTransient) Unwrap() error { return e.cause }

// IsTransient reports whether err is a TransportTransient failure (spec §7):
// the medium is momentarily unavailable and the caller's polling loop should
// back off and retry rather than give up. session.Session.ReceiveChunk and
// peer.Server.ServeForever key off this to choose between Poller.Backoff
// and Poller.Reset.
func IsTransient(err error) bool {
	var e *errTransient
	return errors.As(err, &e)
}

func notFoundErr(what string) error { return cos.NewErrNotFound("blob %s", what) }
