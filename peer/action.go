// Package peer implements C3 (client/server roles) and the C4 Action
// contract: discovery, capability advertisement, session opening and
// lifecycle, and generic RPC dispatch.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package peer

import (
	"context"

	"github.com/anywire/anywire/session"
)

// Action is a capability-name-bound handler (spec §4.4). Start is invoked
// by the server after a successful open and is expected to run the
// session to completion on its own goroutine. Call answers this action's
// share of the generic-RPC surface (spec §4.3 "dispatch to
// capabilities[target]"); actions with no RPC surface can embed NopRPC.
type Action interface {
	Name() string
	Start(ctx context.Context, s *session.Session)
	Call(method string, args []string) ([]byte, error)
}

// NopRPC is embedded by actions that don't answer generic RPC calls.
type NopRPC struct{}

func (NopRPC) Call(method string, _ []string) ([]byte, error) {
	return nil, &errUnknownMethod{method}
}

type errUnknownMethod struct{ method string }

func (e *errUnknownMethod) Error() string { return "unknown method: " + e.method }
