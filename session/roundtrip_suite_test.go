// Ginkgo/Gomega BDD suite for the round-trip laws and boundary behaviors of
// spec.md §8 ("Round-trip laws", "Boundary behaviors"). Package-local unit
// tests in session_test.go already cover the ordering/close invariants with
// plain `testing`; this suite is the one BDD-style spec SPEC_FULL.md §1
// calls for, mirrored on aistore/cmn/cos/cos_suite_test.go's
// RegisterFailHandler/RunSpecs shape.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package session_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSessionRoundTrip(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "session round-trip suite")
}
