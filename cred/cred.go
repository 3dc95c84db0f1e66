// Package cred defines the external credential-store interface behind
// which every carrier binding's account secret is looked up (spec.md's
// Design Note on keeping secrets out of config files), plus one concrete,
// interactive implementation: a masked terminal prompt built on
// golang.org/x/term, the same package the pack reaches for wherever a
// password needs to come from a TTY rather than a flag or env var.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package cred

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Store resolves a named credential (an account, mailbox, or bucket
// identifier) to its secret. Implementations must be safe for concurrent
// use: a carrier binding may look up the same name from multiple
// goroutines during a poll.
type Store interface {
	Lookup(name string) (secret string, err error)
}

// StaticStore serves secrets from an in-memory map, for config-file or
// environment-variable backed deployments that accept the risk.
type StaticStore map[string]string

func (s StaticStore) Lookup(name string) (string, error) {
	secret, ok := s[name]
	if !ok {
		return "", fmt.Errorf("cred: no secret configured for %q", name)
	}
	return secret, nil
}

// TerminalStore prompts on a TTY the first time a name is looked up and
// caches the answer for the life of the process, so a long-running server
// polling several bindings only interrupts its operator once per account.
type TerminalStore struct {
	in  *os.File
	out io.Writer

	mu    sync.Mutex
	cache map[string]string
}

// NewTerminalStore prompts against os.Stdin/os.Stdout.
func NewTerminalStore() *TerminalStore {
	return &TerminalStore{in: os.Stdin, out: os.Stdout, cache: make(map[string]string)}
}

func (t *TerminalStore) Lookup(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if secret, ok := t.cache[name]; ok {
		return secret, nil
	}

	fmt.Fprintf(t.out, "password for %s: ", name)
	secret, err := t.readPassword()
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("cred: read password for %s: %w", name, err)
	}
	t.cache[name] = secret
	return secret, nil
}

func (t *TerminalStore) readPassword() (string, error) {
	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	// not a TTY (piped input in tests or scripts): fall back to a plain
	// line read rather than failing outright.
	line, err := bufio.NewReader(t.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
