// Package nlog is the anywire logger: leveled, timestamped, one line per
// call. Modeled on aistore's cmn/nlog but stripped of file rotation and
// multi-writer buffering, which this module's two-peer processes don't need.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	levels          = [...]string{"I", "W", "E"}
)

// SetOutput redirects all log lines; tests use this to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func log(sev severity, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	ts := time.Now().Format("15:04:05.000000")
	mu.Lock()
	fmt.Fprintf(out, "%s %s %s\n", levels[sev], ts, line)
	mu.Unlock()
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, "%s", fmt.Sprint(args...)) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Warningln(args ...any)               { log(sevWarn, "%s", fmt.Sprint(args...)) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }
func Errorln(args ...any)                 { log(sevErr, "%s", fmt.Sprint(args...)) }
