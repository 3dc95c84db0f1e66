package carrier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/metrics"
)

// Poller paces repeated List/Fetch polling against a medium at LOOP_SLEEP
// intervals (spec §4.3, §5, §9 "Polling vs notification: ... Never
// busy-loop"). It is built on golang.org/x/time/rate rather than a bare
// time.Sleep loop so that the one mechanism also implements spec.md's
// "no congestion control beyond polling backoff" Non-goal: on repeated
// TransportTransient errors the limiter's interval is widened up to
// maxInterval, and restored to base once an operation succeeds.
type Poller struct {
	lim       *rate.Limiter
	base, max time.Duration

	mu         sync.Mutex // guards cur/failStreak; one Poller is shared across every session a peer owns
	cur        time.Duration
	failStreak int

	medium string // label for the poll_backoffs_total metric
}

func NewPoller(base, maxInterval time.Duration) *Poller {
	if maxInterval < base {
		maxInterval = base
	}
	return &Poller{
		lim:    rate.NewLimiter(rate.Every(base), 1),
		base:   base,
		max:    maxInterval,
		cur:    base,
		medium: "unknown",
	}
}

// WithMedium labels this poller's backoff metric (e.g. "folder", "imap").
func (p *Poller) WithMedium(medium string) *Poller {
	p.medium = medium
	return p
}

// Wait blocks until the next poll tick is due.
func (p *Poller) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

// Backoff widens the interval after a transient failure, up to max.
func (p *Poller) Backoff() {
	p.mu.Lock()
	p.failStreak++
	next := p.cur * 2
	if next > p.max {
		next = p.max
	}
	changed := next != p.cur
	if changed {
		p.cur = next
	}
	streak := p.failStreak
	p.mu.Unlock()

	if changed {
		p.lim.SetLimit(rate.Every(next))
		metrics.PollBackoffs.WithLabelValues(p.medium).Inc()
		nlog.Warningf("carrier: poll backoff now %s after %d consecutive errors", next, streak)
	}
}

// Reset restores the base interval after a successful operation.
func (p *Poller) Reset() {
	p.mu.Lock()
	changed := p.cur != p.base
	if changed {
		p.cur = p.base
	}
	p.failStreak = 0
	p.mu.Unlock()

	if changed {
		p.lim.SetLimit(rate.Every(p.base))
	}
}

// Default intervals per Design Notes: "calibrate LOOP_SLEEP per binding
// (filesystem: 0.1 s; IMAP: 1-5 s)".
const (
	FolderLoopSleep = 100 * time.Millisecond
	FTPLoopSleep    = 500 * time.Millisecond
	IMAPLoopSleep   = 2 * time.Second
	S3LoopSleep     = 500 * time.Millisecond
)
