// Package poll provides the readiness polling primitive used by every
// wait in flightdeck. Callers supply a probe; the poller owns timing,
// deadlines, and cancellation.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Default cadence for job readiness checks. Infrastructure waits pass
// WithTimeout with a longer bound.
const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 10 * time.Minute
)

// Probe observes one unit of work and classifies it. Probes map their
// own transport errors into outcomes; an unreachable endpoint is
// usually just Pending with a reason.
type Probe func(ctx context.Context) interfaces.PollOutcome

// Result is the final outcome of a polling loop
type Result struct {
	Outcome  interfaces.PollOutcome
	Attempts int
	Elapsed  time.Duration
	canceled bool
}

// Canceled reports whether the loop ended because the context was
// canceled rather than by probe outcome or deadline
func (r Result) Canceled() bool {
	return r.canceled
}

// Poller repeatedly runs a probe until it reports a terminal outcome
// or the timeout elapses
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets the delay between probe attempts
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the overall deadline for the polling loop
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a poller with the default cadence
func New(opts ...Option) *Poller {
	p := &Poller{
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   logging.NewLogger("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured probe interval
func (p *Poller) Interval() time.Duration { return p.interval }

// Timeout returns the configured overall deadline
func (p *Poller) Timeout() time.Duration { return p.timeout }

// Poll runs the probe until it returns Complete or Failed, the timeout
// elapses, or the context is canceled. Cancellation returns within one
// interval tick. The returned outcome is never Pending.
func (p *Poller) Poll(ctx context.Context, operation string, probe Probe) Result {
	start := time.Now()
	deadline := start.Add(p.timeout)

	probeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		attempts   int
		lastReason string
	)

	for {
		if err := ctx.Err(); err != nil {
			return p.canceledResult(operation, err, attempts, start, lastReason)
		}

		outcome := probe(probeCtx)
		attempts++

		switch outcome.State {
		case interfaces.PollStateComplete, interfaces.PollStateFailed:
			p.logger.Debugf("%s: terminal after %d attempts in %v (state=%s)",
				operation, attempts, time.Since(start), outcome.State)
			return Result{Outcome: outcome, Attempts: attempts, Elapsed: time.Since(start)}
		case interfaces.PollStatePending:
			if outcome.Reason != "" {
				lastReason = outcome.Reason
			}
			p.logger.Debugf("%s: pending after attempt %d (%s)", operation, attempts, lastReason)
		case interfaces.PollStateTimedOut:
			// Probes do not time themselves out; treat like pending
			if outcome.Reason != "" {
				lastReason = outcome.Reason
			}
		}

		// The probe may have consumed the context; distinguish caller
		// cancellation from our own deadline
		if err := ctx.Err(); err != nil {
			return p.canceledResult(operation, err, attempts, start, lastReason)
		}
		if !time.Now().Before(deadline) {
			return p.timedOutResult(operation, attempts, start, lastReason)
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.canceledResult(operation, ctx.Err(), attempts, start, lastReason)
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return p.timedOutResult(operation, attempts, start, lastReason)
		}
	}
}

func (p *Poller) timedOutResult(operation string, attempts int, start time.Time, lastReason string) Result {
	reason := fmt.Sprintf("timed out after %v", p.timeout)
	if lastReason != "" {
		reason = fmt.Sprintf("%s (last: %s)", reason, lastReason)
	}
	p.logger.Warnf("%s: %s", operation, reason)
	return Result{
		Outcome:  interfaces.PollOutcome{State: interfaces.PollStateTimedOut, Reason: reason},
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

func (p *Poller) canceledResult(operation string, err error, attempts int, start time.Time, lastReason string) Result {
	reason := fmt.Sprintf("canceled: %v", err)
	if lastReason != "" {
		reason = fmt.Sprintf("%s (last: %s)", reason, lastReason)
	}
	p.logger.Warnf("%s: %s", operation, reason)
	return Result{
		Outcome:  interfaces.PollOutcome{State: interfaces.PollStateTimedOut, Reason: reason},
		Attempts: attempts,
		Elapsed:  time.Since(start),
		canceled: true,
	}
}
