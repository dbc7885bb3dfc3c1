// Package waves runs data-load jobs against the cluster in ordered
// waves. Lower-numbered waves complete before higher ones start, and
// jobs within a wave run serially because most of them write to the
// same database. The first job that fails or times out aborts the rest
// of the run.
package waves

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/poll"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

const (
	// jobKind is the resource kind deleted before resubmission
	jobKind = "job"

	// logExcerptLines bounds how much pod log a failure report carries
	logExcerptLines = 20

	// logFetchTimeout bounds the best-effort log fetch after a failure
	logFetchTimeout = 10 * time.Second
)

// Scheduler submits jobs wave by wave and waits for each one to reach
// a terminal state before moving on
type Scheduler struct {
	cluster     interfaces.ClusterClient
	environment string
	bus         *events.EventBus
	collector   *metrics.Collector
	interval    time.Duration
	timeout     time.Duration
	logger      *logging.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithEnvironment attributes published job events to an environment
func WithEnvironment(environment string) Option {
	return func(s *Scheduler) {
		s.environment = environment
	}
}

// WithEventBus publishes a job-completed event for every finished job
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

// WithMetrics counts job outcomes on the collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.collector = collector
	}
}

// WithPollDefaults sets the fallback poll cadence for jobs that do not
// declare their own interval or timeout
func WithPollDefaults(interval, timeout time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
		s.timeout = timeout
	}
}

// NewScheduler creates a scheduler that submits jobs through the given
// cluster client
func NewScheduler(cluster interfaces.ClusterClient, opts ...Option) *Scheduler {
	s := &Scheduler{
		cluster: cluster,
		logger:  logging.NewLogger("wave-scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every job grouped by wave number, waves ascending, jobs
// within a wave in declaration order. It returns the outcome of every
// job that was attempted. When a job fails or times out, the remaining
// jobs in its wave and all later waves are never submitted, and the
// returned error names the job, its wave, the last observed status,
// and a tail of its pod logs. An empty job list is a no-op.
func (s *Scheduler) Run(ctx context.Context, jobs []interfaces.JobSpec) ([]interfaces.JobOutcome, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	grouped := groupByWave(jobs)
	s.logger.Infof("running %d jobs across %d waves", len(jobs), len(grouped))

	outcomes := make([]interfaces.JobOutcome, 0, len(jobs))
	for _, w := range grouped {
		waveOutcomes, err := s.runWave(ctx, w)
		outcomes = append(outcomes, waveOutcomes...)
		if err != nil {
			return outcomes, err
		}
	}

	s.logger.Infof("all %d jobs completed", len(outcomes))
	return outcomes, nil
}

type wave struct {
	number int
	jobs   []interfaces.JobSpec
}

// groupByWave buckets jobs by wave number, ascending. Order within a
// wave is the caller's declaration order.
func groupByWave(jobs []interfaces.JobSpec) []wave {
	buckets := make(map[int][]interfaces.JobSpec)
	numbers := make([]int, 0)
	for _, job := range jobs {
		if _, seen := buckets[job.Wave]; !seen {
			numbers = append(numbers, job.Wave)
		}
		buckets[job.Wave] = append(buckets[job.Wave], job)
	}
	sort.Ints(numbers)

	grouped := make([]wave, 0, len(numbers))
	for _, n := range numbers {
		grouped = append(grouped, wave{number: n, jobs: buckets[n]})
	}
	return grouped
}

// runWave pushes the wave's jobs through a single-worker pool. Width
// one keeps execution serial while the pool owns queueing and drain
// semantics; FIFO submission preserves declaration order.
func (s *Scheduler) runWave(ctx context.Context, w wave) ([]interfaces.JobOutcome, error) {
	s.logger.Infof("starting wave %d with %d jobs", w.number, len(w.jobs))

	pool := workerpool.New(1)

	var (
		mu       sync.Mutex
		outcomes []interfaces.JobOutcome
		failed   *interfaces.JobOutcome
	)

	for _, job := range w.jobs {
		pool.Submit(func() {
			mu.Lock()
			aborted := failed != nil
			mu.Unlock()
			if aborted {
				// An earlier job in this wave failed; never start this one
				return
			}

			outcome := s.runJob(ctx, job)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			if outcome.State != interfaces.PollStateComplete && failed == nil {
				failed = &outcome
			}
			mu.Unlock()
		})
	}

	pool.StopWait()

	if failed == nil {
		return outcomes, nil
	}
	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("wave %d interrupted: %w", w.number, err)
	}
	return outcomes, abortError(*failed)
}

// abortError builds the run-level error for the first failed job. The
// log excerpt rides along so the operator does not have to go fishing.
func abortError(failed interfaces.JobOutcome) error {
	if failed.State == interfaces.PollStateTimedOut {
		timeout := &interfaces.PollTimeout{
			Operation:  fmt.Sprintf("job %q in wave %d", failed.Name, failed.Wave),
			Elapsed:    failed.Duration,
			LastStatus: failed.LastStatus,
		}
		if failed.LogExcerpt == "" {
			return timeout
		}
		return fmt.Errorf("%w\nrecent job logs:\n%s", timeout, failed.LogExcerpt)
	}

	msg := fmt.Sprintf("job %q in wave %d failed: %s", failed.Name, failed.Wave, failed.LastStatus)
	if failed.LogExcerpt != "" {
		msg = fmt.Sprintf("%s\nrecent job logs:\n%s", msg, failed.LogExcerpt)
	}
	return errors.New(msg)
}

// runJob clears any previous instance of the job, submits its
// manifest, and polls until it reaches a terminal state
func (s *Scheduler) runJob(ctx context.Context, job interfaces.JobSpec) interfaces.JobOutcome {
	started := time.Now()
	outcome := interfaces.JobOutcome{Name: job.Name, Wave: job.Wave}

	// Completed Jobs are immutable; delete any prior instance so a
	// re-deploy can resubmit under the same name
	if err := s.cluster.DeleteResource(ctx, jobKind, job.Name, job.Namespace, true); err != nil {
		return s.failSubmission(outcome, started, fmt.Sprintf("failed to delete previous job: %v", err))
	}

	if err := s.cluster.ApplyManifest(ctx, job.ManifestPath, job.Namespace); err != nil {
		return s.failSubmission(outcome, started, fmt.Sprintf("failed to submit job: %v", err))
	}

	s.logger.JobSubmitted(job.Name, job.Wave)

	// Zero-valued options are no-ops, so per-job settings override the
	// scheduler defaults and both fall back to the poll package's own
	poller := poll.New(
		poll.WithInterval(s.interval), poll.WithTimeout(s.timeout),
		poll.WithInterval(job.PollInterval), poll.WithTimeout(job.PollTimeout),
	)

	var lastStatus string
	result := poller.Poll(ctx, fmt.Sprintf("job %s", job.Name), func(ctx context.Context) interfaces.PollOutcome {
		status, err := s.cluster.JobStatus(ctx, job.Name, job.Namespace)
		if err != nil {
			// Transport errors are retried by the poll loop itself
			lastStatus = fmt.Sprintf("status check failed: %v", err)
			return interfaces.PollPending(lastStatus)
		}

		switch {
		case !status.Exists:
			lastStatus = "not found after submission"
			return interfaces.PollFailed(lastStatus)
		case status.Failed > 0:
			lastStatus = describeStatus(status)
			if status.FailureReason != "" {
				return interfaces.PollFailed(status.FailureReason)
			}
			return interfaces.PollFailed(lastStatus)
		case status.Succeeded > 0:
			lastStatus = describeStatus(status)
			return interfaces.PollComplete()
		default:
			lastStatus = describeStatus(status)
			return interfaces.PollPending(lastStatus)
		}
	})

	outcome.State = result.Outcome.State
	outcome.Attempts = result.Attempts
	outcome.Duration = result.Elapsed

	// Failed outcomes carry the precise failure reason; timeouts keep
	// the last probe observation instead of the poller's composed text
	if outcome.State == interfaces.PollStateFailed {
		outcome.LastStatus = result.Outcome.Reason
	} else {
		outcome.LastStatus = lastStatus
	}
	if outcome.LastStatus == "" {
		outcome.LastStatus = result.Outcome.Reason
	}

	if outcome.State != interfaces.PollStateComplete {
		outcome.LogExcerpt = s.logExcerpt(ctx, job)
	}

	s.finishJob(&outcome)
	return outcome
}

// failSubmission finishes a job that never made it to polling
func (s *Scheduler) failSubmission(outcome interfaces.JobOutcome, started time.Time, reason string) interfaces.JobOutcome {
	outcome.State = interfaces.PollStateFailed
	outcome.LastStatus = reason
	outcome.Duration = time.Since(started)
	s.finishJob(&outcome)
	return outcome
}

// logExcerpt fetches the tail of the job's pod logs, best effort. Jobs
// that never scheduled a pod have nothing to show.
func (s *Scheduler) logExcerpt(ctx context.Context, job interfaces.JobSpec) string {
	// The run context may already be dead after a timeout; detach from
	// its cancellation but keep a bound of our own
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logFetchTimeout)
	defer cancel()

	excerpt, err := s.cluster.PodLogTail(logCtx, "job-name="+job.Name, job.Namespace, logExcerptLines)
	if err != nil {
		s.logger.Debugf("could not fetch logs for job %s: %v", job.Name, err)
		return ""
	}
	return strings.TrimSpace(excerpt)
}

// finishJob records the terminal state on the logger, metrics
// collector, and event bus
func (s *Scheduler) finishJob(outcome *interfaces.JobOutcome) {
	s.logger.JobFinished(outcome.Name, outcome.Wave, string(outcome.State), outcome.LastStatus)

	if s.collector != nil {
		if outcome.State == interfaces.PollStateComplete {
			s.collector.RecordJobSucceeded()
		} else {
			s.collector.RecordJobFailed()
		}
	}
	if s.bus != nil {
		s.bus.PublishJobCompleted(s.environment, *outcome)
	}
}

// describeStatus renders the job's pod counters the way kubectl does
func describeStatus(status *interfaces.JobStatus) string {
	return fmt.Sprintf("active=%d succeeded=%d failed=%d", status.Active, status.Succeeded, status.Failed)
}
