package retry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/faults"
	"github.com/datarift/datarift/pkg/log"
)

// Hook re-invokes the operation a fault record came from. Supplied by the
// orchestrator.
type Hook func(ctx context.Context, rec faults.Record) error

// FailureHandler re-enters the classification pipeline when a retry itself
// fails. Implemented by faults.Handler.
type FailureHandler interface {
	Handle(err error, fctx faults.Context) faults.Record
}

// Scheduler routes classified fault records: retryable records are retried
// after a backoff delay, everything else goes to the dead-letter sink.
// Retries for a given record are strictly sequential; each record is owned by
// exactly one in-flight retry chain.
type Scheduler struct {
	policy config.ErrorPolicy
	dlq    *DeadLetter
	log    zerolog.Logger

	mu           sync.Mutex
	hook         Hook
	failures     FailureHandler
	onDeadLetter func(rec faults.Record)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for the given policy. The retry hook and
// failure handler are attached afterwards; until then retryable records are
// dead-lettered.
func NewScheduler(policy config.ErrorPolicy) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		policy: policy,
		dlq:    &DeadLetter{},
		log:    log.WithComponent("retry"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetHook attaches the orchestrator's retry hook.
func (s *Scheduler) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// SetFailureHandler attaches the classification pipeline for failed retries.
func (s *Scheduler) SetFailureHandler(fh FailureHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = fh
}

// OnDeadLetter registers a callback fired when a record is routed to the
// dead-letter sink. The orchestrator uses it to mark the owning job.
func (s *Scheduler) OnDeadLetter(fn func(rec faults.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeadLetter = fn
}

// DeadLetter exposes the terminal sink.
func (s *Scheduler) DeadLetter() *DeadLetter { return s.dlq }

// Handle implements faults.Router. Non-retryable records and records whose
// retry budget is spent are dead-lettered with their retry count unchanged;
// everything else is scheduled for an asynchronous retry.
func (s *Scheduler) Handle(rec faults.Record) {
	s.mu.Lock()
	hook := s.hook
	onDeadLetter := s.onDeadLetter
	s.mu.Unlock()

	if !rec.Retryable || rec.Context.RetryCount >= rec.MaxRetries || hook == nil {
		s.deadLetter(rec, onDeadLetter)
		return
	}

	delay := BackoffDelay(rec.RetryDelay, s.policy.MaxRetryDelay.Std(), s.policy.ExponentialBackoff, rec.Context.RetryCount)
	s.log.Info().
		Str("table", rec.Context.Table).
		Str("operation", rec.Context.Operation).
		Dur("delay", delay).
		Int("attempt", rec.Context.RetryCount+1).
		Int("max_retries", rec.MaxRetries).
		Msg("scheduling retry")

	s.wg.Add(1)
	go s.fire(rec, delay)
}

func (s *Scheduler) fire(rec faults.Record, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}

	rec.Context.RetryCount++

	s.mu.Lock()
	hook := s.hook
	failures := s.failures
	onDeadLetter := s.onDeadLetter
	s.mu.Unlock()

	if err := hook(s.ctx, rec); err != nil {
		// A failed retry re-enters the classifier with the incremented
		// retry count, so exhaustion stays bounded by MaxRetries even
		// when the fault type changes between attempts.
		if failures != nil {
			failures.Handle(err, rec.Context)
			return
		}
		s.deadLetter(rec, onDeadLetter)
	}
}

func (s *Scheduler) deadLetter(rec faults.Record, onDeadLetter func(faults.Record)) {
	if s.policy.DeadLetterQueue {
		s.dlq.Add(rec)
	}
	s.log.Error().
		Str("table", rec.Context.Table).
		Str("operation", rec.Context.Operation).
		Str("kind", rec.Kind).
		Int("retry_count", rec.Context.RetryCount).
		Bool("retryable", rec.Retryable).
		Msg("fault routed to dead letter sink")
	if onDeadLetter != nil {
		onDeadLetter(rec)
	}
}

// Shutdown stops scheduling new retries and waits up to grace for in-flight
// retries to drain, abandoning them afterwards.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn().Dur("grace", grace).Msg("abandoning in-flight retries after grace period")
	}
}
