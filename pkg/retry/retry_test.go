package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/faults"
)

func testPolicy() config.ErrorPolicy {
	cfg := config.Default()
	policy := cfg.ErrorHandling
	// Keep delays short so retry chains complete within the test.
	policy.RetryDelay = config.Duration(5 * time.Millisecond)
	policy.MaxRetryDelay = config.Duration(50 * time.Millisecond)
	return policy
}

func TestBackoffDelaySequence(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, BackoffDelay(base, max, true, attempt), "attempt %d", attempt)
	}
}

func TestBackoffDelayFlat(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, 5*time.Second, BackoffDelay(5*time.Second, 30*time.Second, false, attempt))
	}
}

func TestPolicyDoRetriesUntilSuccess(t *testing.T) {
	policy := Policy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicyDoExhaustsBudget(t *testing.T) {
	policy := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial try plus two retries
}

func TestPolicyDoHonorsContext(t *testing.T) {
	policy := Policy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Do(ctx, func() error { return errors.New("nope") })
	require.Error(t, err)
}

func TestNonRetryableGoesStraightToDeadLetter(t *testing.T) {
	s := NewScheduler(testPolicy())
	defer s.Shutdown(time.Second)
	s.SetHook(func(ctx context.Context, rec faults.Record) error {
		t.Fatal("hook must not fire for non-retryable records")
		return nil
	})

	rec := faults.Record{
		Kind:      "validation",
		Retryable: false,
		Context:   faults.NewContext("users", "job_start"),
	}
	s.Handle(rec)

	require.Equal(t, 1, s.DeadLetter().Size())
	// Dead-lettered without any retry attempt.
	assert.Equal(t, 0, s.DeadLetter().Records()[0].Context.RetryCount)
}

func TestExhaustedBudgetIsDeadLettered(t *testing.T) {
	s := NewScheduler(testPolicy())
	defer s.Shutdown(time.Second)
	s.SetHook(func(ctx context.Context, rec faults.Record) error { return nil })

	fctx := faults.NewContext("users", "job_start")
	fctx.RetryCount = 3

	s.Handle(faults.Record{Kind: "network", Retryable: true, MaxRetries: 3, Context: fctx})
	assert.Equal(t, 1, s.DeadLetter().Size())
}

func TestRetryChainRunsUntilSuccess(t *testing.T) {
	s := NewScheduler(testPolicy())
	defer s.Shutdown(time.Second)

	handler := faults.NewHandler(testPolicy())
	handler.SetRouter(s)
	s.SetFailureHandler(handler)

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	s.SetHook(func(ctx context.Context, rec faults.Record) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("still failing")
		}
		close(done)
		return nil
	})

	handler.Handle(errors.New("initial failure"), faults.NewContext("users", "job_start"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry chain did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, s.DeadLetter().Size())
}

func TestRetryChainExhaustionDeadLetters(t *testing.T) {
	policy := testPolicy()
	policy.MaxRetries = 2

	s := NewScheduler(policy)
	defer s.Shutdown(time.Second)

	handler := faults.NewHandler(policy)
	handler.SetRouter(s)
	s.SetFailureHandler(handler)

	deadLettered := make(chan faults.Record, 1)
	s.OnDeadLetter(func(rec faults.Record) { deadLettered <- rec })

	var mu sync.Mutex
	attempts := 0
	s.SetHook(func(ctx context.Context, rec faults.Record) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("permanently failing")
	})

	handler.Handle(errors.New("initial failure"), faults.NewContext("orders", "job_start"))

	select {
	case rec := <-deadLettered:
		assert.Equal(t, "orders", rec.Context.Table)
		assert.Equal(t, 2, rec.Context.RetryCount)
	case <-time.After(5 * time.Second):
		t.Fatal("record was never dead-lettered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestFailedRetryWithoutFailureHandlerNotifiesDeadLetter(t *testing.T) {
	s := NewScheduler(testPolicy())
	defer s.Shutdown(time.Second)

	// No failure handler attached: a failed retry is dead-lettered
	// directly, and the callback must still fire.
	deadLettered := make(chan faults.Record, 1)
	s.OnDeadLetter(func(rec faults.Record) { deadLettered <- rec })
	s.SetHook(func(ctx context.Context, rec faults.Record) error {
		return errors.New("still failing")
	})

	fctx := faults.NewContext("users", "job_start")
	s.Handle(faults.Record{Kind: "network", Retryable: true, MaxRetries: 3, Context: fctx})

	select {
	case rec := <-deadLettered:
		assert.Equal(t, "users", rec.Context.Table)
		assert.Equal(t, 1, rec.Context.RetryCount)
	case <-time.After(5 * time.Second):
		t.Fatal("dead-letter callback never fired")
	}
	assert.Equal(t, 1, s.DeadLetter().Size())
}

func TestDeadLetterBounded(t *testing.T) {
	d := &DeadLetter{}
	for i := 0; i < 1100; i++ {
		d.Add(faults.Record{ID: fmt.Sprintf("rec-%d", i)})
	}

	assert.Equal(t, 1000, d.Size())
	// Oldest entries are dropped first.
	assert.Equal(t, "rec-100", d.Records()[0].ID)
}
