package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("registry unavailable"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	if err == nil || err.Error() != "always fails" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	var calls int
	start := time.Now()
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry slept after cancellation")
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "retry me" }

	var calls int
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("retry me")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := fastRetry()
	var attempts []int
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("429"), 429)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry attempts: %v", attempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("flaky"), 502)
		}
		return "220949", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "220949" {
		t.Errorf("expected 220949, got %q", v)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	v, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		return 42, errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if v != 0 {
		t.Errorf("expected zero value, got %d", v)
	}
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond, Multiplier: 2}

	if got := computeBackoff(0, cfg); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := computeBackoff(1, cfg); got != 200*time.Millisecond {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := computeBackoff(5, cfg); got != 250*time.Millisecond {
		t.Errorf("attempt 5 should cap: got %v", got)
	}

	cfg.JitterFraction = 0.5
	for i := 0; i < 50; i++ {
		got := computeBackoff(0, cfg)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(5, 100, 2000)
	if cfg.MaxAttempts != 5 || cfg.InitialBackoff != 100*time.Millisecond || cfg.MaxBackoff != 2*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}

	def := FromRetryConfig(0, 0, 0)
	if def.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", def.MaxAttempts)
	}
}
