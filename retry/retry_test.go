package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("done on first attempt", func(t *testing.T) {
		attempts, err := Loop(ctx, DefaultConfig(5), func(context.Context, int) (bool, error) {
			return true, nil
		})
		if err != nil {
			t.Fatalf("Loop failed: %v", err)
		}
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("retries lost races", func(t *testing.T) {
		attempts, err := Loop(ctx, DefaultConfig(5), func(_ context.Context, attempt int) (bool, error) {
			return attempt == 3, nil
		})
		if err != nil {
			t.Fatalf("Loop failed: %v", err)
		}
		if attempts != 4 {
			t.Errorf("expected 4 attempts, got %d", attempts)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		attempts, err := Loop(ctx, DefaultConfig(2), func(context.Context, int) (bool, error) {
			calls++
			return false, nil
		})
		if !IsExhausted(err) {
			t.Fatalf("expected ErrMaxRetries, got %v", err)
		}
		if attempts != 3 || calls != 3 {
			t.Errorf("expected 3 attempts, got %d (calls %d)", attempts, calls)
		}
		var re *RetryError
		if !errors.As(err, &re) || re.Attempts != 3 {
			t.Errorf("expected RetryError with 3 attempts, got %v", err)
		}
	})

	t.Run("step error is returned unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		attempts, err := Loop(ctx, DefaultConfig(10), func(context.Context, int) (bool, error) {
			return false, boom
		})
		if err != boom {
			t.Fatalf("expected boom, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("zero retries runs once", func(t *testing.T) {
		calls := 0
		_, err := Loop(ctx, Config{}, func(context.Context, int) (bool, error) {
			calls++
			return false, nil
		})
		if !IsExhausted(err) || calls != 1 {
			t.Errorf("expected one exhausted call, got %d calls err=%v", calls, err)
		}
	})

	t.Run("context canceled during backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		cfg := Config{MaxRetries: 3, InitialBackoff: time.Hour}
		_, err := Loop(cctx, cfg, func(context.Context, int) (bool, error) {
			return false, nil
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Fatalf("expected ErrContextCanceled, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled cause, got %v", err)
		}
	})
}

func TestCalculateBackoff(t *testing.T) {
	cfg := applyDefaults(Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})

	if got := calculateBackoff(cfg, 0); got != 10*time.Millisecond {
		t.Errorf("attempt 0: expected 10ms, got %v", got)
	}
	if got := calculateBackoff(cfg, 1); got != 20*time.Millisecond {
		t.Errorf("attempt 1: expected 20ms, got %v", got)
	}
	if got := calculateBackoff(cfg, 10); got != 50*time.Millisecond {
		t.Errorf("attempt 10: expected cap 50ms, got %v", got)
	}

	cfg.Jitter = 0.5
	for range 20 {
		got := calculateBackoff(cfg, 0)
		if got < 5*time.Millisecond || got > 15*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}
