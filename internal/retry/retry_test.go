package retry

import (
	"context"
	"errors"
	"testing"
)

func TestTransientRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: 0}
	calls := 0
	retries, err := p.Do(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("calls = %d retries = %d, want 3 and 2", calls, retries)
	}
}

func TestTransientExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: 0}
	calls := 0
	cause := errors.New("timeout")
	retries, err := p.Do(context.Background(), "down", func() error {
		calls++
		return Transient(cause)
	})
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("calls = %d retries = %d", calls, retries)
	}
}

func TestTerminalNoRetry(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: 0}
	calls := 0
	_, err := p.Do(context.Background(), "bad-request", func() error {
		calls++
		return Terminal(errors.New("unauthorized"))
	})
	if err == nil || calls != 1 {
		t.Errorf("terminal fault retried: calls = %d, err = %v", calls, err)
	}
}

func TestUntaggedErrorsAreTerminal(t *testing.T) {
	if Classify(errors.New("plain")) != FaultTerminal {
		t.Errorf("untagged error classified transient")
	}
	if Classify(Transient(errors.New("x"))) != FaultTransient {
		t.Errorf("tagged transient misclassified")
	}

	p := Policy{MaxAttempts: 3, Backoff: 0}
	calls := 0
	p.Do(context.Background(), "plain", func() error {
		calls++
		return errors.New("plain")
	})
	if calls != 1 {
		t.Errorf("untagged error retried %d times", calls)
	}
}

func TestNilPassThrough(t *testing.T) {
	if Transient(nil) != nil || Terminal(nil) != nil {
		t.Errorf("nil error got tagged")
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 5, Backoff: 2}
	calls := 0
	_, err := p.Do(ctx, "cancelled", func() error {
		calls++
		return Transient(errors.New("timeout"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
