// Package retry wraps external store calls with bounded exponential
// backoff over an explicit, enumerated fault classification. Collaborator
// fault-mapping layers tag errors as transient or terminal; only tagged
// transient faults are retried.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// FaultKind is the closed set of fault classes.
type FaultKind int

const (
	// FaultTerminal errors propagate immediately (client request errors,
	// malformed input, auth failures).
	FaultTerminal FaultKind = iota
	// FaultTransient errors are retryable (timeouts, connection resets).
	FaultTransient
)

// Fault tags an error with its classification.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string { return f.Err.Error() }
func (f *Fault) Unwrap() error { return f.Err }

// Transient marks an error as a retryable infrastructure fault.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: FaultTransient, Err: err}
}

// Terminal marks an error as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: FaultTerminal, Err: err}
}

// Classify returns the fault kind for an error. Untagged errors are
// terminal: only faults the collaborator layer explicitly marked as
// transient are worth retrying.
func Classify(err error) FaultKind {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind
	}
	return FaultTerminal
}

// Policy bounds retry behavior.
type Policy struct {
	MaxAttempts int
	Backoff     float64 // base for exponential backoff, in seconds
}

// DefaultPolicy matches the store call sites' usual bounds.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: 2}

// Do invokes fn, retrying transient faults with exponential backoff up
// to MaxAttempts. Returns the retry count alongside the final error.
func (p Policy) Do(ctx context.Context, name string, fn func() error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	retries := 0
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return retries, nil
		}
		if Classify(err) != FaultTransient || attempt >= attempts {
			return retries, err
		}

		retries++
		wait := time.Duration(math.Pow(p.Backoff, float64(attempt)) * float64(time.Second))
		logging.Warn("Retryable fault",
			"op", name, "err", err,
			"wait", wait, "attempt", attempt, "max", attempts)

		select {
		case <-ctx.Done():
			return retries, ctx.Err()
		case <-time.After(wait):
		}
	}
}
