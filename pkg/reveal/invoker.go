// Package reveal runs the blocking reveal collaborator with bounded retries.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/kapicorp/tesoro/pkg/document"
	"github.com/kapicorp/tesoro/pkg/refs"
)

// DefaultAttempts is the number of reveal calls made before giving up.
const DefaultAttempts = 3

var (
	// ErrEmptyResult is returned when the revealer returns no document.
	ErrEmptyResult = errors.New("reveal returned an empty result")
	// ErrAttemptTimeout is returned when a single attempt exceeds its timeout.
	ErrAttemptTimeout = errors.New("reveal attempt timed out")
)

// Error is returned when every reveal attempt failed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reveal failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Invoker calls a Revealer off the caller's goroutine with bounded retries.
// It holds no mutable state and is safe for concurrent use.
type Invoker struct {
	revealer       refs.Revealer
	attempts       int
	attemptTimeout time.Duration
	backoff        wait.Backoff
	onRetry        func(attempt int, err error)
	log            logr.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithAttempts sets the maximum number of attempts. Values below 1 are ignored.
func WithAttempts(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.attempts = n
		}
	}
}

// WithAttemptTimeout bounds each individual attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		i.attemptTimeout = d
	}
}

// WithBackoff sets the delay between attempts. Steps is overridden by the
// attempt count.
func WithBackoff(b wait.Backoff) Option {
	return func(i *Invoker) {
		i.backoff = b
	}
}

// WithRetryHook registers a function called after each failed attempt.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(i *Invoker) {
		i.onRetry = fn
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(i *Invoker) {
		i.log = log
	}
}

// NewInvoker creates an Invoker for revealer.
func NewInvoker(revealer refs.Revealer, opts ...Option) *Invoker {
	i := &Invoker{
		revealer: revealer,
		attempts: DefaultAttempts,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Attempts returns the configured attempt budget.
func (i *Invoker) Attempts() int {
	return i.attempts
}

// Invoke reveals obj. Each attempt receives its own deep copy of obj, so obj
// is never modified. The call returns early with the context error if ctx is
// done; an attempt still running in the background is abandoned.
func (i *Invoker) Invoke(ctx context.Context, obj map[string]interface{}) (map[string]interface{}, error) {
	backoff := i.backoff
	backoff.Steps = i.attempts

	var (
		result  map[string]interface{}
		attempt int
		lastErr error
	)
	// retry.OnError reports the last retriable error, or nil when the final
	// error interrupts the loop, so the attempt error is tracked here.
	err := retry.OnError(backoff, func(error) bool {
		return ctx.Err() == nil
	}, func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			lastErr = err
			return err
		}
		out, err := i.attempt(ctx, document.DeepCopy(obj))
		if err != nil {
			lastErr = err
			i.log.V(1).Info("reveal attempt failed", "attempt", attempt, "of", i.attempts, "error", err.Error())
			if i.onRetry != nil {
				i.onRetry(attempt, err)
			}
			return err
		}
		result = out
		return nil
	})
	if err != nil || result == nil {
		if lastErr == nil {
			lastErr = err
		}
		if lastErr == nil {
			lastErr = ErrEmptyResult
		}
		return nil, &Error{Attempts: attempt, Err: lastErr}
	}
	return result, nil
}

type attemptResult struct {
	obj map[string]interface{}
	err error
}

func (i *Invoker) attempt(ctx context.Context, obj map[string]interface{}) (map[string]interface{}, error) {
	if i.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.attemptTimeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("reveal panicked: %v", r)}
			}
		}()
		out, err := i.revealer.Reveal(obj)
		done <- attemptResult{obj: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.obj) == 0 {
			return nil, ErrEmptyResult
		}
		return res.obj, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && i.attemptTimeout > 0 {
			return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, i.attemptTimeout)
		}
		return nil, ctx.Err()
	}
}
