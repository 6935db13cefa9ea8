// Package retry provides the retry policy shared by all remote clients.
//
// A Policy bounds the number of attempts and shapes a randomized exponential
// backoff between them. Errors wrapped with Permanent, context errors and errors
// rejected by the policy's Retryable predicate stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultRandomizationFactor spreads retries of concurrent callers apart.
	DefaultRandomizationFactor = 0.5

	// DefaultMultiplier doubles the wait after every failed attempt.
	DefaultMultiplier = 2.0
)

// Policy describes how a single remote call site retries.
type Policy struct {
	// Name identifies the call site in logs (e.g. "embed", "search").
	Name string

	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// InitialInterval is the base wait after the first failure.
	InitialInterval time.Duration

	// MaxInterval caps the wait between two attempts.
	MaxInterval time.Duration

	// Retryable decides whether an error is transient. Defaults to DefaultRetryable.
	Retryable func(error) bool

	// Logger receives one warning per retry. Defaults to slog.Default().
	Logger *slog.Logger
}

// NoRetry is a policy that performs exactly one attempt.
var NoRetry = Policy{MaxAttempts: 1}

// StatusError is returned by HTTP clients when the remote service answers with
// a non-success status code.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether the status code indicates a transient failure.
func (e *StatusError) Temporary() bool {
	return IsRetryableStatus(e.StatusCode)
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying.
func IsRetryableStatus(code int) bool {
	switch {
	case code == 408, code == 425, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// Permanent marks err as non-retryable. It returns nil for a nil error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// DefaultRetryable classifies errors coming from HTTP and gRPC clients.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsPermanent(err) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		default:
			return false
		}
	}

	// Network errors and anything unclassified.
	return true
}

// Do runs op until it succeeds, the policy gives up or ctx is done.
// The returned error is the last error produced by op, unwrapped from Permanent.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() == nil && retryable(err) {
			return res, err
		}
		if IsPermanent(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying remote call",
			"call", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}

// backOff builds the backoff schedule for one call.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.RandomizationFactor = DefaultRandomizationFactor
	exp.Multiplier = DefaultMultiplier
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)
}
