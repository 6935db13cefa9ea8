package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		Name:            "test",
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	t.Run("Succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &StatusError{Service: "test", StatusCode: http.StatusTooManyRequests}
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
	})

	t.Run("Stops after max attempts", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("connection reset")
		})
		require.Error(t, err)
		assert.Equal(t, 6, calls)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("Does not retry permanent errors", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		_, err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) (int, error) {
			calls++
			return 0, Permanent(fmt.Errorf("wrapped: %w", sentinel))
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("Does not retry non-retryable status", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) (int, error) {
			calls++
			return 0, &StatusError{Service: "test", StatusCode: http.StatusBadRequest}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	})

	t.Run("Custom predicate", func(t *testing.T) {
		calls := 0
		p := fastPolicy(4)
		p.Retryable = func(error) bool { return false }
		_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Single attempt policy", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), NoRetry, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Do(ctx, fastPolicy(6), func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("transient")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"permanent", Permanent(errors.New("x")), false},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 503}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"unauthorized", &StatusError{StatusCode: 401}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain error", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(nil))
}
