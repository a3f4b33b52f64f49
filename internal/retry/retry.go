// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/logging"
)

// Policy bounds the number of attempts and the backoff between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Transient decides whether a failure is worth another attempt.
	// IsTransient is used when nil.
	Transient func(error) bool
}

// DefaultPolicy is used by the stores and the cache.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
// Errors are wrapped in a logging.OperationError.
func Do(ctx context.Context, p Policy, logger *zap.Logger, operation, requestID string, fn func() error) error {
	transient := p.Transient
	if transient == nil {
		transient = IsTransient
	}
	if p.Attempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !transient(err) {
			opLogger.Debug("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		if attempt == p.Attempts-1 {
			opLogger.Error("operation failed after retries", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransient recognises deadline and network timeout style failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
