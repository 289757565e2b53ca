package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// RetryPolicy bounds how write attempts back off and give up.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // doubled per retry
}

// withRetry runs fn, retrying transient failures with exponential backoff.
// Permanent errors and context cancellation return immediately.
func withRetry(ctx context.Context, p RetryPolicy, logger log.Logger, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.BaseBackoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if logger != nil {
				logger.Warn("retrying write",
					log.Str("op", op),
					log.Int("attempt", attempt+1),
					log.Err(lastErr))
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}

// isTransient classifies storage errors worth retrying: connectivity drops,
// serialization/deadlock conflicts, and resource pressure. Constraint and
// syntax errors are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001" || pgErr.Code == "40P01": // serialization, deadlock
			return true
		case pgErr.Code == "53300" || pgErr.Code == "57P03": // too many conns, starting up
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
