package github

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSafeTimeout bounds one safe operation when the caller does not
// supply a timeout.
const DefaultSafeTimeout = 30 * time.Second

// Safe runs op under a timeout and degrades recoverable failures to a
// default value, so one bad item (a private fork, an empty repository)
// never aborts a bulk operation.
//
// Rate limit errors are re-raised untouched: they must reach the retry
// coordinator sitting above this wrapper. Authentication errors also
// propagate, since the whole run is doomed without credentials. Any
// other unexpected error is logged and converted to the default value.
func Safe[T any](ctx context.Context, contextID, operation string, defaultValue T, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultSafeTimeout
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.With().
		Str("component", "safe").
		Str("operation", operation).
		Str("context_id", contextID).
		Logger()

	result, err := op(opCtx)
	if err == nil {
		return result, nil
	}

	// A deadline on our own opCtx is a per-item timeout, not a run
	// failure. The parent being cancelled is different: propagate it.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Warn().Dur("timeout", timeout).Msg("Operation timed out, using default value")
		return defaultValue, nil
	}
	if ctx.Err() != nil {
		return defaultValue, err
	}

	switch KindOf(err) {
	case KindRateLimit, KindAuthentication:
		return defaultValue, err
	case KindTimeout:
		logger.Warn().Msg("Operation timed out, using default value")
		return defaultValue, nil
	case KindPrivateRepository, KindEmptyRepository, KindForkAccess, KindNotFound:
		logger.Warn().
			Str("error_kind", string(KindOf(err))).
			Msg("Recoverable error, using default value")
		return defaultValue, nil
	default:
		logger.Warn().Err(err).Msg("Unexpected error, using default value")
		return defaultValue, nil
	}
}
