package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kitchenledger/internal/domain"
	"kitchenledger/internal/logger"
)

// withRetry runs fn until it succeeds, fails for good or runs out of
// attempts. Conflicts are always retried since the store rolled them back.
// Transient failures are retried only when the request never left the client
// or when the command carries an idempotency key.
func (s *Service) withRetry(ctx context.Context, op string, idempotent bool, fn func(context.Context) error) error {
	var (
		err     error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err, idempotent) || attempt >= s.maxAttempts {
			break
		}
		s.metrics.ObserveRetry(op)
		delay := s.backoff << (attempt - 1)
		logger.Warn(ctx).Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying store commit")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	var conflict *domain.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		conflict.Attempts = attempt
	}
	return err
}

func retryable(err error, idempotent bool) bool {
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return true
	}
	var transient *domain.TransientStoreError
	if errors.As(err, &transient) {
		return transient.Unsent || idempotent
	}
	return false
}

func isShortage(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock)
}
