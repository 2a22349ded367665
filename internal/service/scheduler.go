package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"brokersync/internal/errors"
	"brokersync/pkg/utils"
)

// Scheduler runs recurring sync cycles across all active accounts.
// Transient broker failures are retried with backoff; credential and
// validation failures are not, they need operator action.
type Scheduler struct {
	service  *Service
	interval time.Duration
	retry    utils.RetryConfig
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler over the service.
func NewScheduler(svc *Service, interval time.Duration, maxRetries int, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	retry := utils.DefaultRetryConfig()
	if maxRetries > 0 {
		retry.MaxAttempts = maxRetries
	}
	retry.InitialDelay = 2 * time.Second
	retry.MaxDelay = time.Minute
	retry.RetryIf = errors.IsBrokerAPIError

	return &Scheduler{
		service:  svc,
		interval: interval,
		retry:    retry,
		logger:   logger,
	}
}

// Run syncs immediately and then on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Sync scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one pass over all active accounts, retrying each failed
// account independently.
func (s *Scheduler) cycle(ctx context.Context) {
	results := s.service.SyncAll(ctx, "", nil)

	for accountID, err := range results {
		if err == nil || accountID == "" {
			continue
		}
		if !errors.IsBrokerAPIError(err) {
			s.logger.Error().Err(err).
				Str("account_id", accountID).
				Msg("Account sync failed, not retryable")
			continue
		}

		id := accountID
		retryErr := utils.Retry(ctx, s.retry, func() error {
			_, err := s.service.SyncAccount(ctx, id, nil)
			return err
		})
		if retryErr != nil {
			s.logger.Error().Err(retryErr).
				Str("account_id", id).
				Msg("Account sync failed after retries")
		}
	}
}
