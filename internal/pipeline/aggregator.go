package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/metrics"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// Aggregator folds asynchronous per-recipient outcomes back onto the parent
// notification. Counters are always recomputed from the stored delivery rows,
// never incremented, so every path here is idempotent and safe to run
// concurrently with itself.
type Aggregator struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientRepository
	cfg           config.PipelineConfig
	logger        zerolog.Logger
}

func NewAggregator(
	notifications repository.NotificationRepository,
	recipients repository.RecipientRepository,
	cfg config.PipelineConfig,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		notifications: notifications,
		recipients:    recipients,
		cfg:           cfg,
		logger:        logger.With().Str("component", "aggregator").Logger(),
	}
}

// ApplyOutcome records one delivery worker's report and refreshes the parent
// notification's counters. When the last expected outcome arrives, the
// notification transitions to Sent with the most recent outcome timestamp.
func (a *Aggregator) ApplyOutcome(ctx context.Context, notificationID, recipientID string, outcome models.DeliveryOutcome, sentAt time.Time, errMsg string) error {
	err := withRetry(ctx, a.cfg.RetryAttempts, a.cfg.RetryBackoff, func() error {
		return a.recipients.RecordOutcome(ctx, notificationID, recipientID, outcome, sentAt, errMsg)
	})
	if err != nil {
		return errors.Wrap(err, "record outcome")
	}
	metrics.Outcomes.WithLabelValues(string(outcome)).Inc()

	return a.refresh(ctx, notificationID, false)
}

// Aggregate recomputes the totals for one notification from its delivery rows.
func (a *Aggregator) Aggregate(ctx context.Context, notificationID string) (models.AggregateTotals, error) {
	return a.recipients.CountTotals(ctx, notificationID)
}

// ForceComplete is the safety-net path: recompute from rows and, if the
// completion deadline has passed, write off the missing outcomes as unknown
// and close the notification out.
func (a *Aggregator) ForceComplete(ctx context.Context, notificationID string) error {
	return a.refresh(ctx, notificationID, true)
}

func (a *Aggregator) refresh(ctx context.Context, notificationID string, force bool) error {
	n, err := a.notifications.Get(ctx, notificationID)
	if err != nil {
		return errors.Wrap(err, "load notification for aggregation")
	}
	if n.Status.IsTerminal() {
		return nil
	}

	totals, err := a.recipients.CountTotals(ctx, notificationID)
	if err != nil {
		return err
	}

	switch {
	case totals.Counted() >= n.TotalMessageCount:
		return a.complete(ctx, notificationID, totals)

	case force && a.deadlinePassed(n):
		totals.Unknown = n.TotalMessageCount - totals.Counted()
		metrics.ForcedCompletions.Inc()
		a.logger.Warn().
			Str("notification_id", notificationID).
			Int("unknown", totals.Unknown).
			Msg("forcing completion with unreported outcomes")
		return a.complete(ctx, notificationID, totals)

	default:
		err := withRetry(ctx, a.cfg.RetryAttempts, a.cfg.RetryBackoff, func() error {
			return a.notifications.MergeTotals(ctx, notificationID, totals)
		})
		if err != nil {
			// The notification keeps its last known counters; the next
			// outcome or sweep recomputes from rows and catches up.
			a.logger.Error().Err(err).Str("notification_id", notificationID).Msg("failed to merge totals")
			return err
		}
		return nil
	}
}

func (a *Aggregator) complete(ctx context.Context, notificationID string, totals models.AggregateTotals) error {
	sentAt := time.Now().UTC()
	if totals.LastSentAt != nil {
		sentAt = *totals.LastSentAt
	}
	err := withRetry(ctx, a.cfg.RetryAttempts, a.cfg.RetryBackoff, func() error {
		return a.notifications.CompleteSending(ctx, notificationID, totals, sentAt)
	})
	if err != nil {
		a.logger.Error().Err(err).Str("notification_id", notificationID).Msg("failed to complete notification")
		return err
	}
	a.logger.Info().
		Str("notification_id", notificationID).
		Int("succeeded", totals.Succeeded).
		Int("failed", totals.Failed).
		Int("throttled", totals.Throttled).
		Int("not_found", totals.RecipientNotFound).
		Int("unknown", totals.Unknown).
		Msg("notification send complete")
	return nil
}

func (a *Aggregator) deadlinePassed(n models.Notification) bool {
	if n.SendingStartedAt == nil {
		return false
	}
	return time.Since(*n.SendingStartedAt) >= a.cfg.CompletionDeadline
}
