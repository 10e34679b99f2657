package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/metrics"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/queue"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// Dispatcher fans a notification's batches out to the delivery queue. Batches
// run concurrently and independently: one batch exhausting its retries becomes
// a notification warning, never a fatal abort of the sibling batches.
type Dispatcher struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientRepository
	deliveryQueue queue.DeliveryQueue
	limiter       *rate.Limiter
	cfg           config.PipelineConfig
	logger        zerolog.Logger
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	recipients repository.RecipientRepository,
	deliveryQueue queue.DeliveryQueue,
	cfg config.PipelineConfig,
	logger zerolog.Logger,
) *Dispatcher {
	// Burst must cover a full batch: WaitN reserves a whole batch at once and
	// fails outright when n exceeds the burst, no matter how long it waits.
	burst := cfg.SendRatePerSec
	if burst < maxBatchSize {
		burst = maxBatchSize
	}
	return &Dispatcher{
		notifications: notifications,
		recipients:    recipients,
		deliveryQueue: deliveryQueue,
		limiter:       rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), burst),
		cfg:           cfg,
		logger:        logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchAll runs every batch through the dispatch round and waits for all of
// them. Returns the number of delivery messages actually submitted.
func (d *Dispatcher) DispatchAll(ctx context.Context, notificationID string, card json.RawMessage, batches []Batch) int {
	sem := make(chan struct{}, d.cfg.MaxParallelBatches)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		submitted int
	)

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch Batch) {
			defer wg.Done()
			defer func() { <-sem }()

			sent, err := d.dispatchBatch(ctx, notificationID, card, batch)
			if err != nil {
				metrics.BatchFailures.Inc()
				d.logger.Warn().Err(err).
					Str("notification_id", notificationID).
					Int("batch", batch.Index).
					Msg("batch dispatch failed")
				warning := fmt.Sprintf("batch %d dispatch failed: %v", batch.Index, err)
				if werr := d.notifications.AppendWarning(ctx, notificationID, warning); werr != nil {
					d.logger.Error().Err(werr).Str("notification_id", notificationID).Msg("failed to record batch warning")
				}
				return
			}
			mu.Lock()
			submitted += sent
			mu.Unlock()
		}(batch)
	}
	wg.Wait()
	return submitted
}

// dispatchBatch performs one batch's round: read current statuses, build one
// delivery message per still-pending recipient, submit, then flip those rows
// to queued. Submit and flip are not atomic; a crash in between is safe
// because a replay reads the statuses again and only re-sends rows still
// pending.
func (d *Dispatcher) dispatchBatch(ctx context.Context, notificationID string, card json.RawMessage, batch Batch) (int, error) {
	var current []models.RecipientDelivery
	err := withRetry(ctx, d.cfg.RetryAttempts, d.cfg.RetryBackoff, func() error {
		var err error
		current, err = d.recipients.ListBatch(ctx, notificationID, batch.RecipientIDs())
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "load batch statuses")
	}

	msgs := make([]queue.DeliveryMessage, 0, len(current))
	ids := make([]string, 0, len(current))
	for _, rec := range current {
		if rec.StatusCode != models.StatusCodePending {
			continue
		}
		msgs = append(msgs, queue.DeliveryMessage{
			NotificationID: notificationID,
			RecipientID:    rec.RecipientID,
			ConversationID: rec.ConversationID,
			ServiceURL:     rec.ServiceURL,
			Card:           card,
		})
		ids = append(ids, rec.RecipientID)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := d.limiter.WaitN(ctx, len(msgs)); err != nil {
		return 0, err
	}

	err = withRetry(ctx, d.cfg.RetryAttempts, d.cfg.RetryBackoff, func() error {
		return d.deliveryQueue.SendBatch(msgs)
	})
	if err != nil {
		return 0, errors.Wrap(err, "submit delivery messages")
	}

	err = withRetry(ctx, d.cfg.RetryAttempts, d.cfg.RetryBackoff, func() error {
		_, err := d.recipients.MarkQueued(ctx, notificationID, ids)
		return err
	})
	if err != nil {
		// Messages are on the queue but rows still read pending; a replay
		// re-sends them, which at-least-once delivery already permits.
		return 0, errors.Wrap(err, "mark batch queued")
	}

	metrics.MessagesDispatched.Add(float64(len(msgs)))
	return len(msgs), nil
}
