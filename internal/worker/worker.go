package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/pipeline"
	"github.com/teamcast/broadcast-api/internal/queue"
)

// Worker hosts the fan-in side of the pipeline: it consumes per-recipient
// outcome events reported by the external delivery workers and the delayed
// aggregation triggers, feeding both into the aggregator.
type Worker struct {
	consumer   queue.Consumer
	aggregator *pipeline.Aggregator
	logger     zerolog.Logger
}

func New(consumer queue.Consumer, aggregator *pipeline.Aggregator, logger zerolog.Logger) *Worker {
	return &Worker{
		consumer:   consumer,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "worker").Logger(),
	}
}

// Start registers the queue subscriptions. The context bounds the work done
// per message, not the subscriptions' lifetime; Close tears those down.
func (w *Worker) Start(ctx context.Context) error {
	err := w.consumer.ConsumeOutcomes(func(evt queue.OutcomeEvent) error {
		outcome := models.DeliveryOutcome(evt.Outcome)
		if !outcome.IsValid() {
			w.logger.Warn().
				Str("notification_id", evt.NotificationID).
				Str("outcome", evt.Outcome).
				Msg("dropping outcome event with unknown outcome")
			return nil
		}
		return w.aggregator.ApplyOutcome(ctx, evt.NotificationID, evt.RecipientID, outcome, evt.SentAt, evt.ErrorMessage)
	})
	if err != nil {
		return errors.Wrap(err, "start outcome consumer")
	}

	err = w.consumer.ConsumeAggregationTriggers(func(trigger queue.AggregationTrigger) error {
		return w.aggregator.ForceComplete(ctx, trigger.NotificationID)
	})
	if err != nil {
		return errors.Wrap(err, "start aggregation trigger consumer")
	}

	w.logger.Info().Msg("queue consumers started")
	return nil
}
