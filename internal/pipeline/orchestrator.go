package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/audience"
	"github.com/teamcast/broadcast-api/internal/cards"
	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/metrics"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/queue"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// Orchestrator drives one notification send through its state machine:
//
//	Queued -> SyncingRecipients -> Sending -> Sent | Failed
//
// The state lives on the notification row and every side-effecting step is
// idempotent by key (recipient identity, batch page), so Run may be replayed
// from the top after a crash: completed steps degrade to no-ops and the send
// picks up where it left off.
type Orchestrator struct {
	resolver      *audience.Resolver
	batcher       *Batcher
	dispatcher    *Dispatcher
	failures      *FailureHandler
	notifications repository.NotificationRepository
	deliveryQueue queue.DeliveryQueue
	cfg           config.PipelineConfig
	logger        zerolog.Logger
}

func NewOrchestrator(
	resolver *audience.Resolver,
	batcher *Batcher,
	dispatcher *Dispatcher,
	failures *FailureHandler,
	notifications repository.NotificationRepository,
	deliveryQueue queue.DeliveryQueue,
	cfg config.PipelineConfig,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		resolver:      resolver,
		batcher:       batcher,
		dispatcher:    dispatcher,
		failures:      failures,
		notifications: notifications,
		deliveryQueue: deliveryQueue,
		cfg:           cfg,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes (or resumes) the send for one notification. Fatal errors are
// routed to the failure handler; partial trouble is already recorded as
// warnings by the steps themselves.
func (o *Orchestrator) Run(ctx context.Context, notificationID string) error {
	n, err := o.notifications.Get(ctx, notificationID)
	if err != nil {
		return errors.Wrapf(err, "load notification %s", notificationID)
	}
	if n.Status.IsTerminal() {
		return nil
	}

	logger := o.logger.With().Str("notification_id", n.ID).Logger()
	logger.Info().Str("status", string(n.Status)).Msg("starting send")

	if err := o.run(ctx, n, logger); err != nil {
		o.failures.HandleFailure(ctx, n, err)
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, n models.Notification, logger zerolog.Logger) error {
	if err := o.notifications.UpdateStatus(ctx, n.ID, models.StatusSyncingRecipients); err != nil {
		return err
	}

	resolved, err := o.resolver.Resolve(ctx, n)
	if err != nil {
		return errors.Wrap(err, "resolve audience")
	}
	metrics.RecipientsResolved.Add(float64(resolved.Total()))

	for _, warning := range resolved.Warnings {
		if err := o.notifications.AppendWarning(ctx, n.ID, warning); err != nil {
			logger.Error().Err(err).Msg("failed to record resolution warning")
		}
	}

	if err := o.notifications.SetTotalMessageCount(ctx, n.ID, resolved.Total()); err != nil {
		return err
	}

	if resolved.Total() == 0 {
		// Nothing to deliver; close out immediately rather than waiting on
		// outcomes that can never arrive.
		logger.Info().Msg("audience resolved to zero recipients")
		return o.notifications.CompleteSending(ctx, n.ID, models.AggregateTotals{}, time.Now().UTC())
	}

	batches, err := o.batcher.InitializePending(ctx, n.ID, resolved.Recipients)
	if err != nil {
		return errors.Wrap(err, "initialize pending recipients")
	}

	if err := o.notifications.UpdateStatus(ctx, n.ID, models.StatusSending); err != nil {
		return err
	}

	card, err := cards.Render(n)
	if err != nil {
		return errors.Wrap(err, "render card")
	}

	submitted := o.dispatcher.DispatchAll(ctx, n.ID, card, batches)
	logger.Info().
		Int("recipients", resolved.Total()).
		Int("batches", len(batches)).
		Int("submitted", submitted).
		Msg("dispatch complete")

	trigger := queue.AggregationTrigger{NotificationID: n.ID, ExpectedTotal: resolved.Total()}
	if err := o.deliveryQueue.ScheduleAggregation(trigger, o.cfg.AggregationDelay); err != nil {
		// The sweeper re-checks unfinished sends, so a lost trigger only
		// delays completion.
		logger.Warn().Err(err).Msg("failed to schedule aggregation trigger")
	}
	return nil
}
