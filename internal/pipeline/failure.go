package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/metrics"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// FailureHandler is the terminal catch for unrecoverable send errors. It
// persists the error narrative and makes sure the notification never looks
// silently stuck. Per-recipient rows written so far are left intact for
// diagnosis.
type FailureHandler struct {
	notifications repository.NotificationRepository
	cfg           config.PipelineConfig
	logger        zerolog.Logger
}

func NewFailureHandler(notifications repository.NotificationRepository, cfg config.PipelineConfig, logger zerolog.Logger) *FailureHandler {
	return &FailureHandler{
		notifications: notifications,
		cfg:           cfg,
		logger:        logger.With().Str("component", "failure_handler").Logger(),
	}
}

// HandleFailure appends the capped error text and, when the failure happened
// before any recipient was dispatched, marks the notification Failed with the
// failure time as sent_at. After dispatch has begun the status is left for
// the aggregation safety net to close out, so partial progress still counts.
func (h *FailureHandler) HandleFailure(ctx context.Context, n models.Notification, sendErr error) {
	text := sendErr.Error()
	if len(text) > h.cfg.MaxDiagnosticLen {
		text = text[:h.cfg.MaxDiagnosticLen]
	}

	if err := h.notifications.AppendError(ctx, n.ID, text); err != nil {
		h.logger.Error().Err(err).Str("notification_id", n.ID).Msg("failed to persist error narrative")
	}

	if dispatchStarted(n.Status) {
		h.logger.Error().Err(sendErr).
			Str("notification_id", n.ID).
			Msg("send failed after dispatch started; leaving completion to the safety net")
		return
	}

	if err := h.notifications.MarkFailed(ctx, n.ID, time.Now().UTC()); err != nil {
		h.logger.Error().Err(err).Str("notification_id", n.ID).Msg("failed to mark notification failed")
		return
	}
	metrics.SendsFailed.Inc()
	h.logger.Error().Err(sendErr).Str("notification_id", n.ID).Msg("notification send failed")
}

func dispatchStarted(status models.NotificationStatus) bool {
	return status == models.StatusSending || status == models.StatusSent
}
