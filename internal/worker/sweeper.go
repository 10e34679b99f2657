package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/pipeline"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// Sweeper is the scheduled safety net. On every tick it picks up sends that
// are past their expected progress and pushes them forward: sends stuck
// before dispatch are resumed through the orchestrator, sends waiting on
// outcomes are re-aggregated and eventually force-completed.
type Sweeper struct {
	notifications repository.NotificationRepository
	orchestrator  *pipeline.Orchestrator
	aggregator    *pipeline.Aggregator
	pipelineCfg   config.PipelineConfig
	schedule      string
	cron          *cron.Cron
	logger        zerolog.Logger
}

func NewSweeper(
	notifications repository.NotificationRepository,
	orchestrator *pipeline.Orchestrator,
	aggregator *pipeline.Aggregator,
	pipelineCfg config.PipelineConfig,
	sweeperCfg config.SweeperConfig,
	logger zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		notifications: notifications,
		orchestrator:  orchestrator,
		aggregator:    aggregator,
		pipelineCfg:   pipelineCfg,
		schedule:      sweeperCfg.Schedule,
		cron:          cron.New(),
		logger:        logger.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.sweep(ctx) })
	if err != nil {
		return errors.Wrap(err, "schedule sweeper")
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("sweeper stopped")
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.pipelineCfg.AggregationDelay)
	stuck, err := s.notifications.ListUnfinished(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list unfinished sends")
		return
	}

	for _, n := range stuck {
		switch n.Status {
		case models.StatusQueued, models.StatusSyncingRecipients, models.StatusInstallingApp:
			s.logger.Info().Str("notification_id", n.ID).Str("status", string(n.Status)).Msg("resuming stuck send")
			if err := s.orchestrator.Run(ctx, n.ID); err != nil {
				s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("resume failed")
			}
		case models.StatusSending:
			if err := s.aggregator.ForceComplete(ctx, n.ID); err != nil {
				s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("forced aggregation failed")
			}
		}
	}
}
