package nats

import (
	"encoding/json"
	"time"

	natspkg "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/queue"
)

// Queue is the NATS-backed delivery transport. One subject per stream:
// delivery work, per-recipient outcomes, aggregation triggers.
type Queue struct {
	nc     *natspkg.Conn
	cfg    config.NATSConfig
	logger zerolog.Logger

	subs []*natspkg.Subscription
}

func New(cfg config.NATSConfig, logger zerolog.Logger) (*Queue, error) {
	nc, err := natspkg.Connect(cfg.URL,
		natspkg.MaxReconnects(-1),
		natspkg.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}
	return &Queue{
		nc:     nc,
		cfg:    cfg,
		logger: logger.With().Str("component", "nats_queue").Logger(),
	}, nil
}

func (q *Queue) SendBatch(msgs []queue.DeliveryMessage) error {
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "marshal delivery message")
		}
		if err := q.nc.Publish(q.cfg.DeliverySubject, data); err != nil {
			return errors.Wrap(err, "publish delivery message")
		}
	}
	return q.nc.Flush()
}

func (q *Queue) PublishOutcome(evt queue.OutcomeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal outcome event")
	}
	return errors.Wrap(q.nc.Publish(q.cfg.OutcomeSubject, data), "publish outcome event")
}

// ScheduleAggregation delays the publish with a process-local timer. NATS core
// has no broker-side delayed delivery; the sweeper independently re-checks
// unfinished sends, so a crash before the timer fires cannot strand one.
func (q *Queue) ScheduleAggregation(trigger queue.AggregationTrigger, delay time.Duration) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return errors.Wrap(err, "marshal aggregation trigger")
	}
	if delay <= 0 {
		return errors.Wrap(q.nc.Publish(q.cfg.AggregateSubject, data), "publish aggregation trigger")
	}
	time.AfterFunc(delay, func() {
		if err := q.nc.Publish(q.cfg.AggregateSubject, data); err != nil {
			q.logger.Warn().Err(err).
				Str("notification_id", trigger.NotificationID).
				Msg("failed to publish delayed aggregation trigger")
		}
	})
	return nil
}

func (q *Queue) ConsumeOutcomes(handler func(queue.OutcomeEvent) error) error {
	sub, err := q.nc.QueueSubscribe(q.cfg.OutcomeSubject, q.cfg.QueueGroup, func(msg *natspkg.Msg) {
		var evt queue.OutcomeEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			q.logger.Warn().Err(err).Msg("dropping malformed outcome event")
			return
		}
		if err := handler(evt); err != nil {
			q.logger.Warn().Err(err).
				Str("notification_id", evt.NotificationID).
				Str("recipient_id", evt.RecipientID).
				Msg("outcome handler failed")
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribe to outcome subject")
	}
	q.subs = append(q.subs, sub)
	return nil
}

func (q *Queue) ConsumeAggregationTriggers(handler func(queue.AggregationTrigger) error) error {
	sub, err := q.nc.QueueSubscribe(q.cfg.AggregateSubject, q.cfg.QueueGroup, func(msg *natspkg.Msg) {
		var trigger queue.AggregationTrigger
		if err := json.Unmarshal(msg.Data, &trigger); err != nil {
			q.logger.Warn().Err(err).Msg("dropping malformed aggregation trigger")
			return
		}
		if err := handler(trigger); err != nil {
			q.logger.Warn().Err(err).
				Str("notification_id", trigger.NotificationID).
				Msg("aggregation trigger handler failed")
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribe to aggregation subject")
	}
	q.subs = append(q.subs, sub)
	return nil
}

func (q *Queue) Close() {
	for _, sub := range q.subs {
		_ = sub.Drain()
	}
	q.nc.Close()
}
