package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecipientsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_recipients_resolved_total",
		Help: "Recipients produced by audience resolution, after dedup.",
	})

	MessagesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_messages_dispatched_total",
		Help: "Delivery messages submitted to the queue.",
	})

	BatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_batch_failures_total",
		Help: "Dispatch batches that exhausted retries and were skipped.",
	})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_delivery_outcomes_total",
		Help: "Per-recipient delivery outcomes consumed from the queue.",
	}, []string{"outcome"})

	ForcedCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_forced_completions_total",
		Help: "Notifications completed by the safety net with unknown outcomes.",
	})

	SendsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_sends_failed_total",
		Help: "Notifications marked Failed by the failure handler.",
	})
)
