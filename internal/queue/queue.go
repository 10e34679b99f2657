package queue

import (
	"encoding/json"
	"time"
)

// DeliveryMessage is one unit of delivery work: send this notification's card
// to this recipient's conversation. Consumed by the external delivery workers.
type DeliveryMessage struct {
	NotificationID string          `json:"notification_id"`
	RecipientID    string          `json:"recipient_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ServiceURL     string          `json:"service_url,omitempty"`
	Card           json.RawMessage `json:"card,omitempty"`
}

// OutcomeEvent is a delivery worker's report for one recipient.
type OutcomeEvent struct {
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Outcome        string    `json:"outcome"`
	SentAt         time.Time `json:"sent_at"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// AggregationTrigger is the safety-net signal: re-check this notification's
// completion, forcing it once the deadline has passed. ExpectedTotal carries
// the recipient count known at dispatch time.
type AggregationTrigger struct {
	NotificationID string `json:"notification_id"`
	ExpectedTotal  int    `json:"expected_total"`
}

// DeliveryQueue is the message transport between the dispatcher, the external
// delivery workers and the aggregation consumers. At-least-once, unordered.
type DeliveryQueue interface {
	// SendBatch publishes one delivery message per recipient of a batch.
	SendBatch(msgs []DeliveryMessage) error
	// PublishOutcome reports a per-recipient delivery outcome.
	PublishOutcome(evt OutcomeEvent) error
	// ScheduleAggregation publishes an aggregation trigger after the delay.
	ScheduleAggregation(trigger AggregationTrigger, delay time.Duration) error
}

// Consumer registers handlers for the subjects this process consumes. Handler
// errors leave the message to be retried by the transport or the sweeper.
type Consumer interface {
	ConsumeOutcomes(handler func(OutcomeEvent) error) error
	ConsumeAggregationTriggers(handler func(AggregationTrigger) error) error
	Close()
}
