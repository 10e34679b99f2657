package models

import "time"

// Recipient delivery status codes. Terminal outcomes are recorded separately in
// DeliveryStatus so a replayed dispatch can distinguish "never enqueued" from
// "enqueued but outcome unknown".
const (
	StatusCodePending = 0
	StatusCodeQueued  = 1
)

type DeliveryOutcome string

const (
	OutcomeSucceeded         DeliveryOutcome = "Succeeded"
	OutcomeFailed            DeliveryOutcome = "Failed"
	OutcomeThrottled         DeliveryOutcome = "Throttled"
	OutcomeRecipientNotFound DeliveryOutcome = "RecipientNotFound"
)

func (o DeliveryOutcome) IsValid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeThrottled, OutcomeRecipientNotFound:
		return true
	}
	return false
}

// RecipientDelivery is the per-(notification, recipient) delivery record. The
// primary key (NotificationID, RecipientID) is the dedup key: at most one row
// per recipient per broadcast, no matter how many source sets referenced them.
type RecipientDelivery struct {
	NotificationID string `json:"notification_id" db:"notification_id"`
	// RecipientID is the stable directory id of a user, or the team id for a
	// general-channel pseudo-recipient.
	RecipientID    string          `json:"recipient_id" db:"recipient_id"`
	ConversationID string          `json:"conversation_id,omitempty" db:"conversation_id"`
	ServiceURL     string          `json:"service_url,omitempty" db:"service_url"`
	StatusCode     int             `json:"status_code" db:"status_code"`
	DeliveryStatus DeliveryOutcome `json:"delivery_status,omitempty" db:"delivery_status"`
	SentAt         *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage   string          `json:"error_message,omitempty" db:"error_message"`
}
