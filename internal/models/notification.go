package models

import (
	"time"

	"github.com/lib/pq"
)

// NotificationPartition is the lifecycle stage a notification row lives in.
// Drafts are author-editable; sent notifications are immutable broadcast records.
type NotificationPartition string

const (
	PartitionDraft NotificationPartition = "draft"
	PartitionSent  NotificationPartition = "sent"
)

type NotificationStatus string

const (
	StatusUnknown           NotificationStatus = "Unknown"
	StatusQueued            NotificationStatus = "Queued"
	StatusSyncingRecipients NotificationStatus = "SyncingRecipients"
	StatusInstallingApp     NotificationStatus = "InstallingApp"
	StatusSending           NotificationStatus = "Sending"
	StatusSent              NotificationStatus = "Sent"
	StatusFailed            NotificationStatus = "Failed"
)

// IsTerminal reports whether no further pipeline step may mutate the notification.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Notification is one broadcast: content, audience selectors, lifecycle and
// delivery counters. Counters are recomputed from recipient_deliveries rows,
// never accumulated, so repeated aggregation runs are harmless.
type Notification struct {
	ID        string                `json:"id" db:"id"`
	Partition NotificationPartition `json:"-" db:"partition"`

	// Audience selectors. Exactly one of AllUsers, TeamIDs, RosterTeamIDs,
	// GroupIDs must be set when the draft is sent.
	AllUsers      bool           `json:"all_users" db:"all_users"`
	TeamIDs       pq.StringArray `json:"team_ids" db:"team_ids"`
	RosterTeamIDs pq.StringArray `json:"roster_team_ids" db:"roster_team_ids"`
	GroupIDs      pq.StringArray `json:"group_ids" db:"group_ids"`

	Title       string `json:"title" db:"title"`
	ImageLink   string `json:"image_link" db:"image_link"`
	Summary     string `json:"summary" db:"summary"`
	Author      string `json:"author" db:"author"`
	ButtonTitle string `json:"button_title" db:"button_title"`
	ButtonLink  string `json:"button_link" db:"button_link"`

	IsDraft bool `json:"is_draft" db:"is_draft"`
	// ChannelID is the authoring channel the draft was created from; draft
	// listings are scoped to it.
	ChannelID        string     `json:"channel_id" db:"channel_id"`
	CreatedBy        string     `json:"created_by" db:"created_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	SendingStartedAt *time.Time `json:"sending_started_at,omitempty" db:"sending_started_at"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`

	TotalMessageCount int `json:"total_message_count" db:"total_message_count"`
	Succeeded         int `json:"succeeded" db:"succeeded"`
	Failed            int `json:"failed" db:"failed"`
	Throttled         int `json:"throttled" db:"throttled"`
	RecipientNotFound int `json:"recipient_not_found" db:"recipient_not_found"`
	Unknown           int `json:"unknown" db:"unknown"`

	Status         NotificationStatus `json:"status" db:"status"`
	ErrorMessage   string             `json:"error_message,omitempty" db:"error_message"`
	WarningMessage string             `json:"warning_message,omitempty" db:"warning_message"`
}

// CountedOutcomes is the number of recipients with a recorded terminal outcome,
// including the ones written off as unknown by forced completion.
func (n *Notification) CountedOutcomes() int {
	return n.Succeeded + n.Failed + n.Throttled + n.RecipientNotFound + n.Unknown
}

// AggregateTotals is a recomputed-from-rows snapshot of delivery outcomes for
// one notification. LastSentAt carries the most recent outcome timestamp and
// becomes the notification's sent_at when the snapshot completes the send.
type AggregateTotals struct {
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	Throttled         int `json:"throttled"`
	RecipientNotFound int `json:"recipient_not_found"`
	Unknown           int `json:"unknown"`

	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// Counted is the number of recipients whose real outcome is known. Unknown is
// excluded: it is the forced-completion remainder, not a reported outcome.
func (t AggregateTotals) Counted() int {
	return t.Succeeded + t.Failed + t.Throttled + t.RecipientNotFound
}
