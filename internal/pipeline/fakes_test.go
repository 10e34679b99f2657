package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/queue"
	"github.com/teamcast/broadcast-api/internal/repository"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		BatchSize:          100,
		MaxParallelBatches: 2,
		RetryAttempts:      2,
		RetryBackoff:       time.Millisecond,
		SendRatePerSec:     100000,
		AggregationDelay:   0,
		CompletionDeadline: time.Minute,
		MaxDiagnosticLen:   4096,
	}
}

// fakeRecipientRepo is an in-memory RecipientRepository keyed like the real
// table: (notification_id, recipient_id).
type fakeRecipientRepo struct {
	mu   sync.Mutex
	rows map[string]map[string]*models.RecipientDelivery

	upsertCalls int
}

func newFakeRecipientRepo() *fakeRecipientRepo {
	return &fakeRecipientRepo{rows: map[string]map[string]*models.RecipientDelivery{}}
}

func (f *fakeRecipientRepo) BatchUpsertPending(ctx context.Context, recipients []models.RecipientDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(recipients) > 100 {
		return errors.Errorf("batch of %d exceeds the write limit", len(recipients))
	}
	f.upsertCalls++
	for _, rec := range recipients {
		byRecipient, ok := f.rows[rec.NotificationID]
		if !ok {
			byRecipient = map[string]*models.RecipientDelivery{}
			f.rows[rec.NotificationID] = byRecipient
		}
		if _, exists := byRecipient[rec.RecipientID]; exists {
			continue // ON CONFLICT DO NOTHING
		}
		row := rec
		row.StatusCode = models.StatusCodePending
		byRecipient[rec.RecipientID] = &row
	}
	return nil
}

func (f *fakeRecipientRepo) ListByNotification(ctx context.Context, notificationID string) ([]models.RecipientDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RecipientDelivery
	for _, row := range f.rows[notificationID] {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (f *fakeRecipientRepo) ListBatch(ctx context.Context, notificationID string, recipientIDs []string) ([]models.RecipientDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RecipientDelivery
	for _, id := range recipientIDs {
		if row, ok := f.rows[notificationID][id]; ok {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (f *fakeRecipientRepo) MarkQueued(ctx context.Context, notificationID string, recipientIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var flipped []string
	for _, id := range recipientIDs {
		row, ok := f.rows[notificationID][id]
		if !ok || row.StatusCode != models.StatusCodePending {
			continue
		}
		row.StatusCode = models.StatusCodeQueued
		flipped = append(flipped, id)
	}
	return flipped, nil
}

func (f *fakeRecipientRepo) RecordOutcome(ctx context.Context, notificationID, recipientID string, outcome models.DeliveryOutcome, sentAt time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[notificationID][recipientID]
	if !ok {
		return nil
	}
	if row.DeliveryStatus != "" {
		return nil // first outcome wins
	}
	row.DeliveryStatus = outcome
	t := sentAt
	row.SentAt = &t
	row.ErrorMessage = errMsg
	return nil
}

func (f *fakeRecipientRepo) CountTotals(ctx context.Context, notificationID string) (models.AggregateTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var totals models.AggregateTotals
	for _, row := range f.rows[notificationID] {
		switch row.DeliveryStatus {
		case models.OutcomeSucceeded:
			totals.Succeeded++
		case models.OutcomeFailed:
			totals.Failed++
		case models.OutcomeThrottled:
			totals.Throttled++
		case models.OutcomeRecipientNotFound:
			totals.RecipientNotFound++
		}
		if row.SentAt != nil && (totals.LastSentAt == nil || row.SentAt.After(*totals.LastSentAt)) {
			t := *row.SentAt
			totals.LastSentAt = &t
		}
	}
	return totals, nil
}

// fakeNotificationRepo is an in-memory NotificationRepository.
type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications map[string]*models.Notification
}

func newFakeNotificationRepo(seed ...models.Notification) *fakeNotificationRepo {
	repo := &fakeNotificationRepo{notifications: map[string]*models.Notification{}}
	for _, n := range seed {
		row := n
		repo.notifications[n.ID] = &row
	}
	return repo
}

func (f *fakeNotificationRepo) get(id string) (*models.Notification, error) {
	row, ok := f.notifications[id]
	if !ok {
		return nil, repository.ErrNotificationNotFound
	}
	return row, nil
}

func (f *fakeNotificationRepo) CreateDraft(ctx context.Context, n models.Notification) (models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.Partition = models.PartitionDraft
	n.IsDraft = true
	row := n
	f.notifications[n.ID] = &row
	return n, nil
}

func (f *fakeNotificationRepo) UpdateDraft(ctx context.Context, n models.Notification) (models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(n.ID)
	if err != nil {
		return models.Notification{}, err
	}
	*row = n
	return n, nil
}

func (f *fakeNotificationRepo) GetDraft(ctx context.Context, id string) (models.Notification, error) {
	return f.Get(ctx, id)
}

func (f *fakeNotificationRepo) DeleteDraft(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notifications, id)
	return nil
}

func (f *fakeNotificationRepo) ListDrafts(ctx context.Context) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) ListDraftsByChannel(ctx context.Context, channelID string) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, row := range f.notifications {
		if row.Partition == models.PartitionDraft && row.ChannelID == channelID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) Get(ctx context.Context, id string) (models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return models.Notification{}, err
	}
	return *row, nil
}

func (f *fakeNotificationRepo) ListSent(ctx context.Context, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) ListUnfinished(ctx context.Context, startedBefore time.Time) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, row := range f.notifications {
		if row.Partition != models.PartitionSent || row.Status.IsTerminal() {
			continue
		}
		if row.SendingStartedAt != nil && row.SendingStartedAt.Before(startedBefore) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MoveDraftToSending(ctx context.Context, draftID, sentID string) (models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(draftID)
	if err != nil {
		return models.Notification{}, err
	}
	now := time.Now().UTC()
	moved := *row
	moved.ID = sentID
	moved.Partition = models.PartitionSent
	moved.IsDraft = false
	moved.Status = models.StatusQueued
	moved.SendingStartedAt = &now
	delete(f.notifications, draftID)
	f.notifications[sentID] = &moved
	return moved, nil
}

func (f *fakeNotificationRepo) UpdateStatus(ctx context.Context, id string, status models.NotificationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	row.Status = status
	return nil
}

func (f *fakeNotificationRepo) SetTotalMessageCount(ctx context.Context, id string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	row.TotalMessageCount = total
	return nil
}

func (f *fakeNotificationRepo) AppendWarning(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	row.WarningMessage += text + "\n"
	return nil
}

func (f *fakeNotificationRepo) AppendError(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	row.ErrorMessage += text + "\n"
	return nil
}

func (f *fakeNotificationRepo) MergeTotals(ctx context.Context, id string, totals models.AggregateTotals) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	if row.Status.IsTerminal() {
		return nil
	}
	f.applyTotals(row, totals)
	return nil
}

func (f *fakeNotificationRepo) CompleteSending(ctx context.Context, id string, totals models.AggregateTotals, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	if row.Status.IsTerminal() {
		return nil
	}
	f.applyTotals(row, totals)
	row.Status = models.StatusSent
	t := sentAt
	row.SentAt = &t
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string, failedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.get(id)
	if err != nil {
		return err
	}
	if row.Status == models.StatusSent {
		return nil
	}
	row.Status = models.StatusFailed
	t := failedAt
	row.SentAt = &t
	return nil
}

func (f *fakeNotificationRepo) applyTotals(row *models.Notification, totals models.AggregateTotals) {
	row.Succeeded = totals.Succeeded
	row.Failed = totals.Failed
	row.Throttled = totals.Throttled
	row.RecipientNotFound = totals.RecipientNotFound
	row.Unknown = totals.Unknown
}

// fakeQueue records every published message.
type fakeQueue struct {
	mu       sync.Mutex
	sent     []queue.DeliveryMessage
	triggers []queue.AggregationTrigger
	sendErr  error
}

func (f *fakeQueue) SendBatch(msgs []queue.DeliveryMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeQueue) PublishOutcome(evt queue.OutcomeEvent) error { return nil }

func (f *fakeQueue) ScheduleAggregation(trigger queue.AggregationTrigger, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return nil
}

func (f *fakeQueue) sentCountFor(recipientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.sent {
		if msg.RecipientID == recipientID {
			count++
		}
	}
	return count
}
