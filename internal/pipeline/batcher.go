package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/audience"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// Batch is one bounded page of a notification's recipients. Ephemeral: only
// the per-recipient rows are persisted, the page itself just bounds fan-out
// and batch-write sizes.
type Batch struct {
	Index      int
	Recipients []models.RecipientDelivery
}

// RecipientIDs returns the identities in this batch, for status lookups.
func (b Batch) RecipientIDs() []string {
	ids := make([]string, len(b.Recipients))
	for i, rec := range b.Recipients {
		ids[i] = rec.RecipientID
	}
	return ids
}

// maxBatchSize is the store's batch-write limit; no batch ever exceeds it.
const maxBatchSize = 100

type Batcher struct {
	recipients repository.RecipientRepository
	batchSize  int
}

func NewBatcher(recipients repository.RecipientRepository, batchSize int) *Batcher {
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	return &Batcher{recipients: recipients, batchSize: batchSize}
}

// InitializePending pages the resolved audience into batches and durably
// records a pending delivery row per recipient. Idempotent: rows that exist
// already are left untouched, so calling this twice for the same audience
// still yields exactly one row per recipient.
func (b *Batcher) InitializePending(ctx context.Context, notificationID string, recipients []audience.Recipient) ([]Batch, error) {
	var batches []Batch
	for start := 0; start < len(recipients); start += b.batchSize {
		end := start + b.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		rows := make([]models.RecipientDelivery, 0, end-start)
		for _, rec := range recipients[start:end] {
			rows = append(rows, models.RecipientDelivery{
				NotificationID: notificationID,
				RecipientID:    rec.ID,
				ConversationID: rec.ConversationID,
				ServiceURL:     rec.ServiceURL,
				StatusCode:     models.StatusCodePending,
			})
		}

		if err := b.recipients.BatchUpsertPending(ctx, rows); err != nil {
			return nil, errors.Wrapf(err, "initialize pending rows for batch %d", len(batches))
		}
		batches = append(batches, Batch{Index: len(batches), Recipients: rows})
	}
	return batches, nil
}
