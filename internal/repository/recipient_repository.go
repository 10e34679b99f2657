package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/models"
)

// maxBatchUpsert mirrors the store's batch-write limit: all rows of one batch
// share the notification_id partition and there are never more than 100.
const maxBatchUpsert = 100

type RecipientRepository interface {
	// BatchUpsertPending writes pending delivery rows for one batch of
	// recipients. Idempotent: a row that already exists (any status) is left
	// untouched, so replaying initialization never resets progress.
	BatchUpsertPending(ctx context.Context, recipients []models.RecipientDelivery) error

	ListByNotification(ctx context.Context, notificationID string) ([]models.RecipientDelivery, error)
	ListBatch(ctx context.Context, notificationID string, recipientIDs []string) ([]models.RecipientDelivery, error)

	// MarkQueued flips rows from pending to queued, touching only rows still
	// pending. Returns the ids actually flipped.
	MarkQueued(ctx context.Context, notificationID string, recipientIDs []string) ([]string, error)

	// RecordOutcome stamps a terminal delivery outcome on one row. The first
	// recorded outcome wins; redeliveries of the same outcome event are no-ops.
	RecordOutcome(ctx context.Context, notificationID, recipientID string, outcome models.DeliveryOutcome, sentAt time.Time, errMsg string) error

	// CountTotals recomputes outcome totals from the stored rows.
	CountTotals(ctx context.Context, notificationID string) (models.AggregateTotals, error)
}

type recipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

func (r *recipientRepository) BatchUpsertPending(ctx context.Context, recipients []models.RecipientDelivery) error {
	if len(recipients) == 0 {
		return nil
	}
	if len(recipients) > maxBatchUpsert {
		return errors.Errorf("batch of %d exceeds the %d-row write limit", len(recipients), maxBatchUpsert)
	}

	placeholders := make([]string, 0, len(recipients))
	args := make([]interface{}, 0, len(recipients)*4)
	for i, rec := range recipients {
		base := i * 4
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d, 0)", base+1, base+2, base+3, base+4))
		args = append(args, rec.NotificationID, rec.RecipientID, rec.ConversationID, rec.ServiceURL)
	}

	query := `
		INSERT INTO broadcast.recipient_deliveries
			(notification_id, recipient_id, conversation_id, service_url, status_code)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (notification_id, recipient_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "batch upsert pending recipients")
}

const recipientColumns = `
	notification_id, recipient_id, conversation_id, service_url,
	status_code, delivery_status, sent_at, error_message
`

func (r *recipientRepository) ListByNotification(ctx context.Context, notificationID string) ([]models.RecipientDelivery, error) {
	query := `SELECT ` + recipientColumns + `
		FROM broadcast.recipient_deliveries
		WHERE notification_id = $1
		ORDER BY recipient_id`

	return r.queryRecipients(ctx, query, notificationID)
}

func (r *recipientRepository) ListBatch(ctx context.Context, notificationID string, recipientIDs []string) ([]models.RecipientDelivery, error) {
	query := `SELECT ` + recipientColumns + `
		FROM broadcast.recipient_deliveries
		WHERE notification_id = $1 AND recipient_id = ANY($2)
		ORDER BY recipient_id`

	return r.queryRecipients(ctx, query, notificationID, pq.Array(recipientIDs))
}

func (r *recipientRepository) MarkQueued(ctx context.Context, notificationID string, recipientIDs []string) ([]string, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}

	// The status_code = 0 predicate is the replay guard: rows that already
	// advanced are never flipped back or re-counted.
	query := `
		UPDATE broadcast.recipient_deliveries
		SET status_code = 1
		WHERE notification_id = $1 AND recipient_id = ANY($2) AND status_code = 0
		RETURNING recipient_id`

	rows, err := r.db.QueryContext(ctx, query, notificationID, pq.Array(recipientIDs))
	if err != nil {
		return nil, errors.Wrap(err, "mark recipients queued")
	}
	defer rows.Close()

	var flipped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		flipped = append(flipped, id)
	}
	return flipped, rows.Err()
}

func (r *recipientRepository) RecordOutcome(ctx context.Context, notificationID, recipientID string, outcome models.DeliveryOutcome, sentAt time.Time, errMsg string) error {
	if !outcome.IsValid() {
		return errors.Errorf("invalid delivery outcome %q", outcome)
	}

	query := `
		UPDATE broadcast.recipient_deliveries
		SET delivery_status = $3, sent_at = $4, error_message = $5
		WHERE notification_id = $1 AND recipient_id = $2 AND delivery_status IS NULL`

	_, err := r.db.ExecContext(ctx, query, notificationID, recipientID, string(outcome), sentAt, errMsg)
	return errors.Wrap(err, "record delivery outcome")
}

func (r *recipientRepository) CountTotals(ctx context.Context, notificationID string) (models.AggregateTotals, error) {
	query := `
		SELECT
			COALESCE(SUM((delivery_status = 'Succeeded')::int), 0),
			COALESCE(SUM((delivery_status = 'Failed')::int), 0),
			COALESCE(SUM((delivery_status = 'Throttled')::int), 0),
			COALESCE(SUM((delivery_status = 'RecipientNotFound')::int), 0),
			MAX(sent_at)
		FROM broadcast.recipient_deliveries
		WHERE notification_id = $1`

	var (
		totals models.AggregateTotals
		lastAt sql.NullTime
	)
	row := r.db.QueryRowContext(ctx, query, notificationID)
	if err := row.Scan(&totals.Succeeded, &totals.Failed, &totals.Throttled, &totals.RecipientNotFound, &lastAt); err != nil {
		return models.AggregateTotals{}, errors.Wrap(err, "count delivery totals")
	}
	if lastAt.Valid {
		t := lastAt.Time
		totals.LastSentAt = &t
	}
	return totals, nil
}

func (r *recipientRepository) queryRecipients(ctx context.Context, query string, args ...interface{}) ([]models.RecipientDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []models.RecipientDelivery
	for rows.Next() {
		var (
			rec     models.RecipientDelivery
			status  sql.NullString
			sentAt  sql.NullTime
			errText sql.NullString
		)
		if err := rows.Scan(
			&rec.NotificationID,
			&rec.RecipientID,
			&rec.ConversationID,
			&rec.ServiceURL,
			&rec.StatusCode,
			&status,
			&sentAt,
			&errText,
		); err != nil {
			return nil, err
		}
		if status.Valid {
			rec.DeliveryStatus = models.DeliveryOutcome(status.String)
		}
		if sentAt.Valid {
			t := sentAt.Time
			rec.SentAt = &t
		}
		if errText.Valid {
			rec.ErrorMessage = errText.String
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipients, nil
}
