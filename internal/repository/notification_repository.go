package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/models"
)

// ErrNotificationNotFound is returned when no row matches the requested id and
// partition. A missing draft at send time is fatal for the whole send.
var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository interface {
	CreateDraft(ctx context.Context, n models.Notification) (models.Notification, error)
	UpdateDraft(ctx context.Context, n models.Notification) (models.Notification, error)
	GetDraft(ctx context.Context, id string) (models.Notification, error)
	DeleteDraft(ctx context.Context, id string) error
	ListDrafts(ctx context.Context) ([]models.Notification, error)
	// ListDraftsByChannel returns the drafts authored from one channel.
	ListDraftsByChannel(ctx context.Context, channelID string) ([]models.Notification, error)

	Get(ctx context.Context, id string) (models.Notification, error)
	ListSent(ctx context.Context, limit int) ([]models.Notification, error)
	// ListUnfinished returns sent-partition notifications that are not yet
	// terminal and whose send started before the cutoff.
	ListUnfinished(ctx context.Context, startedBefore time.Time) ([]models.Notification, error)

	// MoveDraftToSending atomically re-keys the draft to the freshly minted
	// sent id, flips it into the sent partition and stamps the send start.
	MoveDraftToSending(ctx context.Context, draftID, sentID string) (models.Notification, error)

	UpdateStatus(ctx context.Context, id string, status models.NotificationStatus) error
	SetTotalMessageCount(ctx context.Context, id string, total int) error
	AppendWarning(ctx context.Context, id, text string) error
	AppendError(ctx context.Context, id, text string) error

	// MergeTotals conditionally merges recomputed counters onto the
	// notification without touching content or diagnostics. Terminal rows are
	// left alone.
	MergeTotals(ctx context.Context, id string, totals models.AggregateTotals) error
	// CompleteSending merges counters and transitions the notification to
	// Sent, stamping sent_at. No-op when the row is already terminal.
	CompleteSending(ctx context.Context, id string, totals models.AggregateTotals, sentAt time.Time) error
	// MarkFailed stamps the terminal failure: status Failed plus sent_at so
	// the record is never treated as still in flight.
	MarkFailed(ctx context.Context, id string, failedAt time.Time) error
}

type notificationRepository struct {
	db               *sql.DB
	maxDiagnosticLen int
}

func NewNotificationRepository(db *sql.DB, maxDiagnosticLen int) NotificationRepository {
	if maxDiagnosticLen <= 0 {
		maxDiagnosticLen = 4096
	}
	return &notificationRepository{db: db, maxDiagnosticLen: maxDiagnosticLen}
}

const notificationColumns = `
	id, partition, all_users, team_ids, roster_team_ids, group_ids,
	title, image_link, summary, author, button_title, button_link,
	is_draft, channel_id, created_by, created_at, sending_started_at, sent_at,
	total_message_count, succeeded, failed, throttled, recipient_not_found, unknown,
	status, error_message, warning_message
`

func (r *notificationRepository) CreateDraft(ctx context.Context, n models.Notification) (models.Notification, error) {
	query := `
		INSERT INTO broadcast.notifications (
			id, partition, all_users, team_ids, roster_team_ids, group_ids,
			title, image_link, summary, author, button_title, button_link,
			is_draft, channel_id, created_by, status
		)
		VALUES ($1, 'draft', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13, 'Unknown')
		RETURNING ` + notificationColumns

	row := r.db.QueryRowContext(ctx, query,
		n.ID,
		n.AllUsers,
		n.TeamIDs,
		n.RosterTeamIDs,
		n.GroupIDs,
		n.Title,
		n.ImageLink,
		n.Summary,
		n.Author,
		n.ButtonTitle,
		n.ButtonLink,
		n.ChannelID,
		n.CreatedBy,
	)
	return scanNotification(row)
}

func (r *notificationRepository) UpdateDraft(ctx context.Context, n models.Notification) (models.Notification, error) {
	query := `
		UPDATE broadcast.notifications
		SET all_users = $2, team_ids = $3, roster_team_ids = $4, group_ids = $5,
		    title = $6, image_link = $7, summary = $8, author = $9,
		    button_title = $10, button_link = $11
		WHERE id = $1 AND partition = 'draft'
		RETURNING ` + notificationColumns

	row := r.db.QueryRowContext(ctx, query,
		n.ID,
		n.AllUsers,
		n.TeamIDs,
		n.RosterTeamIDs,
		n.GroupIDs,
		n.Title,
		n.ImageLink,
		n.Summary,
		n.Author,
		n.ButtonTitle,
		n.ButtonLink,
	)
	notif, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return notif, ErrNotificationNotFound
	}
	return notif, err
}

func (r *notificationRepository) GetDraft(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE id = $1 AND partition = 'draft'`

	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return notif, ErrNotificationNotFound
	}
	return notif, err
}

func (r *notificationRepository) DeleteDraft(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM broadcast.notifications WHERE id = $1 AND partition = 'draft'`, id)
	if err != nil {
		return errors.Wrap(err, "delete draft")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) ListDrafts(ctx context.Context) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE partition = 'draft'
		ORDER BY created_at DESC`

	return r.queryNotifications(ctx, query)
}

func (r *notificationRepository) ListDraftsByChannel(ctx context.Context, channelID string) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE partition = 'draft' AND channel_id = $1
		ORDER BY created_at DESC`

	return r.queryNotifications(ctx, query, channelID)
}

func (r *notificationRepository) Get(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE id = $1`

	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return notif, ErrNotificationNotFound
	}
	return notif, err
}

func (r *notificationRepository) ListSent(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE partition = 'sent'
		ORDER BY created_at DESC
		LIMIT $1`

	return r.queryNotifications(ctx, query, limit)
}

func (r *notificationRepository) ListUnfinished(ctx context.Context, startedBefore time.Time) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM broadcast.notifications
		WHERE partition = 'sent'
		  AND status NOT IN ('Sent', 'Failed')
		  AND sending_started_at IS NOT NULL
		  AND sending_started_at < $1
		ORDER BY sending_started_at ASC`

	return r.queryNotifications(ctx, query, startedBefore)
}

func (r *notificationRepository) MoveDraftToSending(ctx context.Context, draftID, sentID string) (models.Notification, error) {
	query := `
		UPDATE broadcast.notifications
		SET id = $2, partition = 'sent', is_draft = FALSE,
		    status = 'Queued', sending_started_at = NOW(), created_at = NOW()
		WHERE id = $1 AND partition = 'draft'
		RETURNING ` + notificationColumns

	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, draftID, sentID))
	if err == sql.ErrNoRows {
		return notif, ErrNotificationNotFound
	}
	return notif, err
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, status models.NotificationStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE broadcast.notifications SET status = $2 WHERE id = $1`, id, string(status))
	return errors.Wrapf(err, "update status to %s", status)
}

func (r *notificationRepository) SetTotalMessageCount(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE broadcast.notifications SET total_message_count = $2 WHERE id = $1`, id, total)
	return errors.Wrap(err, "set total message count")
}

func (r *notificationRepository) AppendWarning(ctx context.Context, id, text string) error {
	return r.appendDiagnostic(ctx, "warning_message", id, text)
}

func (r *notificationRepository) AppendError(ctx context.Context, id, text string) error {
	return r.appendDiagnostic(ctx, "error_message", id, text)
}

// appendDiagnostic appends one line to an append-only diagnostic column,
// keeping the column under the configured cap.
func (r *notificationRepository) appendDiagnostic(ctx context.Context, column, id, text string) error {
	query := `
		UPDATE broadcast.notifications
		SET ` + column + ` = LEFT(` + column + ` || $2 || E'\n', $3)
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, text, r.maxDiagnosticLen)
	return errors.Wrapf(err, "append %s", column)
}

func (r *notificationRepository) MergeTotals(ctx context.Context, id string, totals models.AggregateTotals) error {
	query := `
		UPDATE broadcast.notifications
		SET succeeded = $2, failed = $3, throttled = $4,
		    recipient_not_found = $5, unknown = $6
		WHERE id = $1 AND status NOT IN ('Sent', 'Failed')`

	_, err := r.db.ExecContext(ctx, query, id,
		totals.Succeeded, totals.Failed, totals.Throttled, totals.RecipientNotFound, totals.Unknown)
	return errors.Wrap(err, "merge totals")
}

func (r *notificationRepository) CompleteSending(ctx context.Context, id string, totals models.AggregateTotals, sentAt time.Time) error {
	query := `
		UPDATE broadcast.notifications
		SET succeeded = $2, failed = $3, throttled = $4,
		    recipient_not_found = $5, unknown = $6,
		    status = 'Sent', sent_at = $7
		WHERE id = $1 AND status NOT IN ('Sent', 'Failed')`

	_, err := r.db.ExecContext(ctx, query, id,
		totals.Succeeded, totals.Failed, totals.Throttled, totals.RecipientNotFound, totals.Unknown,
		sentAt)
	return errors.Wrap(err, "complete sending")
}

func (r *notificationRepository) MarkFailed(ctx context.Context, id string, failedAt time.Time) error {
	query := `
		UPDATE broadcast.notifications
		SET status = 'Failed', sent_at = $2
		WHERE id = $1 AND status <> 'Sent'`

	_, err := r.db.ExecContext(ctx, query, id, failedAt)
	return errors.Wrap(err, "mark failed")
}

func (r *notificationRepository) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif          models.Notification
		sendingStarted sql.NullTime
		sentAt         sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&notif.Partition,
		&notif.AllUsers,
		&notif.TeamIDs,
		&notif.RosterTeamIDs,
		&notif.GroupIDs,
		&notif.Title,
		&notif.ImageLink,
		&notif.Summary,
		&notif.Author,
		&notif.ButtonTitle,
		&notif.ButtonLink,
		&notif.IsDraft,
		&notif.ChannelID,
		&notif.CreatedBy,
		&notif.CreatedAt,
		&sendingStarted,
		&sentAt,
		&notif.TotalMessageCount,
		&notif.Succeeded,
		&notif.Failed,
		&notif.Throttled,
		&notif.RecipientNotFound,
		&notif.Unknown,
		&notif.Status,
		&notif.ErrorMessage,
		&notif.WarningMessage,
	); err != nil {
		return models.Notification{}, err
	}

	if sendingStarted.Valid {
		t := sendingStarted.Time
		notif.SendingStartedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		notif.SentAt = &t
	}
	return notif, nil
}
