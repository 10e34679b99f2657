package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/models"
)

// UserRepository is the tenant directory snapshot: one row per user the bot can
// reach in a personal conversation. The external chat adapter keeps it current;
// the audience resolver only reads it.
type UserRepository interface {
	List(ctx context.Context) ([]models.UserInstallation, error)
	Upsert(ctx context.Context, user models.UserInstallation) error
	Delete(ctx context.Context, userID string) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) List(ctx context.Context) ([]models.UserInstallation, error) {
	const query = `
		SELECT user_id, conversation_id, service_url, tenant_id, user_type
		FROM broadcast.user_installations
		ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list user installations")
	}
	defer rows.Close()

	var users []models.UserInstallation
	for rows.Next() {
		var u models.UserInstallation
		if err := rows.Scan(&u.UserID, &u.ConversationID, &u.ServiceURL, &u.TenantID, &u.UserType); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepository) Upsert(ctx context.Context, user models.UserInstallation) error {
	const query = `
		INSERT INTO broadcast.user_installations (user_id, conversation_id, service_url, tenant_id, user_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET conversation_id = EXCLUDED.conversation_id,
		    service_url = EXCLUDED.service_url,
		    tenant_id = EXCLUDED.tenant_id,
		    user_type = EXCLUDED.user_type`

	_, err := r.db.ExecContext(ctx, query,
		user.UserID, user.ConversationID, user.ServiceURL, user.TenantID, user.UserType)
	return errors.Wrap(err, "upsert user installation")
}

func (r *userRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM broadcast.user_installations WHERE user_id = $1`, userID)
	return errors.Wrap(err, "delete user installation")
}
