package db

import (
	"context"
	"database/sql"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// ListMessagesForRecipient — последние сообщения получателя, новые сверху.
func ListMessagesForRecipient(ctx context.Context, database *sql.DB, recipientID string, limit int) ([]models.Message, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT id::text, sender_id::text, recipient_id::text, subject, message, read, created_at
		FROM communications
		WHERE recipient_id = $1::uuid
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			recipient sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &recipient, &m.Subject, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		if recipient.Valid {
			m.RecipientID = &recipient.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountUnread — непрочитанные сообщения получателя.
func CountUnread(ctx context.Context, database *sql.DB, recipientID string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var n int
	err := database.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM communications WHERE recipient_id = $1::uuid AND NOT read
	`, recipientID).Scan(&n)
	return n, err
}

// ListAdminMessages — сообщения без получателя: входящие администрации.
func ListAdminMessages(ctx context.Context, database *sql.DB, limit int) ([]models.Message, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT id::text, sender_id::text, subject, message, read, created_at
		FROM communications
		WHERE recipient_id IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Subject, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
