package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

const profileColumns = `id::text, COALESCE(email, ''), name, COALESCE(role, ''), telegram_chat_id`

func scanProfile(sc interface{ Scan(...any) error }) (models.Profile, error) {
	var (
		p    models.Profile
		chat sql.NullInt64
	)
	if err := sc.Scan(&p.ID, &p.Email, &p.Name, &p.Role, &chat); err != nil {
		return p, err
	}
	if chat.Valid {
		p.TelegramChatID = &chat.Int64
	}
	return p, nil
}

// GetProfileByID — профиль по id пользователя. Не найден — (nil, nil).
func GetProfileByID(ctx context.Context, database *sql.DB, id string) (*models.Profile, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := database.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1::uuid`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListProfilesByRoles — профили с указанными ролями (пусто — все), по имени.
func ListProfilesByRoles(ctx context.Context, database *sql.DB, roles []string) ([]models.Profile, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	q := `SELECT ` + profileColumns + ` FROM profiles`
	args := []any{}
	if len(roles) > 0 {
		q += ` WHERE role = ANY($1)`
		args = append(args, pq.Array(roles))
	}
	q += ` ORDER BY LOWER(name)`

	rows, err := database.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
