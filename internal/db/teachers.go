package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// GetTeacherByEmail — запись учителя по email (без учёта регистра).
// Не найден — (nil, nil); ошибка бэкенда — (nil, err).
func GetTeacherByEmail(ctx context.Context, database *sql.DB, email string) (*models.TeacherRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := database.QueryRowContext(ctx, `
		SELECT id::text, email, name, role, madrassah_id::text
		FROM teachers
		WHERE LOWER(email) = $1
		LIMIT 1
	`, strings.ToLower(strings.TrimSpace(email)))

	var (
		t         models.TeacherRecord
		madrassah sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Email, &t.Name, &t.Role, &madrassah); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if madrassah.Valid {
		t.MadrassahID = &madrassah.String
	}
	return &t, nil
}
