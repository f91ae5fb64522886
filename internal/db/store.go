package db

import (
	"context"
	"database/sql"

	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// Store — те же запросы, но методами: так их удобно отдавать в roles и analytics как интерфейсы.
type Store struct {
	DB *sql.DB
}

func NewStore(database *sql.DB) *Store { return &Store{DB: database} }

func (s *Store) TeacherByEmail(ctx context.Context, email string) (*models.TeacherRecord, error) {
	return GetTeacherByEmail(ctx, s.DB, email)
}

func (s *Store) ProfileByID(ctx context.Context, id string) (*models.Profile, error) {
	return GetProfileByID(ctx, s.DB, id)
}

func (s *Store) Profiles(ctx context.Context, roles ...string) ([]models.Profile, error) {
	return ListProfilesByRoles(ctx, s.DB, roles)
}

func (s *Store) Messages(ctx context.Context, recipientID string, limit int) ([]models.Message, error) {
	return ListMessagesForRecipient(ctx, s.DB, recipientID, limit)
}

func (s *Store) AdminMessages(ctx context.Context, limit int) ([]models.Message, error) {
	return ListAdminMessages(ctx, s.DB, limit)
}

func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return CountUnread(ctx, s.DB, recipientID)
}

func (s *Store) Summary(ctx context.Context) (*models.AnalyticsSummary, error) {
	return GetAnalyticsSummary(ctx, s.DB)
}

func (s *Store) StudentMetrics(ctx context.Context, limit int) ([]models.StudentMetrics, error) {
	return ListStudentMetrics(ctx, s.DB, limit)
}

func (s *Store) TeacherMetrics(ctx context.Context, limit int) ([]models.TeacherMetrics, error) {
	return ListTeacherMetrics(ctx, s.DB, limit)
}

func (s *Store) ClassMetrics(ctx context.Context, limit int) ([]models.ClassMetrics, error) {
	return ListClassMetrics(ctx, s.DB, limit)
}

func (s *Store) Alerts(ctx context.Context, limit int) ([]models.AnalyticsAlert, error) {
	return ListOpenAlerts(ctx, s.DB, limit)
}

func (s *Store) Ping(ctx context.Context) error { return Ping(ctx, s.DB) }
