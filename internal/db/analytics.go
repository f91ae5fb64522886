package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// GetAnalyticsSummary — единственная строка analytics_summary. Пусто — (nil, nil).
func GetAnalyticsSummary(ctx context.Context, database *sql.DB) (*models.AnalyticsSummary, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var s models.AnalyticsSummary
	err := database.QueryRowContext(ctx, `
		SELECT total_students, total_teachers, total_classes, attendance_rate, avg_progress_score, updated_at
		FROM analytics_summary
		LIMIT 1
	`).Scan(&s.TotalStudents, &s.TotalTeachers, &s.TotalClasses, &s.AttendanceRate, &s.AvgProgressScore, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func ListStudentMetrics(ctx context.Context, database *sql.DB, limit int) ([]models.StudentMetrics, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT student_id::text, student_name, attendance_rate, juz_completed, avg_quality, last_progress_day
		FROM student_metrics_summary
		ORDER BY LOWER(student_name)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.StudentMetrics, 0, limit)
	for rows.Next() {
		var (
			m    models.StudentMetrics
			last sql.NullTime
		)
		if err := rows.Scan(&m.StudentID, &m.StudentName, &m.AttendanceRate, &m.JuzCompleted, &m.AvgQuality, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			m.LastProgressDay = last.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func ListTeacherMetrics(ctx context.Context, database *sql.DB, limit int) ([]models.TeacherMetrics, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT teacher_id::text, teacher_name, student_count, class_count, entries_per_week
		FROM teacher_metrics_summary
		ORDER BY LOWER(teacher_name)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.TeacherMetrics, 0, limit)
	for rows.Next() {
		var m models.TeacherMetrics
		if err := rows.Scan(&m.TeacherID, &m.TeacherName, &m.StudentCount, &m.ClassCount, &m.EntriesPerWeek); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func ListClassMetrics(ctx context.Context, database *sql.DB, limit int) ([]models.ClassMetrics, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT class_id::text, class_name, enrolled, capacity, attendance_rate
		FROM class_metrics_summary
		ORDER BY LOWER(class_name)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.ClassMetrics, 0, limit)
	for rows.Next() {
		var m models.ClassMetrics
		if err := rows.Scan(&m.ClassID, &m.ClassName, &m.Enrolled, &m.Capacity, &m.AttendanceRate); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListOpenAlerts — нерешённые алерты: сначала critical, потом свежие.
func ListOpenAlerts(ctx context.Context, database *sql.DB, limit int) ([]models.AnalyticsAlert, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT id::text, severity, title, message, triggered_at
		FROM analytics_alerts_summary
		WHERE NOT resolved
		ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, triggered_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.AnalyticsAlert, 0, limit)
	for rows.Next() {
		var a models.AnalyticsAlert
		if err := rows.Scan(&a.ID, &a.Severity, &a.Title, &a.Message, &a.TriggeredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
