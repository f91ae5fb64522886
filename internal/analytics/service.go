package analytics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
	"github.com/codeblock102/addin-darululum-sub004/internal/querycache"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Source — чтение предагрегированных таблиц (обычно *db.Store).
type Source interface {
	Summary(ctx context.Context) (*models.AnalyticsSummary, error)
	StudentMetrics(ctx context.Context, limit int) ([]models.StudentMetrics, error)
	TeacherMetrics(ctx context.Context, limit int) ([]models.TeacherMetrics, error)
	ClassMetrics(ctx context.Context, limit int) ([]models.ClassMetrics, error)
	Alerts(ctx context.Context, limit int) ([]models.AnalyticsAlert, error)
}

var (
	KeySummary  = querycache.Key{"analytics", "summary"}
	KeyStudents = querycache.Key{"analytics", "students"}
	KeyTeachers = querycache.Key{"analytics", "teachers"}
	KeyClasses  = querycache.Key{"analytics", "classes"}
	KeyAlerts   = querycache.Key{"analytics", "alerts"}
)

// TableKeys — какая таблица сводок какой префикс кэша инвалидирует.
var TableKeys = map[string]querycache.Key{
	"analytics_summary":        KeySummary,
	"student_metrics_summary":  KeyStudents,
	"teacher_metrics_summary":  KeyTeachers,
	"class_metrics_summary":    KeyClasses,
	"analytics_alerts_summary": KeyAlerts,
}

// Service отдаёт сводки через кэш. Ошибки чтения не уходят наружу:
// они пишутся в лог, а вызывающий получает пустой результат.
type Service struct {
	src   Source
	cache querycache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewService(src Source, cache querycache.Cache, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{src: src, cache: cache, ttl: ttl, log: logging.OrNop(log)}
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func withLimit(k querycache.Key, limit int) querycache.Key {
	return append(append(querycache.Key{}, k...), strconv.Itoa(limit))
}

func (s *Service) Summary(ctx context.Context) models.AnalyticsSummary {
	v, err := querycache.Fetch(ctx, s.cache, KeySummary, s.ttl, func(ctx context.Context) (models.AnalyticsSummary, error) {
		sum, err := s.src.Summary(ctx)
		if err != nil || sum == nil {
			return models.AnalyticsSummary{}, err
		}
		return *sum, nil
	})
	if err != nil {
		s.fail(ctx, "summary", err)
		return models.AnalyticsSummary{}
	}
	return v
}

func (s *Service) StudentMetrics(ctx context.Context, limit int) []models.StudentMetrics {
	limit = ClampLimit(limit)
	return list(ctx, s, "students", withLimit(KeyStudents, limit), func(ctx context.Context) ([]models.StudentMetrics, error) {
		return s.src.StudentMetrics(ctx, limit)
	})
}

func (s *Service) TeacherMetrics(ctx context.Context, limit int) []models.TeacherMetrics {
	limit = ClampLimit(limit)
	return list(ctx, s, "teachers", withLimit(KeyTeachers, limit), func(ctx context.Context) ([]models.TeacherMetrics, error) {
		return s.src.TeacherMetrics(ctx, limit)
	})
}

func (s *Service) ClassMetrics(ctx context.Context, limit int) []models.ClassMetrics {
	limit = ClampLimit(limit)
	return list(ctx, s, "classes", withLimit(KeyClasses, limit), func(ctx context.Context) ([]models.ClassMetrics, error) {
		return s.src.ClassMetrics(ctx, limit)
	})
}

func (s *Service) Alerts(ctx context.Context, limit int) []models.AnalyticsAlert {
	limit = ClampLimit(limit)
	return list(ctx, s, "alerts", withLimit(KeyAlerts, limit), func(ctx context.Context) ([]models.AnalyticsAlert, error) {
		return s.src.Alerts(ctx, limit)
	})
}

// Invalidate сбрасывает кэш сводки, которую меняет table. Неизвестная таблица — no-op.
func (s *Service) Invalidate(ctx context.Context, table string) error {
	k, ok := TableKeys[table]
	if !ok {
		return nil
	}
	return s.cache.Invalidate(ctx, k)
}

// Warm прогревает кэш с лимитом по умолчанию; вызывается джобой.
func (s *Service) Warm(ctx context.Context) error {
	s.Summary(ctx)
	s.StudentMetrics(ctx, DefaultLimit)
	s.TeacherMetrics(ctx, DefaultLimit)
	s.ClassMetrics(ctx, DefaultLimit)
	s.Alerts(ctx, DefaultLimit)
	return ctx.Err()
}

func list[T any](ctx context.Context, s *Service, what string, key querycache.Key, load func(context.Context) ([]T, error)) []T {
	v, err := querycache.Fetch(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]T, error) {
		rows, err := load(ctx)
		if rows == nil && err == nil {
			rows = []T{}
		}
		return rows, err
	})
	if err != nil {
		s.fail(ctx, what, err)
		return []T{}
	}
	if v == nil {
		return []T{}
	}
	return v
}

func (s *Service) fail(ctx context.Context, what string, err error) {
	s.log.Warn("analytics read failed", append(logging.ContextFields(ctx), zap.String("what", what), zap.Error(err))...)
	if errors.Is(err, context.Canceled) {
		return
	}
	observability.CaptureWithTags(err, map[string]string{"component": "analytics", "what": what})
}
