package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/querycache"
)

type fakeSource struct {
	err       error
	summary   *models.AnalyticsSummary
	students  []models.StudentMetrics
	calls     map[string]int
	lastLimit int
}

func newFakeSource() *fakeSource { return &fakeSource{calls: map[string]int{}} }

func (f *fakeSource) Summary(context.Context) (*models.AnalyticsSummary, error) {
	f.calls["summary"]++
	return f.summary, f.err
}

func (f *fakeSource) StudentMetrics(_ context.Context, limit int) ([]models.StudentMetrics, error) {
	f.calls["students"]++
	f.lastLimit = limit
	return f.students, f.err
}

func (f *fakeSource) TeacherMetrics(context.Context, int) ([]models.TeacherMetrics, error) {
	f.calls["teachers"]++
	return nil, f.err
}

func (f *fakeSource) ClassMetrics(context.Context, int) ([]models.ClassMetrics, error) {
	f.calls["classes"]++
	return nil, f.err
}

func (f *fakeSource) Alerts(context.Context, int) ([]models.AnalyticsAlert, error) {
	f.calls["alerts"]++
	return nil, f.err
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	src := newFakeSource()
	src.summary = &models.AnalyticsSummary{TotalStudents: 120}
	src.students = []models.StudentMetrics{{StudentID: "s-1", StudentName: "Aisha", JuzCompleted: 3}}
	svc := NewService(src, querycache.NewLRU(32, time.Minute), time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, 120, svc.Summary(ctx).TotalStudents)
	assert.Equal(t, 120, svc.Summary(ctx).TotalStudents)
	assert.Equal(t, 1, src.calls["summary"])

	st := svc.StudentMetrics(ctx, 10)
	require.Len(t, st, 1)
	assert.Equal(t, "Aisha", st[0].StudentName)
	svc.StudentMetrics(ctx, 10)
	assert.Equal(t, 1, src.calls["students"])

	src.summary = &models.AnalyticsSummary{TotalStudents: 121}
	require.NoError(t, svc.Invalidate(ctx, "analytics_summary"))
	assert.Equal(t, 121, svc.Summary(ctx).TotalStudents)
	// студенческий кэш не тронут
	svc.StudentMetrics(ctx, 10)
	assert.Equal(t, 1, src.calls["students"])

	require.NoError(t, svc.Invalidate(ctx, "student_metrics_summary"))
	svc.StudentMetrics(ctx, 10)
	assert.Equal(t, 2, src.calls["students"])

	require.NoError(t, svc.Invalidate(ctx, "unknown_table"))
}

func TestService_FailureReturnsEmpty(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("relation does not exist")
	svc := NewService(src, querycache.NewLRU(32, time.Minute), time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, models.AnalyticsSummary{}, svc.Summary(ctx))
	assert.NotNil(t, svc.StudentMetrics(ctx, 0))
	assert.Empty(t, svc.TeacherMetrics(ctx, 0))
	assert.Empty(t, svc.ClassMetrics(ctx, 0))
	assert.Empty(t, svc.Alerts(ctx, 0))

	// ошибки не кэшируются
	src.err = nil
	src.summary = &models.AnalyticsSummary{TotalTeachers: 9}
	assert.Equal(t, 9, svc.Summary(ctx).TotalTeachers)
}

func TestService_EmptyTablesGiveEmptySlices(t *testing.T) {
	svc := NewService(newFakeSource(), querycache.NewLRU(32, time.Minute), time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, models.AnalyticsSummary{}, svc.Summary(ctx))
	tm := svc.TeacherMetrics(ctx, 5)
	assert.NotNil(t, tm)
	assert.Empty(t, tm)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(10_000))

	src := newFakeSource()
	svc := NewService(src, querycache.NewLRU(32, time.Minute), time.Minute, nil)
	svc.StudentMetrics(context.Background(), 10_000)
	assert.Equal(t, MaxLimit, src.lastLimit)
}

func TestService_Warm(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, querycache.NewLRU(32, time.Minute), time.Minute, nil)
	require.NoError(t, svc.Warm(context.Background()))
	for _, what := range []string{"summary", "students", "teachers", "classes", "alerts"} {
		assert.Equal(t, 1, src.calls[what], what)
	}

	// повторный прогрев попадает в кэш
	require.NoError(t, svc.Warm(context.Background()))
	assert.Equal(t, 1, src.calls["students"])
}

func TestService_FailureLogCarriesJobName(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("relation does not exist")
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(src, querycache.NewLRU(32, time.Minute), time.Minute, zap.New(core))

	require.NoError(t, svc.Warm(ctxutil.WithOp(context.Background(), "analytics_warm")))
	failed := logs.FilterMessage("analytics read failed").All()
	require.Len(t, failed, 5)
	for _, e := range failed {
		assert.Equal(t, "analytics_warm", e.ContextMap()["op"])
	}
}
