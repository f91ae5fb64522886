package roles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
)

type fakeLookup struct {
	mu         sync.Mutex
	teachers   map[string]*models.TeacherRecord
	profiles   map[string]*models.Profile
	teacherErr error
	profileErr error
	// gates[email] блокирует чтение teachers, пока канал не закрыт
	gates      map[string]chan struct{}

	teacherCalls atomic.Int32
	profileCalls atomic.Int32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		teachers: map[string]*models.TeacherRecord{},
		profiles: map[string]*models.Profile{},
		gates:    map[string]chan struct{}{},
	}
}

func (f *fakeLookup) TeacherByEmail(ctx context.Context, email string) (*models.TeacherRecord, error) {
	f.teacherCalls.Add(1)
	f.mu.Lock()
	gate := f.gates[email]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.teacherErr != nil {
		return nil, f.teacherErr
	}
	return f.teachers[email], nil
}

func (f *fakeLookup) ProfileByID(_ context.Context, id string) (*models.Profile, error) {
	f.profileCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profiles[id], nil
}

func session(id, email string, meta map[string]any) *identity.Session {
	return &identity.Session{UserID: id, Email: email, Metadata: meta}
}

func TestResolve_NoSession(t *testing.T) {
	r := NewResolver(newFakeLookup(), time.Second, nil)
	st := r.Resolve(context.Background(), nil)
	assert.Equal(t, State{}, st)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.IsTeacher)
}

func TestResolve_MetadataAdminWithoutTeacherRecord(t *testing.T) {
	lk := newFakeLookup()
	r := NewResolver(lk, time.Second, nil)

	st := r.Resolve(context.Background(), session("u-1", "head@darululum.org", map[string]any{"role": "admin"}))
	require.NoError(t, st.Err)
	assert.Equal(t, models.Admin, st.Role)
	assert.True(t, st.IsAdmin)
	assert.True(t, st.IsTeacher)
	assert.Equal(t, int32(0), lk.profileCalls.Load(), "admin из метаданных не требует profiles")
}

func TestResolve_MetadataAdminOverridesTeacherRecord(t *testing.T) {
	lk := newFakeLookup()
	lk.teachers["head@darululum.org"] = &models.TeacherRecord{ID: "t-1", Email: "head@darululum.org"}
	r := NewResolver(lk, time.Second, nil)

	st := r.Resolve(context.Background(), session("u-1", "head@darululum.org", map[string]any{"role": "Admin "}))
	assert.Equal(t, models.Admin, st.Role)
}

func TestResolve_TeacherRecordWithoutMetadata(t *testing.T) {
	lk := newFakeLookup()
	lk.teachers["ustadh@darululum.org"] = &models.TeacherRecord{ID: "t-1"}
	r := NewResolver(lk, time.Second, nil)

	st := r.Resolve(context.Background(), session("u-2", "ustadh@darululum.org", nil))
	require.NoError(t, st.Err)
	assert.Equal(t, models.Teacher, st.Role)
	assert.False(t, st.IsAdmin)
	assert.True(t, st.IsTeacher)
}

func TestResolve_NothingFoundIsNone(t *testing.T) {
	r := NewResolver(newFakeLookup(), time.Second, nil)

	st := r.Resolve(context.Background(), session("u-3", "guest@example.com", nil))
	require.NoError(t, st.Err)
	assert.Equal(t, models.RoleNone, st.Role)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.IsTeacher)
	assert.Empty(t, st.Permissions())
}

func TestResolve_ProfileFallback(t *testing.T) {
	lk := newFakeLookup()
	lk.profiles["u-4"] = &models.Profile{ID: "u-4", Role: "parent"}
	lk.profiles["u-5"] = &models.Profile{ID: "u-5", Role: "superuser"}
	r := NewResolver(lk, time.Second, nil)

	st := r.Resolve(context.Background(), session("u-4", "", map[string]any{"role": "teacher"}))
	assert.Equal(t, models.Parent, st.Role, "не-admin роль из метаданных не учитывается")
	assert.Equal(t, int32(0), lk.teacherCalls.Load(), "без email teachers не читаем")

	st = r.Resolve(context.Background(), session("u-5", "x@example.com", nil))
	assert.Equal(t, models.RoleNone, st.Role)
}

func TestResolve_LookupFailureFailsClosed(t *testing.T) {
	t.Run("teachers", func(t *testing.T) {
		lk := newFakeLookup()
		lk.teacherErr = errors.New("503 from backend")
		r := NewResolver(lk, time.Second, nil)

		st := r.Resolve(context.Background(), session("u-1", "head@darululum.org", map[string]any{"role": "admin"}))
		assert.ErrorIs(t, st.Err, ErrLookupFailed)
		assert.Equal(t, models.RoleNone, st.Role)
		assert.False(t, st.IsAdmin)
		assert.False(t, st.IsTeacher)
		assert.False(t, st.Can(rbac.ViewReports))
	})
	t.Run("profiles", func(t *testing.T) {
		lk := newFakeLookup()
		lk.profileErr = errors.New("jwt expired")
		r := NewResolver(lk, time.Second, nil)

		st := r.Resolve(context.Background(), session("u-1", "x@example.com", nil))
		assert.ErrorIs(t, st.Err, ErrLookupFailed)
		assert.Equal(t, models.RoleNone, st.Role)
	})
	t.Run("timeout", func(t *testing.T) {
		lk := newFakeLookup()
		lk.gates["slow@darululum.org"] = make(chan struct{})
		defer close(lk.gates["slow@darululum.org"])
		r := NewResolver(lk, 30*time.Millisecond, nil)

		st := r.Resolve(context.Background(), session("u-1", "slow@darululum.org", nil))
		assert.ErrorIs(t, st.Err, ErrLookupFailed)
		assert.ErrorIs(t, st.Err, context.DeadlineExceeded)
	})
}

func TestResolve_IsTeacherWheneverAdmin(t *testing.T) {
	lk := newFakeLookup()
	lk.teachers["t@d.org"] = &models.TeacherRecord{}
	lk.profiles["p-admin"] = &models.Profile{Role: "admin"}
	lk.profiles["p-student"] = &models.Profile{Role: "student"}
	r := NewResolver(lk, time.Second, nil)

	sessions := []*identity.Session{
		session("a", "t@d.org", map[string]any{"role": "admin"}),
		session("b", "t@d.org", nil),
		session("p-admin", "", nil),
		session("p-student", "", nil),
		session("c", "", map[string]any{"role": 7}),
	}
	for _, s := range sessions {
		st := r.Resolve(context.Background(), s)
		if st.IsAdmin {
			assert.True(t, st.IsTeacher, "сессия %s", s.UserID)
		}
	}
}

func TestResolve_ConcurrentCallsShareLookup(t *testing.T) {
	lk := newFakeLookup()
	gate := make(chan struct{})
	lk.gates["ustadh@darululum.org"] = gate
	lk.teachers["ustadh@darululum.org"] = &models.TeacherRecord{}
	r := NewResolver(lk, time.Second, nil)
	s := session("u-1", "ustadh@darululum.org", nil)

	var wg sync.WaitGroup
	results := make([]State, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), s)
		}(i)
	}
	require.Eventually(t, func() bool { return lk.teacherCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), lk.teacherCalls.Load())
	for _, st := range results {
		assert.Equal(t, models.Teacher, st.Role)
	}
}

func TestResolve_ConcurrentTokensWithDifferentMetadata(t *testing.T) {
	lk := newFakeLookup()
	gate := make(chan struct{})
	lk.gates["head@darululum.org"] = gate
	r := NewResolver(lk, time.Second, nil)

	adminTok := session("u-1", "head@darululum.org", map[string]any{"role": "admin"})
	plainTok := session("u-1", "head@darululum.org", nil)

	var (
		wg           sync.WaitGroup
		admin, plain State
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		admin = r.Resolve(context.Background(), adminTok)
	}()
	require.Eventually(t, func() bool { return lk.teacherCalls.Load() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		plain = r.Resolve(context.Background(), plainTok)
	}()
	require.Eventually(t, func() bool { return lk.teacherCalls.Load() == 2 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, models.Admin, admin.Role)
	assert.Equal(t, models.RoleNone, plain.Role, "обычный токен не должен получить admin от параллельного")
	assert.False(t, plain.IsAdmin)
}

func TestState_Can(t *testing.T) {
	assert.False(t, State{Role: models.Admin, IsAdmin: true, IsLoading: true}.Can(rbac.ViewReports))
	assert.False(t, State{Role: models.Admin, Err: ErrLookupFailed}.Can(rbac.ViewReports))
	assert.True(t, stateFor(models.Admin).Can(rbac.ManageRoles))
	assert.True(t, stateFor(models.Teacher).Can(rbac.ManageClasses))
	assert.False(t, stateFor(models.Teacher).Can(rbac.ExportReports))
	assert.Empty(t, State{Role: models.Admin, IsLoading: true}.Permissions())
}
