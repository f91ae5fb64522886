// Package roles определяет эффективную роль пользователя по сессии.
//
// Порядок: запись в teachers по email даёт teacher; metadata.role == "admin"
// поверх этого даёт admin; если роль всё ещё не найдена — берётся роль из profiles.
// Любая ошибка удалённого чтения закрывает доступ: роль none и Err != nil.
package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
)

var ErrLookupFailed = errors.New("role lookup failed")

const DefaultTimeout = 10 * time.Second

// Lookup — чтение внешних таблиц. Не найдено — (nil, nil), сбой бэкенда — err.
type Lookup interface {
	TeacherByEmail(ctx context.Context, email string) (*models.TeacherRecord, error)
	ProfileByID(ctx context.Context, id string) (*models.Profile, error)
}

type State struct {
	Role      models.Role
	IsAdmin   bool
	IsTeacher bool
	IsLoading bool
	Err       error
}

func stateFor(role models.Role) State {
	isAdmin := role == models.Admin
	return State{
		Role:      role,
		IsAdmin:   isAdmin,
		IsTeacher: role == models.Teacher || isAdmin,
	}
}

func failed(err error) State {
	return State{Err: fmt.Errorf("%w: %w", ErrLookupFailed, err)}
}

// Settled — результат окончательный: можно доверять проверкам прав.
func (s State) Settled() bool { return !s.IsLoading && s.Err == nil }

// Can — проверка токена для гейтов: пока идёт загрузка или есть ошибка — запрет.
func (s State) Can(p rbac.Permission) bool {
	if !s.Settled() {
		return false
	}
	return rbac.HasPermission(s.Role, p)
}

func (s State) Permissions() []rbac.Permission {
	if !s.Settled() {
		return []rbac.Permission{}
	}
	return rbac.Permissions(s.Role)
}

type Resolver struct {
	lookup  Lookup
	timeout time.Duration
	log     *zap.Logger
	group   singleflight.Group
}

func NewResolver(lookup Lookup, timeout time.Duration, log *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{lookup: lookup, timeout: timeout, log: logging.OrNop(log)}
}

// Resolve не возвращает ошибок наружу: сбои превращаются в State.Err.
// Одновременные запросы по одной и той же сессии делят одно чтение.
func (r *Resolver) Resolve(ctx context.Context, s *identity.Session) State {
	if s == nil {
		return State{}
	}

	ch := r.group.DoChan(flightKey(s), func() (interface{}, error) {
		// общий запрос не должен обрываться, если ушёл только один из ждущих
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(cctx, s), nil
	})

	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		return failed(ctx.Err())
	}
}

// flightKey — ключ общего чтения. Роль из метаданных входит в ключ: от неё
// зависит результат, и токены одного пользователя с разными метаданными
// не должны получать чужой ответ.
func flightKey(s *identity.Session) string {
	return s.Key() + "|" + s.MetadataRole()
}

func (r *Resolver) resolve(ctx context.Context, s *identity.Session) State {
	role := models.RoleNone

	if s.Email != "" {
		t, err := r.lookup.TeacherByEmail(ctx, s.Email)
		if err != nil {
			return r.fail(s, "teachers", err)
		}
		if t != nil {
			role = models.Teacher
		}
	}

	if s.MetadataRole() == string(models.Admin) {
		role = models.Admin
	}

	if role == models.RoleNone {
		p, err := r.lookup.ProfileByID(ctx, s.UserID)
		if err != nil {
			return r.fail(s, "profiles", err)
		}
		if p != nil {
			if pr, ok := models.ParseRole(p.Role); ok {
				role = pr
			}
		}
	}

	st := stateFor(role)
	metrics.RoleResolutions.WithLabelValues(role.String(), "ok").Inc()
	r.log.Debug("role resolved",
		zap.String("user_id", s.UserID),
		zap.String("role", role.String()),
		zap.Bool("is_admin", st.IsAdmin),
		zap.Bool("is_teacher", st.IsTeacher),
	)
	return st
}

func (r *Resolver) fail(s *identity.Session, source string, err error) State {
	metrics.RoleLookupErrors.WithLabelValues(source).Inc()
	metrics.RoleResolutions.WithLabelValues(models.RoleNone.String(), "lookup_failed").Inc()
	r.log.Warn("role lookup failed, access closed",
		zap.String("user_id", s.UserID),
		zap.String("source", source),
		zap.Error(err),
	)
	if !errors.Is(err, context.Canceled) {
		observability.CaptureWithTags(err, map[string]string{"component": "roles", "source": source})
	}
	return failed(fmt.Errorf("%s: %w", source, err))
}
