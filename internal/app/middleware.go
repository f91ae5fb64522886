package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
	"github.com/codeblock102/addin-darululum-sub004/internal/roles"
)

type ctxKey int

const (
	keySession ctxKey = iota
	keyRoleState
)

func sessionFrom(ctx context.Context) *identity.Session {
	s, _ := ctx.Value(keySession).(*identity.Session)
	return s
}

func stateFrom(ctx context.Context) roles.State {
	st, _ := ctx.Value(keyRoleState).(roles.State)
	return st
}

// requestLog — одна строка на запрос.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := ctxutil.WithRequestID(r.Context(), reqID)

		next.ServeHTTP(ww, r.WithContext(ctx))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(t0)),
			zap.String("request_id", reqID),
		}
		if ww.Status() >= 500 {
			metrics.HandlerErrors.Inc()
			s.log.Warn("http request", fields...)
			return
		}
		s.log.Debug("http request", fields...)
	})
}

// authenticate разбирает сессию и сразу считает роль для неё.
// Нет заголовка — запрос идёт дальше без сессии; битый токен — 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.FromRequest(r)
		switch {
		case errors.Is(err, identity.ErrNoSession):
			next.ServeHTTP(w, r)
			return
		case err != nil:
			s.log.Debug("bad session token", append(logging.ContextFields(r.Context()), zap.Error(err))...)
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		st := s.roles.Resolve(r.Context(), sess)
		ctx := context.WithValue(r.Context(), keySession, sess)
		ctx = context.WithValue(ctx, keyRoleState, st)
		ctx = ctxutil.WithUserID(ctx, sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "no_session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePermission — гейт по токену. Сбой определения роли — 503, а не 403:
// запрет тот же, но клиент может повторить запрос.
func requirePermission(p rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessionFrom(r.Context()) == nil {
				writeError(w, http.StatusUnauthorized, "no_session")
				return
			}
			st := stateFrom(r.Context())
			allowed := st.Can(p)
			metrics.Decision(string(p), allowed)
			if st.Err != nil {
				writeError(w, http.StatusServiceUnavailable, "role_lookup_failed")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "no_session")
			return
		}
		st := stateFrom(r.Context())
		if st.Err != nil {
			writeError(w, http.StatusServiceUnavailable, "role_lookup_failed")
			return
		}
		if !st.Settled() || !st.IsAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
