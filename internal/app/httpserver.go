package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/analytics"
	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
	"github.com/codeblock102/addin-darululum-sub004/internal/inbox"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
	"github.com/codeblock102/addin-darululum-sub004/internal/realtime"
	"github.com/codeblock102/addin-darululum-sub004/internal/roles"
)

type SessionParser interface {
	FromRequest(r *http.Request) (*identity.Session, error)
}

type ProfileLister interface {
	Profiles(ctx context.Context, roles ...string) ([]models.Profile, error)
}

// MessageWatcher — держит живую подписку на сообщения пользователя (*live.Watcher).
type MessageWatcher interface {
	EnsureMessages(recipientID string)
}

type Deps struct {
	Sessions  SessionParser
	Roles     roles.Source
	Analytics *analytics.Service
	Inbox     *inbox.Service
	Watcher   MessageWatcher
	Profiles  ProfileLister
	Bridge    *realtime.Bridge
	Ping      func(ctx context.Context) error
	Log       *zap.Logger
	Now       func() time.Time
}

type Server struct {
	sessions  SessionParser
	roles     roles.Source
	analytics *analytics.Service
	inbox     *inbox.Service
	watcher   MessageWatcher
	profiles  ProfileLister
	bridge    *realtime.Bridge
	ping      func(ctx context.Context) error
	log       *zap.Logger
	now       func() time.Time
}

func NewServer(d Deps) *Server {
	s := &Server{
		sessions:  d.Sessions,
		roles:     d.Roles,
		analytics: d.Analytics,
		inbox:     d.Inbox,
		watcher:   d.Watcher,
		profiles:  d.Profiles,
		bridge:    d.Bridge,
		ping:      d.Ping,
		log:       logging.OrNop(d.Log),
		now:       d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLog, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(requireSession).Get("/me", s.handleMe)
		r.With(requireSession).Get("/me/permissions/{token}", s.handlePermission)
		r.With(requireSession).Get("/me/theme", s.handleTheme)

		r.Route("/analytics", func(r chi.Router) {
			r.Use(requirePermission(rbac.ViewReports))
			r.Get("/summary", s.handleSummary)
			r.Get("/students", s.handleStudents)
			r.Get("/teachers", s.handleTeachers)
			r.Get("/classes", s.handleClasses)
			r.Get("/alerts", s.handleAlerts)
		})

		r.With(requireSession).Get("/messages", s.handleMessages)
		r.With(requireSession).Get("/messages/unread-count", s.handleUnreadCount)
		r.With(requireAdmin).Get("/admin/messages", s.handleAdminMessages)

		r.With(requirePermission(rbac.ExportReports)).Get("/reports/access.xlsx", s.handleAccessReport)
		r.With(requireSession).Get("/realtime/status", s.handleRealtimeStatus)
	})
	return r
}

// ListenAndServe блокирует до отмены ctx, затем аккуратно гасит сервер.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	log = logging.OrNop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shCtx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
