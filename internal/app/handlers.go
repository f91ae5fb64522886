package app

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
	"github.com/codeblock102/addin-darululum-sub004/internal/export"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

type meResponse struct {
	UserID      string            `json:"user_id"`
	Email       string            `json:"email"`
	Role        string            `json:"role"`
	IsAdmin     bool              `json:"is_admin"`
	IsTeacher   bool              `json:"is_teacher"`
	Permissions []rbac.Permission `json:"permissions"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	st := stateFrom(r.Context())
	if st.Err != nil {
		writeError(w, http.StatusServiceUnavailable, "role_lookup_failed")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:      sess.UserID,
		Email:       sess.Email,
		Role:        st.Role.String(),
		IsAdmin:     st.IsAdmin,
		IsTeacher:   st.IsTeacher,
		Permissions: st.Permissions(),
	})
}

// handlePermission: неизвестный токен — не ошибка, просто allowed=false.
func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	p, _ := rbac.ParsePermission(token)
	allowed := stateFrom(r.Context()).Can(p)
	metrics.Decision(token, allowed)
	writeJSON(w, http.StatusOK, map[string]any{"permission": token, "allowed": allowed})
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r.Context())
	role := models.RoleNone
	if st.Settled() {
		role = st.Role
	}
	pref := rbac.ThemePreference(r.URL.Query().Get("pref"))
	writeJSON(w, http.StatusOK, rbac.DeriveTheme(role, pref))
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analytics.Summary(r.Context()))
}

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analytics.StudentMetrics(r.Context(), limitParam(r)))
}

func (s *Server) handleTeachers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analytics.TeacherMetrics(r.Context(), limitParam(r)))
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analytics.ClassMetrics(r.Context(), limitParam(r)))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analytics.Alerts(r.Context(), limitParam(r)))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	uid := sessionFrom(r.Context()).UserID
	if s.watcher != nil {
		s.watcher.EnsureMessages(uid)
	}
	msgs, err := s.inbox.Messages(r.Context(), uid)
	if err != nil {
		s.internalError(w, r, "messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	uid := sessionFrom(r.Context()).UserID
	if s.watcher != nil {
		s.watcher.EnsureMessages(uid)
	}
	n, err := s.inbox.UnreadCount(r.Context(), uid)
	if err != nil {
		s.internalError(w, r, "unread_count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleAdminMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.inbox.AdminMessages(r.Context())
	if err != nil {
		s.internalError(w, r, "admin_messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAccessReport(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.Profiles(r.Context())
	if err != nil {
		s.internalError(w, r, "access_report", err)
		return
	}
	wb, err := export.AccessWorkbook(profiles)
	if err != nil {
		s.internalError(w, r, "access_report", err)
		return
	}
	var buf bytes.Buffer
	if _, err := wb.WriteTo(&buf); err != nil {
		s.internalError(w, r, "access_report", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.AccessReportFilename(s.now())+`"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": 0, "channels": map[string]string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   s.bridge.Active(),
		"channels": s.bridge.Statuses(),
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	fields := append(logging.ContextFields(r.Context()), zap.String("op", op), zap.String("path", r.URL.Path), zap.Error(err))
	s.log.Error("handler failed", fields...)
	tags := map[string]string{"component": "http", "op": op}
	if id, ok := ctxutil.RequestID(r.Context()); ok && id != "" {
		tags["request_id"] = id
	}
	observability.CaptureWithTags(err, tags)
	writeError(w, http.StatusInternalServerError, "internal")
}
