package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoleResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "role_resolutions_total", Help: "Role resolutions by resulting role and outcome",
	}, []string{"role", "outcome"})
	RoleLookupErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "role_lookup_errors_total", Help: "Failed remote lookups during role resolution",
	}, []string{"source"})
	PermissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "permission_decisions_total", Help: "Permission gate decisions",
	}, []string{"permission", "decision"})
	RealtimeChannels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dashboard", Name: "realtime_channels", Help: "Realtime channels by status",
	}, []string{"status"})
	RealtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "realtime_events_total", Help: "Change events delivered to consumers",
	}, []string{"table", "type"})
	CacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "cache_invalidations_total", Help: "Query cache invalidations by key prefix",
	}, []string{"prefix"})
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "cache_lookups_total", Help: "Query cache lookups by backend and result",
	}, []string{"backend", "result"})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "notifications_total", Help: "User notifications by outcome",
	}, []string{"outcome"})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dashboard", Name: "handler_errors_total", Help: "HTTP handler errors",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dashboard", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		RoleResolutions, RoleLookupErrors, PermissionDecisions,
		RealtimeChannels, RealtimeEvents, CacheInvalidations, CacheLookups,
		Notifications, HandlerErrors, DBPing,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// Decision — "allow" / "deny" для счётчика решений.
func Decision(permission string, allowed bool) {
	d := "deny"
	if allowed {
		d = "allow"
	}
	PermissionDecisions.WithLabelValues(permission, d).Inc()
}
