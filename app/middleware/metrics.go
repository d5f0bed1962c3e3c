package middleware

import (
	"strconv"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of open websocket connections",
		},
	)

	// Connections closed partitioned by close reason
	wsConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_closed_total",
			Help: "Total number of websocket connections closed",
		},
		[]string{"reason"},
	)

	// Handled messages partitioned by action and envelope status
	wsMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "Total number of websocket messages handled",
		},
		[]string{"action", "status"},
	)

	wsMessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ws_message_duration_seconds",
			Help:    "Websocket message handling latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	reconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total number of reconciliation runs by result",
		},
		[]string{"result"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Reconciliation run durations in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	reconcileUsersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_users_created_total",
			Help: "Users created by reconciliation partitioned by role",
		},
		[]string{"role"},
	)

	reconcileAttendanceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_attendance_failures_total",
			Help: "Attendance fetches that failed during reconciliation",
		},
	)
)

// Metrics returns a Fiber v3 middleware that records basic Prometheus metrics.
// Labels are kept low-cardinality by using the matched route path when available.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}

		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

func ConnectionOpened() {
	wsActiveConnections.Inc()
}

func ConnectionClosed(reason string) {
	wsActiveConnections.Dec()
	wsConnectionsClosed.WithLabelValues(reason).Inc()
}

// ObserveMessage records one handled websocket message. Unknown actions share a label.
func ObserveMessage(action string, known bool, status int, elapsed time.Duration) {
	if !known {
		action = "unknown"
	}
	wsMessagesTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	wsMessageDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveReconcile records the outcome of a reconciliation run
func ObserveReconcile(summary *dto.SyncSummaryDTO, err error, elapsed time.Duration) {
	reconcileDuration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		reconcileRunsTotal.WithLabelValues("failed").Inc()
		return
	case summary == nil:
		return
	case summary.Skipped:
		reconcileRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	reconcileRunsTotal.WithLabelValues("succeeded").Inc()
	reconcileUsersCreated.WithLabelValues("admin").Add(float64(summary.AdminsCreated))
	reconcileUsersCreated.WithLabelValues("user").Add(float64(summary.UsersCreated))
	reconcileAttendanceFailures.Add(float64(summary.AttendanceFailures))
}
