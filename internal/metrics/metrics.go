// Package metrics exposes Prometheus counters and gauges for both the
// load balancer and the chat server, served over an echo HTTP server on
// PROMETHEUS_PORT.
package metrics

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxrios/mcs/internal/logging"
)

// LB metrics.
var (
	LBHealthyBackends = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lb_healthy_backends",
		Help: "Current number of backends the health loop considers healthy.",
	})
	LBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lb_active_connections",
		Help: "Current number of client connections proxied by this load balancer.",
	})
	LBBackendActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lb_backend_active_connections",
		Help: "Current active connections per backend.",
	}, []string{"backend"})
	LBAcceptedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lb_accepted_connections_total",
		Help: "Total client connections accepted by the load balancer.",
	})
	LBRejectedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lb_rejected_connections_total",
		Help: "Total client connections rejected by the load balancer, by reason.",
	}, []string{"reason"})
)

// Rejection reason label constants (stable label values to bound cardinality).
const (
	RejectQuotaExceeded = "quota_exceeded"
	RejectTLSHandshake  = "tls_handshake"
	RejectNoBackend     = "no_backend"
	RejectDialFailed    = "dial_failed"
)

// Chat server metrics.
var (
	ServerActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcs_active_sessions",
		Help: "Current number of live chat sessions on this server.",
	})
	ServerBusDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcs_bus_dropped_messages_total",
		Help: "Total messages dropped by the broadcast bus due to a full subscriber backlog.",
	})
	ServerMessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcs_messages_broadcast_total",
		Help: "Total chat messages persisted and published.",
	})
	ServerLoginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcs_login_failures_total",
		Help: "Total failed login attempts, by error kind.",
	}, []string{"kind"})
)

// StartHTTP serves /metrics on addr using echo, matching the rest of
// this codebase's HTTP surface.
func StartHTTP(addr string) *http.Server {
	e := echo.New()
	e.HideBanner = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok\n")
	})

	srv := &http.Server{Addr: addr, Handler: e}
	go func() {
		logging.L().Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics http server failed", "err", err)
		}
	}()
	return srv
}

// Shutdown gracefully stops the metrics HTTP server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
