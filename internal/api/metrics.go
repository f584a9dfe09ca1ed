package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors the server and the strategies it
// hosts report against, served on the dedicated metrics port so scraping
// never shares the API's connection pool.
var (
	ActiveStrategies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_active_strategies",
		Help: "Number of strategies currently registered with the API server.",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_websocket_clients",
		Help: "Number of currently connected WebSocket clients.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_events_broadcast_total",
		Help: "Number of strategy events broadcast to WebSocket subscribers, by kind.",
	}, []string{"kind"})

	StrategyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_strategy_errors_total",
		Help: "Number of strategy-level errors returned from API handlers, by error code.",
	}, []string{"code"})
)

// ServeMetrics blocks serving the default Prometheus registry on port,
// grounded on the teacher's habit of giving every long-running service
// its own metrics listener separate from its API traffic.
func ServeMetrics(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
