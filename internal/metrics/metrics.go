package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version and Rev can be overridden at build time via -ldflags
var (
	Version = "dev"
	Rev     = ""
)

var (
	Registry = prometheus.NewRegistry()

	controllerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rasweb_controller_commands_total",
			Help: "Total number of controller binary invocations by operation and result.",
		},
		[]string{"op", "result"},
	)
	controllerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rasweb_controller_command_seconds",
			Help:    "Latency of controller binary invocations by operation in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rasweb_actions_total",
			Help: "Dispatched actions by name and resulting state.",
		},
		[]string{"action", "state"},
	)
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rasweb_pending_actions",
		Help: "Destructive actions waiting for confirmation.",
	})
	buildInfoGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "rasweb_build_info",
		Help:        "Build info of rasweb.",
		ConstLabels: prometheus.Labels{"version": Version, "rev": Rev},
	})

	once sync.Once
)

func Init() {
	once.Do(func() {
		Registry.MustRegister(controllerCalls, controllerLatency, actions, pendingGauge, buildInfoGauge)
		Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		buildInfoGauge.Set(1)
	})
}

func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveCommand(op string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	controllerCalls.WithLabelValues(op, result).Inc()
	controllerLatency.WithLabelValues(op).Observe(d.Seconds())
}

func IncAction(action, state string) {
	actions.WithLabelValues(action, state).Inc()
}

func SetPending(n int) {
	pendingGauge.Set(float64(n))
}
