package global

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsStateOK = 1
	MetricsStateNO = 0
)

var (
	applicationState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "application_state",
			Help: "The application running state: 0=stopped, 1=ok",
		},
	)

	leaderState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leader_state",
			Help: "The leadership state of this node: 0=follower, 1=leader",
		},
	)

	sourceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "source_state",
			Help: "The source notification subscription state: 0=disconnected, 1=listening",
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "The circuit breaker state: 0=closed, 1=open, 2=half_open",
		}, []string{"dependency"},
	)

	mirrorCreatedNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_created_num",
			Help: "The number of mirrors created on the control plane",
		},
	)

	mirrorDroppedNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_dropped_num",
			Help: "The number of mirrors dropped on the control plane",
		},
	)

	mirrorFailedNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_failed_num",
			Help: "The number of mirror operations that exhausted retries",
		},
	)

	notificationNum = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_received_num",
			Help: "The number of table change notifications received",
		}, []string{"operation"},
	)

	notificationDedupedNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_deduped_num",
			Help: "The number of duplicate notifications discarded",
		},
	)

	reconnectNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_reconnect_num",
			Help: "The number of source subscription reconnect attempts",
		},
	)

	auditMismatchNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_mismatch_num",
			Help: "The number of row count mismatches confirmed by the auditor",
		},
	)

	fencingAnomalyNum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fencing_anomaly_num",
			Help: "The number of fencing token regressions observed",
		},
	)
)

func SetApplicationState(state int) {
	if _config.EnableExporter {
		applicationState.Set(float64(state))
	}
}

func SetLeaderState(state int) {
	if _config.EnableExporter {
		leaderState.Set(float64(state))
	}
}

func SetSourceState(state int) {
	if _config.EnableExporter {
		sourceState.Set(float64(state))
	}
}

func SetBreakerState(dependency string, state int) {
	if _config.EnableExporter {
		breakerState.WithLabelValues(dependency).Set(float64(state))
	}
}

func IncMirrorCreatedNum() {
	if _config.EnableExporter {
		mirrorCreatedNum.Inc()
	}
}

func IncMirrorDroppedNum() {
	if _config.EnableExporter {
		mirrorDroppedNum.Inc()
	}
}

func IncMirrorFailedNum() {
	if _config.EnableExporter {
		mirrorFailedNum.Inc()
	}
}

func IncNotificationNum(operation string) {
	if _config.EnableExporter {
		notificationNum.WithLabelValues(operation).Inc()
	}
}

func IncNotificationDedupedNum() {
	if _config.EnableExporter {
		notificationDedupedNum.Inc()
	}
}

func IncReconnectNum() {
	if _config.EnableExporter {
		reconnectNum.Inc()
	}
}

func IncAuditMismatchNum() {
	if _config.EnableExporter {
		auditMismatchNum.Inc()
	}
}

func IncFencingAnomalyNum() {
	if _config.EnableExporter {
		fencingAnomalyNum.Inc()
	}
}

func StartMonitor() {
	if _config.EnableExporter {
		go func() {
			http.Handle("/", promhttp.Handler())
			http.ListenAndServe(fmt.Sprintf(":%d", _config.ExporterPort), nil)
		}()
	}
}
