// Package telemetry exposes Prometheus metrics for session coordination.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livesession"

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently in the active state",
	})

	viewersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "viewers",
		Help:      "Viewers currently present across sessions",
	})

	viewersSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "swept_total",
		Help:      "Viewers removed by the heartbeat sweep",
	})

	chatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Chat messages appended, by kind",
	}, []string{"kind"})

	controlChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "changes_total",
		Help:      "Host control changes, by field",
	}, []string{"field"})

	busyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "busy_total",
		Help:      "Updates rejected because the session lock was not acquired in time",
	})

	feedDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "subscriber_drops_total",
		Help:      "Feed subscribers disconnected for falling behind",
	})
)

func SessionStarted() { sessionsActive.Inc() }

func SessionEnded() { sessionsActive.Dec() }

func ViewerJoined() { viewersConnected.Inc() }

// ViewersLeft records n viewers leaving; swept marks removals by the sweep.
func ViewersLeft(n int, swept bool) {
	viewersConnected.Sub(float64(n))
	if swept {
		viewersSwept.Add(float64(n))
	}
}

func MessagePosted(kind string) { chatMessages.WithLabelValues(kind).Inc() }

func ControlChanged(field string) { controlChanges.WithLabelValues(field).Inc() }

func Busy() { busyErrors.Inc() }

func FeedDropped() { feedDrops.Inc() }
