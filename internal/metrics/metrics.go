// Package metrics registers the process-wide Prometheus collectors the
// camera worker reports through, one set per camera via a "camera"
// label, grounded on the promauto.NewCounterVec/NewHistogramVec idiom
// used for per-camera metrics in the corpus (warpcomdev-asicamera2's
// jpeg compression pool).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FrameCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_frames_total",
			Help: "Frames advanced through the motion detector.",
		},
		[]string{"camera"},
	)

	ChangeSum = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_change_sum",
			Help: "Cumulative frame-diff average change score.",
		},
		[]string{"camera"},
	)

	StdDevSum = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_stddev_sum",
			Help: "Cumulative frame-diff stddev estimate.",
		},
		[]string{"camera"},
	)

	RejectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_rejected_events_total",
			Help: "Motion runs rejected for insufficient length or score.",
		},
		[]string{"camera"},
	)

	RejectScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camwatch_rejected_event_score",
			Help:    "Total score of rejected motion runs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"camera"},
	)

	ConfirmCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_confirmed_events_total",
			Help: "Motion runs announced while still in progress.",
		},
		[]string{"camera"},
	)

	CompleteCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_completed_events_total",
			Help: "Motion runs that met the accept threshold.",
		},
		[]string{"camera"},
	)

	CompleteScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camwatch_completed_event_score",
			Help:    "Total score of completed motion runs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"camera"},
	)

	LastRejectFrame = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camwatch_last_rejected_frame",
			Help: "Stream frame number of the most recently rejected run.",
		},
		[]string{"camera"},
	)

	LastCompleteFrame = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camwatch_last_completed_frame",
			Help: "Stream frame number of the most recently completed run.",
		},
		[]string{"camera"},
	)

	CurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camwatch_current_state",
			Help: "Discriminant of the detector's current state variant.",
		},
		[]string{"camera"},
	)

	AlertLatencyMS = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_alert_latency_ms_total",
			Help: "Cumulative wall-clock time spent sending alerts.",
		},
		[]string{"camera"},
	)

	AlertCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camwatch_alerts_total",
			Help: "Alerts dispatched, regardless of outcome.",
		},
		[]string{"camera"},
	)
)
