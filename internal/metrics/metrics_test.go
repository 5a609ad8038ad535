package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFrameCounterIncrementsPerCamera(t *testing.T) {
	FrameCounter.WithLabelValues("front-door").Inc()
	FrameCounter.WithLabelValues("front-door").Inc()
	FrameCounter.WithLabelValues("backyard").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(FrameCounter.WithLabelValues("front-door")))
	assert.Equal(t, float64(1), testutil.ToFloat64(FrameCounter.WithLabelValues("backyard")))
}

func TestCurrentStateGaugeTracksLatestValue(t *testing.T) {
	CurrentState.WithLabelValues("driveway").Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CurrentState.WithLabelValues("driveway")))

	CurrentState.WithLabelValues("driveway").Set(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(CurrentState.WithLabelValues("driveway")))
}

func TestRejectScoreHistogramObserves(t *testing.T) {
	before := testutil.CollectAndCount(RejectScore)
	RejectScore.WithLabelValues("garage").Observe(3.5)
	after := testutil.CollectAndCount(RejectScore)
	assert.GreaterOrEqual(t, after, before)
}
