package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/models"
)

func TestRecorderCounts(t *testing.T) {
	r := New(func() float64 { return 3 }, nil)

	r.SignalDropped("stale")
	r.SignalDropped("stale")
	r.AlertCreated(models.SeverityCritical)
	r.Transition(models.StatusAwaitingAck, models.StatusAcknowledged)
	r.ObserveAttempt(models.ChannelSMS, models.OutcomeFailed, false, 200*time.Millisecond)
	r.ObserveAttempt(models.ChannelSMS, models.OutcomeDelivered, false, 100*time.Millisecond)
	r.ConfigSwapped(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signalsDropped.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsCreated.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("awaiting_ack", "acknowledged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("sms", "failed", "false")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.configVersion))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.pendingTimers))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New(nil, func() float64 { return 2 })
	r.AlertCreated(models.SeverityHigh)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `hazard_alert_alerts_created_total{severity="high"} 1`)
	assert.Contains(t, string(body), "hazard_alert_live_feed_subscribers 2")
}
