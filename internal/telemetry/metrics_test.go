package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePeerOneHotState(t *testing.T) {
	ObservePeer("p1", "suspect", 9.5)
	t.Cleanup(func() { ForgetPeer("p1") })

	assert.Equal(t, 9.5, testutil.ToFloat64(PeerPhi.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PeerState.WithLabelValues("p1", "suspect")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PeerState.WithLabelValues("p1", "alive")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PeerState.WithLabelValues("p1", "dead")))

	ObservePeer("p1", "dead", 20)
	assert.Equal(t, 0.0, testutil.ToFloat64(PeerState.WithLabelValues("p1", "suspect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PeerState.WithLabelValues("p1", "dead")))
}

func TestForgetPeer(t *testing.T) {
	ObservePeer("gone", "alive", 0.1)
	ForgetPeer("gone")
	assert.Equal(t, 0, testutil.CollectAndCount(PeerPhi, "phiaccrual_peer_phi"))
}

func TestInstrumentRecordsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(InFlight.WithLabelValues("test_op")))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	HeartbeatsTotal.WithLabelValues("push", ResultOK).Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "phiaccrual_heartbeats_total"))
}
