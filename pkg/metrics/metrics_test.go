package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedSamples(t *testing.T) {
	r := New()
	r.ObserveSync("full", "completed", 2*time.Second)
	r.AddRowsProcessed("full", 37)
	r.SetQueueLength(4)
	r.SetCircuitState("gateway", 0)
	r.IncGatewayCallError("timeout")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `replicator_syncs_total{kind="full",status="completed"} 1`)
	assert.Contains(t, body, `replicator_rows_processed_total{kind="full"} 37`)
	assert.Contains(t, body, "replicator_queue_length 4")
	assert.Contains(t, body, `replicator_circuit_state{dependency="gateway"} 0`)
	assert.Contains(t, body, `replicator_gateway_call_errors_total{kind="timeout"} 1`)
}

func TestAddRowsProcessedIgnoresNonPositive(t *testing.T) {
	r := New()
	r.AddRowsProcessed("incremental", 0)
	r.AddRowsProcessed("incremental", -5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.NotContains(t, rec.Body.String(), "replicator_rows_processed_total")
}

func TestTwoRecordersDoNotCollide(t *testing.T) {
	r1 := New()
	r2 := New()
	r1.SetQueueLength(1)
	r2.SetQueueLength(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r1.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "replicator_queue_length 1")
}
