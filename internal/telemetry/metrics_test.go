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

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(SelectionChanges.WithLabelValues("click"))
	SelectionChanges.WithLabelValues("click").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SelectionChanges.WithLabelValues("click")))

	before = testutil.ToFloat64(ValidationFailures)
	ValidationFailures.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ValidationFailures))
}

func TestHandlerExposesCollectors(t *testing.T) {
	WSSessions.Set(3)
	Notifications.WithLabelValues("batched").Inc()
	StoreErrors.WithLabelValues("get").Inc()
	OperationDuration.WithLabelValues("select").Observe(0.001)
	WSMessages.WithLabelValues("ping").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"zoneselect_ws_sessions 3",
		"zoneselect_notifications_total",
		"zoneselect_store_errors_total",
		"zoneselect_operation_duration_seconds",
		"zoneselect_ws_messages_total",
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
