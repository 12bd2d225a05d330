package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesInstruments(t *testing.T) {
	SegmentsOpened.WithLabelValues("7").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(SegmentsOpened.WithLabelValues("7")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `camvigil_recorder_segments_opened_total{camera="7"} 1`)
	assert.Contains(t, body, "camvigil_archive_free_bytes")
}
