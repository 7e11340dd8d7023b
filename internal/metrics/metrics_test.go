package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	m := New()
	m.BlocksSkipped.Add(3)
	m.Mirrors.WithLabelValues("BUY", "submitted").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.BlocksSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mirrors.WithLabelValues("BUY", "submitted")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "mirrorbot_blocks_skipped_total 3"))
	assert.True(t, strings.Contains(string(body), `mirrorbot_mirror_attempts_total{action="BUY",status="submitted"} 1`))
}

func TestNewIsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.TickErrors.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TickErrors))
}
