package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Fills.WithLabelValues("inserted").Add(3)
	m.Watermark.Set(1700000000000)
	m.RunDone("ingest", nil)
	m.RunDone("ingest", errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Fills.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ingest", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `autotrader_fills_total{result="inserted"} 3`)
	assert.Contains(t, body, `autotrader_runs_total{job="ingest",outcome="ok"} 1`)
	assert.Contains(t, body, "autotrader_ingest_watermark_ms 1.7e+12")
}

func TestPush(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Sells.WithLabelValues("accepted").Inc()
	require.NoError(t, m.Push(context.Background(), srv.URL, "liquidate"))
	mu.Lock()
	assert.Equal(t, "/metrics/job/liquidate", gotPath)
	assert.NotEmpty(t, gotBody)
	mu.Unlock()

	assert.NoError(t, m.Push(context.Background(), "", "liquidate"))
}
