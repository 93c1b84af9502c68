package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Attempt()
		m.ManagerEmitted()
		m.CreatorsRead(3)
		m.EnrichMiss()
		m.EnrichLatency(time.Second)
		m.ModalTimeout()
		m.EmitFailure()
		m.DeadLettered()
		m.SkippedCreator()
		m.BatchDuration(time.Second)
		m.Success(time.Now())
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "http://unused", "job", "202601"))
}

func TestCounters(t *testing.T) {
	m := New()

	m.Attempt()
	m.Attempt()
	m.ManagerEmitted()
	m.CreatorsRead(5)
	m.EnrichMiss()
	m.SkippedCreator()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.managers))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.creators))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedCreators))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.modalTimeouts))
}

func TestNamespaceAndRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithNamespace("test"), WithRegistry(reg))
	m.ModalTimeout()

	assert.Same(t, reg, m.Registry())
	n, err := testutil.GatherAndCount(reg, "test_crawl_modal_timeouts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Attempt()
	require.NoError(t, m.Push(context.Background(), srv.URL, "backstage_ingest", "202601"))

	assert.Equal(t, "/metrics/job/backstage_ingest/period/202601", gotPath)
	assert.True(t, strings.Contains(gotBody, "backstage_crawl_attempts_total"))
}

func TestPushSkipsEmptyURL(t *testing.T) {
	assert.NoError(t, New().Push(context.Background(), "", "job", "202601"))
}

func TestPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "job", "202601")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: push")
}
