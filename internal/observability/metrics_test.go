package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each test uses its own registry so metric names never collide.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry("test_kwresearch", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_kwresearch_default")

	assert.NotNil(t, m.BatchesSubmitted)
	assert.NotNil(t, m.BatchesCompleted)
	assert.NotNil(t, m.BatchesCancelled)
	assert.NotNil(t, m.JobsInFlight)
	assert.NotNil(t, m.JobsFailed)
	assert.NotNil(t, m.RemoteRequestsTotal)
	assert.NotNil(t, m.EventualReads)
	assert.NotNil(t, m.EventsPublished)
}

func TestRecordBatchLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordBatchSubmitted(3)
	m.RecordBatchFinished(false, 12)
	m.RecordBatchFinished(true, 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesCancelled))

	count, err := getHistogramSampleCount(m.BatchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordJobLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordJobStarted()
	m.RecordJobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsInFlight))

	m.RecordJobCompleted(17, 2.5)
	m.RecordJobFailed("run_research", 1.0)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFailed.WithLabelValues("run_research")))

	count, err := getHistogramSampleCount(m.ResultItems)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordRemoteRequests(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRemoteRequest("create_record", 0.2)
	m.RecordRemoteRequestFailed("create_record", "http_500")
	m.RecordRemoteRateLimited()
	m.RecordPatchFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteRequestsTotal.WithLabelValues("create_record")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteRequestsFailed.WithLabelValues("create_record", "http_500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteRateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatchFailures))
}

func TestRecordEventualRead(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventualRead("primary", true, 2)
	m.RecordEventualRead("raw", false, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventualReads.WithLabelValues("primary", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventualReads.WithLabelValues("raw", "inconclusive")))
}

func TestRecordEventPublished(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventPublished("job.finished", nil)
	m.RecordEventPublished("job.finished", errors.New("broker down"))
	m.RecordIdempotentReplay()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("job.finished", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("job.finished", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdempotentReplays))
}

func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	m := <-ch
	metric := &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}
	return metric.Histogram.GetSampleCount(), nil
}
