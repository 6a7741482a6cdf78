package observability

import (
	"testing"
	"time"

	"github.com/danmuck/chainstream/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("feed-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordFeedConnection("feed-a", 112, true)
	RecordResolution(OutcomeFound, 4, 3*time.Millisecond)
	RecordStreamFailure("chain-0", "malformed")
}

func TestFrameCounterIncrements(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(framesDecoded.WithLabelValues("metrics-test"))
	RecordFrameDecoded("metrics-test")
	RecordFrameDecoded("metrics-test")
	after := testutil.ToFloat64(framesDecoded.WithLabelValues("metrics-test"))
	if after-before != 2 {
		t.Fatalf("expected 2 frames recorded, got %v", after-before)
	}
}
