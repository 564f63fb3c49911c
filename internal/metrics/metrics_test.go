package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveClient(t *testing.T) {
	before := testutil.ToFloat64(ClientRequests.WithLabelValues("/analyze", "timeout"))

	ObserveClient("/analyze", "timeout", 30*time.Second)
	ObserveClient("/analyze", "timeout", 31*time.Second)

	after := testutil.ToFloat64(ClientRequests.WithLabelValues("/analyze", "timeout"))
	if after-before != 2 {
		t.Errorf("timeout counter moved by %v, want 2", after-before)
	}

	if n := testutil.CollectAndCount(ClientRequestDuration); n == 0 {
		t.Error("expected duration histogram to have series")
	}
}
