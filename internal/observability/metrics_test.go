package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/x", "GET", 200, time.Millisecond)
	m.RecordDelivery("sms", "delivered", time.Second)
	m.RecordSweep(1, 1, 1)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestMetricsCount(t *testing.T) {
	m := NewMetrics()
	m.RecordDelivery("sms", "delivered", 100*time.Millisecond)
	m.RecordDelivery("sms", "failed", time.Second)
	m.RecordDelivery("sms", "delivered", 50*time.Millisecond)
	m.RecordSweep(4, 2, 1)
	m.RecordTriage("emergency", "high")

	if got := testutil.ToFloat64(m.messagesSent.WithLabelValues("sms", "delivered")); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.autoClosed); got != 2 {
		t.Errorf("auto closed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.openConversations); got != 4 {
		t.Errorf("open gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.triageIntents.WithLabelValues("emergency", "high")); got != 1 {
		t.Errorf("triage = %v, want 1", got)
	}
}
