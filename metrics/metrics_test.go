package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(requests.WithLabelValues("register", ResultOK))
	RecordRequest("register", ResultOK, 3*time.Millisecond)
	if got := testutil.ToFloat64(requests.WithLabelValues("register", ResultOK)); got != before+1 {
		t.Fatalf("expected requests counter %v, got %v", before+1, got)
	}

	deliveredBefore := testutil.ToFloat64(messagesDelivered)
	RecordMessagesDelivered(3)
	if got := testutil.ToFloat64(messagesDelivered); got != deliveredBefore+3 {
		t.Fatalf("expected delivered counter %v, got %v", deliveredBefore+3, got)
	}

	bytesBefore := testutil.ToFloat64(contentBytes)
	RecordMessageStored("send_text", 42)
	if got := testutil.ToFloat64(contentBytes); got != bytesBefore+42 {
		t.Fatalf("expected content bytes %v, got %v", bytesBefore+42, got)
	}

	gaugeBefore := testutil.ToFloat64(activeConnections)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	if got := testutil.ToFloat64(activeConnections); got != gaugeBefore+1 {
		t.Fatalf("expected active connections %v, got %v", gaugeBefore+1, got)
	}
	ConnectionClosed()
}
