package observability

import (
	"testing"
	"time"

	"github.com/danmuck/earlink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordFrame("tx", "get_device_config")
	RecordFramingError()
	resyncBefore := testutil.ToFloat64(resyncBytes)
	RecordResyncBytes(5)
	if got := testutil.ToFloat64(resyncBytes); got != resyncBefore+5 {
		t.Fatalf("resync counter got=%v want=%v", got, resyncBefore+5)
	}
	RecordRequest("get_device_config", "ok", 4*time.Millisecond)
	RecordRequest("get_device_config", "timeout", 0)
	RecordEvent("battery_changed", true)
	RecordEvent("battery_changed", false)

	before := testutil.ToFloat64(connectedDevices)
	DeviceConnected()
	DeviceConnected()
	DeviceDisconnected()
	if got := testutil.ToFloat64(connectedDevices); got != before+1 {
		t.Fatalf("connected gauge got=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(requests.WithLabelValues("get_device_config", "timeout")); got < 1 {
		t.Fatalf("timeout counter not recorded: %v", got)
	}
}
