package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	RecordDispatch("local", "Tap", 20*time.Millisecond, true)
	RecordDispatch("remote", "Launch", time.Second, false)
	RecordLaunchFallback()
	RecordRun("finished", 3*time.Second)
	RecordStep("do")
	SetActiveRuns(2)
	RecordCancellation("session", 2)
	RecordModelStream("anthropic", time.Second, false)
	RecordScheduledRun("morning", true)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `phonepilot_dispatch_total{action="Tap",backend="local",status="success"} 1`)
	assert.Contains(t, out, `phonepilot_dispatch_total{action="Launch",backend="remote",status="error"} 1`)
	assert.Contains(t, out, "phonepilot_launch_fallbacks_total 1")
	assert.Contains(t, out, "phonepilot_active_runs 2")
	assert.Contains(t, out, `phonepilot_model_errors_total{provider="anthropic"} 1`)
	assert.Contains(t, out, `phonepilot_scheduled_runs_total{schedule="morning",status="success"} 1`)
}
