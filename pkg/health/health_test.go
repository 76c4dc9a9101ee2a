package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth   { return ComponentHealth{Status: StatusUp} }
func down(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown, Message: "no vocabulary"} }

func TestRun(t *testing.T) {
	c := NewChecker()
	c.Register("vocabulary", up)
	c.RegisterOptional("redis", down)

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status, "an optional failure only degrades")
	assert.Equal(t, StatusDegraded, report.Components["redis"].Status)
	assert.True(t, report.Components["redis"].Optional)
	assert.Equal(t, StatusUp, report.Components["vocabulary"].Status)
	assert.NotEmpty(t, report.Components["vocabulary"].Latency)

	c.Register("vocabulary", down)
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("vocabulary", up)

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("vocabulary", down)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "no vocabulary", report.Components["vocabulary"].Message)
}

func TestLiveHandler(t *testing.T) {
	c := NewChecker()
	c.Register("vocabulary", down)

	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness never runs checks")
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
