package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/database/dbtest"
	"sensor_telemetry/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db := dbtest.New(t)
	return New(config.ServerConfig{}, telemetry.NewPipeline(db, zap.NewNop()), telemetry.NewReader(db, zap.NewNop()), zap.NewNop())
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestIngestAndQuery(t *testing.T) {
	s := newTestServer(t)

	post := func(addr string, temp float64, at string) *httptest.ResponseRecorder {
		return do(t, s, http.MethodPost, "/data", map[string]interface{}{
			"transmitter_mac":   "T1",
			"sensor_device_mac": "SD1",
			"sensor_address":    addr,
			"temperature":       temp,
			"recorded_at":       at,
		})
	}

	rec := post("1", 10, "2024-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ingested struct {
		ReadingID uint `json:"reading_id"`
	}
	decode(t, rec, &ingested)
	assert.NotZero(t, ingested.ReadingID)

	require.Equal(t, http.StatusOK, post("1", 20, "2024-01-02T00:00:00Z").Code)
	require.Equal(t, http.StatusOK, post("1", 30, "2024-01-03T00:00:00Z").Code)
	require.Equal(t, http.StatusOK, post("2", 5, "2024-01-03T00:00:00Z").Code)

	// ids are assigned from 1 in a fresh store
	rec = do(t, s, http.MethodGet, "/sensor-devices/1/latest-readings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest struct {
		Sensors []telemetry.SensorLatest `json:"sensors"`
	}
	decode(t, rec, &latest)
	require.Len(t, latest.Sensors, 2)
	require.NotNil(t, latest.Sensors[0].LatestReading)
	assert.Equal(t, 30.0, latest.Sensors[0].LatestReading.Temperature)

	const window = "?from=2024-01-01T00:00:00Z&to=2024-01-02T00:00:00Z"

	rec = do(t, s, http.MethodGet, "/sensor-devices/1/grouped-readings"+window, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var grouped struct {
		Report []telemetry.SensorReadings `json:"report"`
	}
	decode(t, rec, &grouped)
	require.Len(t, grouped.Report, 2)
	assert.Len(t, grouped.Report[0].Readings, 2)
	assert.NotNil(t, grouped.Report[1].Readings)
	assert.Empty(t, grouped.Report[1].Readings)

	// the report alias answers with the bare list
	rec = do(t, s, http.MethodGet, "/reports/sensor-device/1"+window, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, byte('['), bytes.TrimSpace(rec.Body.Bytes())[0])
	var report []telemetry.SensorReadings
	decode(t, rec, &report)
	assert.Equal(t, grouped.Report, report)
}

func TestTransmitterRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/transmitters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/data", map[string]interface{}{
		"transmitter_mac": "T1", "sensor_device_mac": "SD1", "sensor_address": "1", "temperature": 1,
	}).Code)

	rec = do(t, s, http.MethodGet, "/transmitters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "T1", list[0]["transmitter_mac_address"])

	rec = do(t, s, http.MethodGet, "/transmitters/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		ID            uint   `json:"id"`
		MAC           string `json:"transmitter_mac_address"`
		SensorDevices []struct {
			ID      uint   `json:"id"`
			MAC     string `json:"sensor_device_mac_address"`
			Sensors []struct {
				ID      uint   `json:"id"`
				Address string `json:"sensor_address"`
			} `json:"sensors"`
		} `json:"sensorDevices"`
	}
	decode(t, rec, &one)
	assert.Equal(t, uint(1), one.ID)
	require.Len(t, one.SensorDevices, 1)
	assert.Equal(t, "SD1", one.SensorDevices[0].MAC)
	require.Len(t, one.SensorDevices[0].Sensors, 1)
	assert.Equal(t, "1", one.SensorDevices[0].Sensors[0].Address)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/transmitters/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/transmitters/abc", nil).Code)
}

func TestIngest_RejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)

	body := `{"transmitter_mac":"` + strings.Repeat("A", maxBodyBytes+1) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIngest_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/data", map[string]interface{}{
		"transmitter_mac":   "T1",
		"sensor_device_mac": "SD1",
		"sensor_address":    "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "temperature")

	req := httptest.NewRequest(http.MethodPost, "/data", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRegisterTransmitter(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/transmitters/register", map[string]string{"mac": "T9"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var first struct {
		ID             uint `json:"id"`
		AlreadyExisted bool `json:"already_existed"`
	}
	decode(t, rec, &first)
	assert.False(t, first.AlreadyExisted)

	rec = do(t, s, http.MethodPost, "/transmitters/register", map[string]string{"mac": "T9"})
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		ID             uint `json:"id"`
		AlreadyExisted bool `json:"already_existed"`
	}
	decode(t, rec, &second)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.ID, second.ID)

	rec = do(t, s, http.MethodPost, "/transmitters/register", map[string]string{"mac": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigureSensor(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/data", map[string]interface{}{
		"transmitter_mac": "T1", "sensor_device_mac": "SD1", "sensor_address": "1", "temperature": 1,
	}).Code)

	rec := do(t, s, http.MethodPatch, "/sensors/1", map[string]interface{}{"depth_meters": 2.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/sensor-devices/1/latest-readings", nil)
	var latest struct {
		Sensors []telemetry.SensorLatest `json:"sensors"`
	}
	decode(t, rec, &latest)
	require.Len(t, latest.Sensors, 1)
	require.NotNil(t, latest.Sensors[0].Depth)
	assert.Equal(t, 2.5, *latest.Sensors[0].Depth)

	rec = do(t, s, http.MethodPatch, "/sensors/99", map[string]interface{}{"depth_meters": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPatch, "/sensors/abc", map[string]interface{}{"depth_meters": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupedReadings_InvalidRange(t *testing.T) {
	s := newTestServer(t)

	tests := []string{
		"/sensor-devices/1/grouped-readings?to=2024-01-02T00:00:00Z",
		"/sensor-devices/1/grouped-readings?from=yesterday&to=2024-01-02T00:00:00Z",
		"/sensor-devices/1/grouped-readings?from=2024-01-03T00:00:00Z&to=2024-01-02T00:00:00Z",
		"/sensor-devices/0/grouped-readings?from=2024-01-01T00:00:00Z&to=2024-01-02T00:00:00Z",
	}
	for _, path := range tests {
		rec := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

type failingQuerier struct{}

func (failingQuerier) LatestPerSensor(context.Context, uint) ([]telemetry.SensorLatest, error) {
	return nil, errors.New("connection reset")
}

func (failingQuerier) GroupedReadings(context.Context, uint, time.Time, time.Time) ([]telemetry.SensorReadings, error) {
	return nil, errors.New("connection reset")
}

func (failingQuerier) Transmitters(context.Context) ([]telemetry.TransmitterInfo, error) {
	return nil, errors.New("connection reset")
}

func (failingQuerier) Transmitter(context.Context, uint) (telemetry.TransmitterInfo, error) {
	return telemetry.TransmitterInfo{}, errors.New("connection reset")
}

func TestBackendErrorsAreHidden(t *testing.T) {
	db := dbtest.New(t)
	s := New(config.ServerConfig{}, telemetry.NewPipeline(db, zap.NewNop()), failingQuerier{}, zap.NewNop())

	for _, path := range []string{"/sensor-devices/1/latest-readings", "/transmitters", "/transmitters/1"} {
		rec := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := New(config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: 1}, nil, failingQuerier{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
