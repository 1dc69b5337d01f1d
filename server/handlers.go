package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"sensor_telemetry/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

type registerRequest struct {
	MAC string `json:"mac"`
}

type depthRequest struct {
	DepthMeters *float64 `json:"depth_meters"`
}

// bindJSON decodes a size-capped body into v, answering 413 or 400 on failure
func bindJSON(c *gin.Context, v interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleIngest(c *gin.Context) {
	var report telemetry.Report
	if !bindJSON(c, &report) {
		return
	}

	sample, err := report.Sample()
	if err != nil {
		s.respondError(c, err)
		return
	}

	res, err := s.ingester.Ingest(c.Request.Context(), sample)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reading_id": res.ReadingID})
}

func (s *Server) handleRegisterTransmitter(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	id, existed, err := s.ingester.RegisterTransmitter(c.Request.Context(), req.MAC)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"id": id, "already_existed": existed})
}

// handleConfigureSensor sets depth_meters, a null or missing value clears it
func (s *Server) handleConfigureSensor(c *gin.Context) {
	sensorID, ok := s.pathID(c)
	if !ok {
		return
	}

	var req depthRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := s.ingester.ConfigureSensorDepth(c.Request.Context(), sensorID, req.DepthMeters); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": sensorID, "depth_meters": req.DepthMeters})
}

func (s *Server) handleLatestReadings(c *gin.Context) {
	deviceID, ok := s.pathID(c)
	if !ok {
		return
	}

	sensors, err := s.querier.LatestPerSensor(c.Request.Context(), deviceID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sensors": sensors})
}

func (s *Server) handleTransmitters(c *gin.Context) {
	transmitters, err := s.querier.Transmitters(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transmitters)
}

func (s *Server) handleTransmitter(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	transmitter, err := s.querier.Transmitter(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transmitter)
}

func (s *Server) handleGroupedReadings(c *gin.Context) {
	if report, ok := s.groupedReadings(c); ok {
		c.JSON(http.StatusOK, gin.H{"report": report})
	}
}

// handleReport serves the same window as handleGroupedReadings as a bare array
func (s *Server) handleReport(c *gin.Context) {
	if report, ok := s.groupedReadings(c); ok {
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) groupedReadings(c *gin.Context) ([]telemetry.SensorReadings, bool) {
	deviceID, ok := s.pathID(c)
	if !ok {
		return nil, false
	}

	from, err := parseTimeParam(c, "from")
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}

	report, err := s.querier.GroupedReadings(c.Request.Context(), deviceID, from, to)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return report, true
}

func (s *Server) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id: " + c.Param("id")})
		return 0, false
	}
	return uint(id), true
}

func parseTimeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, &telemetry.ValidationError{Field: name, Reason: "is required"}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &telemetry.ValidationError{Field: name, Reason: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

func (s *Server) respondError(c *gin.Context, err error) {
	var verr *telemetry.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, telemetry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		s.log.Error("request failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
