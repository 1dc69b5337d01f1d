package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"sensor_telemetry/database"
	"sensor_telemetry/metrics"
	"sensor_telemetry/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sample is one temperature measurement as reported by a device. MACs and the
// address are opaque and case-sensitive. A zero RecordedAt means "now".
type Sample struct {
	TransmitterMAC  string
	SensorDeviceMAC string
	SensorAddress   string
	Temperature     float64
	RecordedAt      time.Time
}

// Validate checks the sample without touching storage
func (s Sample) Validate() error {
	switch {
	case s.TransmitterMAC == "":
		return &ValidationError{Field: "transmitter_mac", Reason: "is required"}
	case s.SensorDeviceMAC == "":
		return &ValidationError{Field: "sensor_device_mac", Reason: "is required"}
	case s.SensorAddress == "":
		return &ValidationError{Field: "sensor_address", Reason: "is required"}
	case math.IsNaN(s.Temperature) || math.IsInf(s.Temperature, 0):
		return &ValidationError{Field: "temperature", Reason: "must be a finite number"}
	}
	return nil
}

// Ingestion identifies the reading written by Ingest and the hierarchy it hangs off
type Ingestion struct {
	ReadingID      uint
	TransmitterID  uint
	SensorDeviceID uint
	SensorID       uint
	RecordedAt     time.Time
}

// Pipeline appends readings, resolving the transmitter, sensor device and
// sensor inside the same transaction
type Pipeline struct {
	db       *gorm.DB
	resolver *Resolver
	log      *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline over a pooled handle
func NewPipeline(db *gorm.DB, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		db:       db,
		resolver: NewResolver(database.UniquenessCheckerFor(db.Dialector.Name()), log),
		log:      log.Named("pipeline"),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for samples without a timestamp
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Ingest stores one reading. Either every write of the call commits or none does.
func (p *Pipeline) Ingest(ctx context.Context, s Sample) (Ingestion, error) {
	if err := s.Validate(); err != nil {
		return Ingestion{}, err
	}

	recordedAt := s.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = p.now()
	}
	recordedAt = recordedAt.UTC()

	var out Ingestion
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transmitter, err := p.resolver.Resolve(tx, KindTransmitter, s.TransmitterMAC, 0)
		if err != nil {
			return err
		}
		device, err := p.resolver.Resolve(tx, KindSensorDevice, s.SensorDeviceMAC, transmitter.ID)
		if err != nil {
			return err
		}
		sensor, err := p.resolver.Resolve(tx, KindSensor, s.SensorAddress, device.ID)
		if err != nil {
			return err
		}

		reading := models.Reading{
			SensorID:    sensor.ID,
			RecordedAt:  recordedAt,
			Temperature: s.Temperature,
		}
		if err := tx.Create(&reading).Error; err != nil {
			return fmt.Errorf("append reading: %w", err)
		}

		out = Ingestion{
			ReadingID:      reading.ID,
			TransmitterID:  transmitter.ID,
			SensorDeviceID: device.ID,
			SensorID:       sensor.ID,
			RecordedAt:     recordedAt,
		}
		return nil
	})
	if err != nil {
		metrics.IngestFailures.Inc()
		fields := []zap.Field{
			zap.String("transmitter_mac", s.TransmitterMAC),
			zap.String("sensor_device_mac", s.SensorDeviceMAC),
			zap.String("sensor_address", s.SensorAddress),
			zap.Error(err),
		}
		if errors.Is(err, ErrIntegrity) {
			p.log.Error("ingest aborted on storage inconsistency", fields...)
		} else {
			p.log.Warn("ingest rolled back", fields...)
		}
		return Ingestion{}, &TransactionError{Op: "ingest", Err: err}
	}

	metrics.ReadingsIngested.Inc()
	p.log.Debug("reading ingested", zap.Uint("reading_id", out.ReadingID), zap.Uint("sensor_id", out.SensorID))
	return out, nil
}

// RegisterTransmitter resolves a transmitter MAC ahead of any reading and
// reports whether it was already known
func (p *Pipeline) RegisterTransmitter(ctx context.Context, mac string) (uint, bool, error) {
	if mac == "" {
		return 0, false, &ValidationError{Field: "mac", Reason: "is required"}
	}

	var res Resolution
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = p.resolver.Resolve(tx, KindTransmitter, mac, 0)
		return err
	})
	if err != nil {
		return 0, false, &TransactionError{Op: "register transmitter", Err: err}
	}

	p.log.Info("transmitter registered", zap.String("mac", mac), zap.Uint("id", res.ID), zap.Bool("created", res.Created))
	return res.ID, !res.Created, nil
}

// ConfigureSensorDepth sets the depth of a sensor, or clears it when depth is nil
func (p *Pipeline) ConfigureSensorDepth(ctx context.Context, sensorID uint, depth *float64) error {
	if depth != nil && (math.IsNaN(*depth) || math.IsInf(*depth, 0)) {
		return &ValidationError{Field: "depth_meters", Reason: "must be a finite number"}
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Sensor{}).Where("id = ?", sensorID).Count(&count).Error; err != nil {
			return fmt.Errorf("lookup sensor %d: %w", sensorID, err)
		}
		if count == 0 {
			return fmt.Errorf("sensor %d: %w", sensorID, ErrNotFound)
		}

		if depth == nil {
			if err := tx.Where("sensor_id = ?", sensorID).Delete(&models.SensorSetting{}).Error; err != nil {
				return fmt.Errorf("clear depth of sensor %d: %w", sensorID, err)
			}
			return nil
		}

		setting := models.SensorSetting{SensorID: sensorID, DepthMeters: *depth}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sensor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"depth_meters", "updated_at"}),
		}).Create(&setting).Error
		if err != nil {
			return fmt.Errorf("set depth of sensor %d: %w", sensorID, err)
		}
		return nil
	})
}
