package telemetry

import (
	"context"
	"fmt"
	"time"

	"sensor_telemetry/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ReadingValue is one reading as returned by the aggregation queries
type ReadingValue struct {
	Temperature float64   `json:"temperature"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SensorLatest is a sensor with its most recent reading, nil when it has none
type SensorLatest struct {
	SensorID      uint          `json:"id"`
	Name          string        `json:"name"`
	Address       string        `json:"sensor_address"`
	Depth         *float64      `json:"depth_meters"`
	LatestReading *ReadingValue `json:"latest_reading"`
}

// SensorReadings groups the readings of one sensor within a time window
type SensorReadings struct {
	SensorID uint           `json:"sensorId"`
	Name     string         `json:"name"`
	Readings []ReadingValue `json:"readings"`
}

type sensorRow struct {
	ID          uint
	Name        string
	Address     string
	DepthMeters *float64
}

// Reader answers the read-side queries over a sensor device. It never writes
// and never opens a transaction.
type Reader struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewReader creates a reader over db. A nil log discards output.
func NewReader(db *gorm.DB, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{db: db, log: log.Named("reader")}
}

// LatestPerSensor returns every sensor of the device, ordered by id, each with
// its newest reading. An unknown device yields an empty slice.
func (r *Reader) LatestPerSensor(ctx context.Context, deviceID uint) ([]SensorLatest, error) {
	var (
		sensors []sensorRow
		latest  []models.Reading
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.sensors(gctx, deviceID, &sensors)
	})
	g.Go(func() error {
		db := r.db.WithContext(gctx)
		ranked := db.Model(&models.Reading{}).
			Select("id, ROW_NUMBER() OVER (PARTITION BY sensor_id ORDER BY recorded_at DESC, id DESC) AS rn").
			Where("sensor_id IN (?)", r.sensorIDs(db, deviceID))
		newest := db.Table("(?) AS ranked", ranked).Select("id").Where("rn = 1")
		if err := db.Where("id IN (?)", newest).Find(&latest).Error; err != nil {
			return fmt.Errorf("latest readings of device %d: %w", deviceID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bySensor := make(map[uint]*ReadingValue, len(latest))
	for _, reading := range latest {
		bySensor[reading.SensorID] = &ReadingValue{
			Temperature: reading.Temperature,
			RecordedAt:  reading.RecordedAt.UTC(),
		}
	}

	out := make([]SensorLatest, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, SensorLatest{
			SensorID:      s.ID,
			Name:          s.Name,
			Address:       s.Address,
			Depth:         s.DepthMeters,
			LatestReading: bySensor[s.ID],
		})
	}

	r.log.Debug("latest per sensor", zap.Uint("sensor_device_id", deviceID), zap.Int("sensors", len(out)))
	return out, nil
}

// GroupedReadings returns, for every sensor of the device, the readings with
// from <= recorded_at <= to in ascending order. Sensors without readings in
// the window are kept with an empty list.
func (r *Reader) GroupedReadings(ctx context.Context, deviceID uint, from, to time.Time) ([]SensorReadings, error) {
	if from.After(to) {
		return nil, &ValidationError{Field: "from", Reason: "must not be after to"}
	}
	from, to = from.UTC(), to.UTC()

	var (
		sensors  []sensorRow
		readings []models.Reading
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.sensors(gctx, deviceID, &sensors)
	})
	g.Go(func() error {
		db := r.db.WithContext(gctx)
		err := db.Where("sensor_id IN (?)", r.sensorIDs(db, deviceID)).
			Where("recorded_at >= ? AND recorded_at <= ?", from, to).
			Order("sensor_id, recorded_at, id").
			Find(&readings).Error
		if err != nil {
			return fmt.Errorf("readings of device %d: %w", deviceID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bySensor := make(map[uint][]ReadingValue)
	for _, reading := range readings {
		bySensor[reading.SensorID] = append(bySensor[reading.SensorID], ReadingValue{
			Temperature: reading.Temperature,
			RecordedAt:  reading.RecordedAt.UTC(),
		})
	}

	out := make([]SensorReadings, 0, len(sensors))
	for _, s := range sensors {
		values := bySensor[s.ID]
		if values == nil {
			values = []ReadingValue{}
		}
		out = append(out, SensorReadings{SensorID: s.ID, Name: s.Name, Readings: values})
	}

	r.log.Debug("grouped readings",
		zap.Uint("sensor_device_id", deviceID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("readings", len(readings)))
	return out, nil
}

func (r *Reader) sensorIDs(db *gorm.DB, deviceID uint) *gorm.DB {
	return db.Model(&models.Sensor{}).Select("id").Where("sensor_device_id = ?", deviceID)
}

func (r *Reader) sensors(ctx context.Context, deviceID uint, out *[]sensorRow) error {
	err := r.db.WithContext(ctx).
		Model(&models.Sensor{}).
		Select("sensors.id, sensors.name, sensors.address, sensor_settings.depth_meters").
		Joins("LEFT JOIN sensor_settings ON sensor_settings.sensor_id = sensors.id").
		Where("sensors.sensor_device_id = ?", deviceID).
		Order("sensors.id").
		Scan(out).Error
	if err != nil {
		return fmt.Errorf("sensors of device %d: %w", deviceID, err)
	}
	return nil
}
