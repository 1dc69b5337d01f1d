package telemetry

import (
	"fmt"

	"sensor_telemetry/database"
	"sensor_telemetry/metrics"
	"sensor_telemetry/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind is the entity level addressed by a natural key
type Kind int

const (
	KindTransmitter Kind = iota + 1
	KindSensorDevice
	KindSensor
)

func (k Kind) String() string {
	switch k {
	case KindTransmitter:
		return "transmitter"
	case KindSensorDevice:
		return "sensor_device"
	case KindSensor:
		return "sensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) keyField() string {
	switch k {
	case KindTransmitter:
		return "transmitter_mac"
	case KindSensorDevice:
		return "sensor_device_mac"
	default:
		return "sensor_address"
	}
}

func (k Kind) placeholderName(key string) string {
	switch k {
	case KindTransmitter:
		return "Transmitter " + key
	case KindSensorDevice:
		return "Sensor device " + key
	default:
		return "Sensor " + key
	}
}

// Resolution is the outcome of resolving one natural key
type Resolution struct {
	ID      uint
	Created bool
}

type entityRow struct {
	id       uint
	parentID uint
}

// Resolver maps natural keys to surrogate ids, creating rows on first sight.
// It holds no state between calls.
type Resolver struct {
	isUnique database.UniquenessChecker
	log      *zap.Logger
}

// NewResolver creates a resolver using the engine specific uniqueness check
func NewResolver(isUnique database.UniquenessChecker, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{isUnique: isUnique, log: log.Named("resolver")}
}

// Resolve returns the id for key, scoped to parentID for sensors. tx should be
// an open transaction; the insert runs under a savepoint so a lost race does not
// abort it. Sensor devices observed under a new transmitter are re-parented.
func (r *Resolver) Resolve(tx *gorm.DB, kind Kind, key string, parentID uint) (Resolution, error) {
	if key == "" {
		return Resolution{}, &ValidationError{Field: kind.keyField(), Reason: "is required"}
	}
	if kind != KindTransmitter && parentID == 0 {
		return Resolution{}, &ValidationError{Field: kind.String() + " parent", Reason: "is required"}
	}

	row, found, err := r.lookup(tx, kind, key, parentID, false)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup %s %q: %w", kind, key, err)
	}
	if found {
		return r.existing(tx, kind, key, row, parentID)
	}

	id, err := r.insert(tx, kind, key, parentID)
	if err == nil {
		metrics.EntitiesCreated.WithLabelValues(kind.String()).Inc()
		r.log.Debug("entity created", zap.Stringer("kind", kind), zap.String("key", key), zap.Uint("id", id))
		return Resolution{ID: id, Created: true}, nil
	}
	if !r.isUnique(err) {
		return Resolution{}, fmt.Errorf("insert %s %q: %w", kind, key, err)
	}

	// another writer created the row between our lookup and insert
	metrics.ResolverConflicts.WithLabelValues(kind.String()).Inc()
	r.log.Debug("insert lost uniqueness race, re-reading", zap.Stringer("kind", kind), zap.String("key", key))

	row, found, err = r.lookup(tx, kind, key, parentID, true)
	if err != nil {
		return Resolution{}, fmt.Errorf("re-read %s %q: %w", kind, key, err)
	}
	if !found {
		metrics.IntegrityErrors.WithLabelValues(kind.String()).Inc()
		r.log.Error("conflicting row missing after uniqueness violation",
			zap.Stringer("kind", kind), zap.String("key", key), zap.Uint("parent_id", parentID))
		return Resolution{}, &IntegrityError{Kind: kind, Key: key}
	}
	return r.existing(tx, kind, key, row, parentID)
}

// lookup reads by natural key. locking switches to a shared locking read so
// that rows committed after the transaction snapshot are visible.
func (r *Resolver) lookup(tx *gorm.DB, kind Kind, key string, parentID uint, locking bool) (entityRow, bool, error) {
	q := tx
	if locking {
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}

	switch kind {
	case KindTransmitter:
		var t models.Transmitter
		res := q.Where("mac_address = ?", key).Limit(1).Find(&t)
		return entityRow{id: t.ID}, res.RowsAffected > 0, res.Error
	case KindSensorDevice:
		var d models.SensorDevice
		res := q.Where("mac_address = ?", key).Limit(1).Find(&d)
		return entityRow{id: d.ID, parentID: d.TransmitterID}, res.RowsAffected > 0, res.Error
	case KindSensor:
		var s models.Sensor
		res := q.Where("sensor_device_id = ? AND address = ?", parentID, key).Limit(1).Find(&s)
		return entityRow{id: s.ID, parentID: s.SensorDeviceID}, res.RowsAffected > 0, res.Error
	default:
		return entityRow{}, false, fmt.Errorf("unknown entity kind %d", int(kind))
	}
}

func (r *Resolver) insert(tx *gorm.DB, kind Kind, key string, parentID uint) (uint, error) {
	var id uint
	err := tx.Transaction(func(sp *gorm.DB) error {
		name := kind.placeholderName(key)
		switch kind {
		case KindTransmitter:
			t := models.Transmitter{MACAddress: key, Name: name}
			if err := sp.Create(&t).Error; err != nil {
				return err
			}
			id = t.ID
		case KindSensorDevice:
			d := models.SensorDevice{MACAddress: key, Name: name, TransmitterID: parentID}
			if err := sp.Create(&d).Error; err != nil {
				return err
			}
			id = d.ID
		case KindSensor:
			s := models.Sensor{SensorDeviceID: parentID, Address: key, Name: name}
			if err := sp.Create(&s).Error; err != nil {
				return err
			}
			id = s.ID
		default:
			return fmt.Errorf("unknown entity kind %d", int(kind))
		}
		return nil
	})
	return id, err
}

func (r *Resolver) existing(tx *gorm.DB, kind Kind, key string, row entityRow, parentID uint) (Resolution, error) {
	if kind == KindSensorDevice && row.parentID != parentID {
		res := tx.Model(&models.SensorDevice{}).Where("id = ?", row.id).Update("transmitter_id", parentID)
		if res.Error != nil {
			return Resolution{}, fmt.Errorf("re-parent sensor device %q: %w", key, res.Error)
		}
		r.log.Info("sensor device moved to another transmitter", zap.String("mac", key),
			zap.Uint("from_transmitter_id", row.parentID), zap.Uint("to_transmitter_id", parentID))
	}
	return Resolution{ID: row.id}, nil
}
