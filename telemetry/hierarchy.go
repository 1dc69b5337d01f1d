package telemetry

import (
	"context"
	"errors"
	"fmt"

	"sensor_telemetry/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// SensorInfo is a sensor as listed under its device
type SensorInfo struct {
	SensorID uint     `json:"id"`
	Name     string   `json:"name"`
	Address  string   `json:"sensor_address"`
	Depth    *float64 `json:"depth_meters"`
}

// SensorDeviceInfo is a sensor device with its sensors ordered by id
type SensorDeviceInfo struct {
	ID      uint         `json:"id"`
	Name    string       `json:"name"`
	MAC     string       `json:"sensor_device_mac_address"`
	Sensors []SensorInfo `json:"sensors"`
}

// TransmitterInfo is a transmitter with the devices currently attached to it
type TransmitterInfo struct {
	ID            uint               `json:"id"`
	Name          string             `json:"name"`
	MAC           string             `json:"transmitter_mac_address"`
	SensorDevices []SensorDeviceInfo `json:"sensorDevices"`
}

type hierarchySensor struct {
	ID             uint
	Name           string
	Address        string
	SensorDeviceID uint
	DepthMeters    *float64
}

// Transmitters lists every transmitter, ordered by id, with its devices and
// their sensors. An empty store yields an empty slice.
func (r *Reader) Transmitters(ctx context.Context) ([]TransmitterInfo, error) {
	var transmitters []models.Transmitter
	if err := r.db.WithContext(ctx).Order("id").Find(&transmitters).Error; err != nil {
		return nil, fmt.Errorf("transmitters: %w", err)
	}
	return r.hierarchy(ctx, transmitters)
}

// Transmitter returns one transmitter with its devices and their sensors.
// An unknown id is ErrNotFound.
func (r *Reader) Transmitter(ctx context.Context, id uint) (TransmitterInfo, error) {
	var t models.Transmitter
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TransmitterInfo{}, fmt.Errorf("transmitter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return TransmitterInfo{}, fmt.Errorf("transmitter %d: %w", id, err)
	}

	out, err := r.hierarchy(ctx, []models.Transmitter{t})
	if err != nil {
		return TransmitterInfo{}, err
	}
	return out[0], nil
}

// hierarchy loads the devices and sensors below transmitters with one query
// each and nests them in memory
func (r *Reader) hierarchy(ctx context.Context, transmitters []models.Transmitter) ([]TransmitterInfo, error) {
	out := make([]TransmitterInfo, 0, len(transmitters))
	if len(transmitters) == 0 {
		return out, nil
	}

	ids := make([]uint, 0, len(transmitters))
	for _, t := range transmitters {
		ids = append(ids, t.ID)
	}

	var (
		devices []models.SensorDevice
		sensors []hierarchySensor
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.db.WithContext(gctx).Where("transmitter_id IN ?", ids).Order("id").Find(&devices).Error
		if err != nil {
			return fmt.Errorf("sensor devices: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		db := r.db.WithContext(gctx)
		deviceIDs := db.Model(&models.SensorDevice{}).Select("id").Where("transmitter_id IN ?", ids)
		err := db.Model(&models.Sensor{}).
			Select("sensors.id, sensors.name, sensors.address, sensors.sensor_device_id, sensor_settings.depth_meters").
			Joins("LEFT JOIN sensor_settings ON sensor_settings.sensor_id = sensors.id").
			Where("sensors.sensor_device_id IN (?)", deviceIDs).
			Order("sensors.id").
			Scan(&sensors).Error
		if err != nil {
			return fmt.Errorf("sensors: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDevice := make(map[uint][]SensorInfo)
	for _, s := range sensors {
		byDevice[s.SensorDeviceID] = append(byDevice[s.SensorDeviceID], SensorInfo{
			SensorID: s.ID,
			Name:     s.Name,
			Address:  s.Address,
			Depth:    s.DepthMeters,
		})
	}

	byTransmitter := make(map[uint][]SensorDeviceInfo)
	for _, d := range devices {
		list := byDevice[d.ID]
		if list == nil {
			list = []SensorInfo{}
		}
		byTransmitter[d.TransmitterID] = append(byTransmitter[d.TransmitterID], SensorDeviceInfo{
			ID:      d.ID,
			Name:    d.Name,
			MAC:     d.MACAddress,
			Sensors: list,
		})
	}

	for _, t := range transmitters {
		list := byTransmitter[t.ID]
		if list == nil {
			list = []SensorDeviceInfo{}
		}
		out = append(out, TransmitterInfo{ID: t.ID, Name: t.Name, MAC: t.MACAddress, SensorDevices: list})
	}

	r.log.Debug("transmitter hierarchy", zap.Int("transmitters", len(out)), zap.Int("sensor_devices", len(devices)))
	return out, nil
}
