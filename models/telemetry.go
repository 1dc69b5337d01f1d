package models

import (
	"time"
)

// Transmitter is the top-level field device, identified by its MAC address
type Transmitter struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MACAddress string    `gorm:"uniqueIndex;not null;size:64" json:"transmitter_mac_address"`
	Name       string    `gorm:"not null;size:255" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName customizes the table name
func (Transmitter) TableName() string {
	return "transmitters"
}

// SensorDevice is a module attached to a transmitter. Its MAC address is unique
// across all transmitters; TransmitterID follows the device when it moves.
type SensorDevice struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MACAddress    string    `gorm:"uniqueIndex;not null;size:64" json:"sensor_device_mac_address"`
	Name          string    `gorm:"not null;size:255" json:"name"`
	TransmitterID uint      `gorm:"index;not null" json:"transmitter_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName customizes the table name
func (SensorDevice) TableName() string {
	return "sensor_devices"
}

// Sensor is a single measurement point, unique by address within its device
type Sensor struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SensorDeviceID uint      `gorm:"uniqueIndex:idx_sensor_device_address;not null" json:"sensor_device_id"`
	Address        string    `gorm:"uniqueIndex:idx_sensor_device_address;not null;size:64" json:"sensor_address"`
	Name           string    `gorm:"not null;size:255" json:"name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName customizes the table name
func (Sensor) TableName() string {
	return "sensors"
}

// SensorSetting holds optional per-sensor configuration. A missing row means
// no depth is configured.
type SensorSetting struct {
	SensorID    uint      `gorm:"primaryKey;autoIncrement:false" json:"sensor_id"`
	DepthMeters float64   `gorm:"not null" json:"depth_meters"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName customizes the table name
func (SensorSetting) TableName() string {
	return "sensor_settings"
}

// Reading is one immutable temperature sample
type Reading struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SensorID    uint      `gorm:"index:idx_reading_sensor_time,priority:1;not null" json:"sensor_id"`
	RecordedAt  time.Time `gorm:"index:idx_reading_sensor_time,priority:2;not null" json:"recorded_at"`
	Temperature float64   `gorm:"not null" json:"temperature"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName customizes the table name
func (Reading) TableName() string {
	return "readings"
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Transmitter{},
		&SensorDevice{},
		&Sensor{},
		&SensorSetting{},
		&Reading{},
	}
}
