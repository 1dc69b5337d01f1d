package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"sensor_telemetry/database/dbtest"
	"sensor_telemetry/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransmitters_NestsDevicesAndSensors(t *testing.T) {
	db := dbtest.New(t)
	p := telemetry.NewPipeline(db, zap.NewNop())
	r := telemetry.NewReader(db, zap.NewNop())
	ctx := context.Background()

	a, err := p.Ingest(ctx, sample("T1", "SD1", "1", 10, day1))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, sample("T1", "SD1", "2", 11, day1))
	require.NoError(t, err)
	b, err := p.Ingest(ctx, sample("T1", "SD2", "1", 12, day1))
	require.NoError(t, err)
	idle, _, err := p.RegisterTransmitter(ctx, "T2")
	require.NoError(t, err)

	depth := 0.5
	require.NoError(t, p.ConfigureSensorDepth(ctx, a.SensorID, &depth))

	list, err := r.Transmitters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	t1 := list[0]
	assert.Equal(t, a.TransmitterID, t1.ID)
	assert.Equal(t, "T1", t1.MAC)
	assert.Equal(t, "Transmitter T1", t1.Name)
	require.Len(t, t1.SensorDevices, 2)

	sd1 := t1.SensorDevices[0]
	assert.Equal(t, a.SensorDeviceID, sd1.ID)
	assert.Equal(t, "SD1", sd1.MAC)
	require.Len(t, sd1.Sensors, 2)
	assert.Equal(t, a.SensorID, sd1.Sensors[0].SensorID)
	require.NotNil(t, sd1.Sensors[0].Depth)
	assert.Equal(t, 0.5, *sd1.Sensors[0].Depth)
	assert.Nil(t, sd1.Sensors[1].Depth)

	assert.Equal(t, b.SensorDeviceID, t1.SensorDevices[1].ID)
	assert.Len(t, t1.SensorDevices[1].Sensors, 1)

	assert.Equal(t, idle, list[1].ID)
	assert.NotNil(t, list[1].SensorDevices)
	assert.Empty(t, list[1].SensorDevices)
}

func TestTransmitters_EmptyStore(t *testing.T) {
	r := telemetry.NewReader(dbtest.New(t), zap.NewNop())

	list, err := r.Transmitters(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestTransmitter_FollowsMovedDevice(t *testing.T) {
	db := dbtest.New(t)
	p := telemetry.NewPipeline(db, zap.NewNop())
	r := telemetry.NewReader(db, zap.NewNop())
	ctx := context.Background()

	first, err := p.Ingest(ctx, sample("T1", "SD1", "1", 10, day1))
	require.NoError(t, err)
	moved, err := p.Ingest(ctx, sample("T2", "SD1", "1", 10, day2))
	require.NoError(t, err)

	old, err := r.Transmitter(ctx, first.TransmitterID)
	require.NoError(t, err)
	assert.Empty(t, old.SensorDevices)

	current, err := r.Transmitter(ctx, moved.TransmitterID)
	require.NoError(t, err)
	require.Len(t, current.SensorDevices, 1)
	assert.Equal(t, "SD1", current.SensorDevices[0].MAC)
	assert.Len(t, current.SensorDevices[0].Sensors, 1)
}

func TestTransmitter_UnknownIDIsNotFound(t *testing.T) {
	r := telemetry.NewReader(dbtest.New(t), zap.NewNop())

	_, err := r.Transmitter(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, telemetry.ErrNotFound))
}
