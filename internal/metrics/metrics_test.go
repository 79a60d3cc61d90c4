package metrics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catch/postal/internal/device"
)

func TestSnapshot(t *testing.T) {
	m := New()
	m.DeviceAdded()
	m.DeviceAdded()
	m.DeviceUpdated()
	m.DeviceRemoved()
	m.DeviceNotified(device.TypeAPS)
	m.DeviceNotified(device.TypeC2DM)
	m.DeviceNotified(device.TypeGCM)
	m.DeviceNotified(device.TypeGCM)
	m.DeviceNotified("bogus")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.DevicesAdded)
	assert.Equal(t, uint64(1), snap.DevicesUpdated)
	assert.Equal(t, uint64(1), snap.DevicesRemoved)
	assert.Equal(t, uint64(1), snap.DevicesNotified.APS)
	assert.Equal(t, uint64(1), snap.DevicesNotified.C2DM)
	assert.Equal(t, uint64(2), snap.DevicesNotified.GCM)
}

func TestSnapshotWireForm(t *testing.T) {
	m := New()
	m.DeviceAdded()

	raw, err := json.Marshal(m.Snapshot())
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, float64(1), obj["devices_added"])
	assert.Contains(t, obj, "devices_removed")
	assert.Contains(t, obj, "devices_updated")

	notified, ok := obj["devices_notified"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, notified, "aps")
	assert.Contains(t, notified, "c2dm")
	assert.Contains(t, notified, "gcm")
}
