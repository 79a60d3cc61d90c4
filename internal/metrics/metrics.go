// Package metrics tracks the monotonic per-event counters reported by the
// status endpoint. Counters are atomic; any goroutine may increment.
package metrics

import (
	"sync/atomic"

	"github.com/catch/postal/internal/device"
)

// Metrics holds the counters since process start.
type Metrics struct {
	devicesAdded   atomic.Uint64
	devicesRemoved atomic.Uint64
	devicesUpdated atomic.Uint64
	apsNotified    atomic.Uint64
	c2dmNotified   atomic.Uint64
	gcmNotified    atomic.Uint64
}

// New returns zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) DeviceAdded()   { m.devicesAdded.Add(1) }
func (m *Metrics) DeviceRemoved() { m.devicesRemoved.Add(1) }
func (m *Metrics) DeviceUpdated() { m.devicesUpdated.Add(1) }

// DeviceNotified counts a successful enqueue at the gateway for the given
// device type. Unknown types are ignored.
func (m *Metrics) DeviceNotified(deviceType string) {
	switch deviceType {
	case device.TypeAPS:
		m.apsNotified.Add(1)
	case device.TypeC2DM:
		m.c2dmNotified.Add(1)
	case device.TypeGCM:
		m.gcmNotified.Add(1)
	}
}

// NotifiedSnapshot is the per-gateway slice of a Snapshot.
type NotifiedSnapshot struct {
	APS  uint64 `json:"aps"`
	C2DM uint64 `json:"c2dm"`
	GCM  uint64 `json:"gcm"`
}

// Snapshot is a point-in-time copy of all counters in the wire form served
// by GET /status.
type Snapshot struct {
	DevicesAdded    uint64           `json:"devices_added"`
	DevicesRemoved  uint64           `json:"devices_removed"`
	DevicesUpdated  uint64           `json:"devices_updated"`
	DevicesNotified NotifiedSnapshot `json:"devices_notified"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		DevicesAdded:   m.devicesAdded.Load(),
		DevicesRemoved: m.devicesRemoved.Load(),
		DevicesUpdated: m.devicesUpdated.Load(),
		DevicesNotified: NotifiedSnapshot{
			APS:  m.apsNotified.Load(),
			C2DM: m.c2dmNotified.Load(),
			GCM:  m.gcmNotified.Load(),
		},
	}
}
