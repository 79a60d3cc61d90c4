// Package events publishes device-lifecycle events on an optional
// side-channel. Publishing is fire-and-forget: failures are logged and never
// propagate into the operation that triggered the event.
package events

import "context"

// Actions published on the side-channel.
const (
	ActionDeviceAdded    = "device-added"
	ActionDeviceRemoved  = "device-removed"
	ActionDeviceUpdated  = "device-updated"
	ActionDeviceNotified = "device-notified"
)

// Event is the JSON payload published for a device-lifecycle change.
type Event struct {
	Action      string
	DeviceType  string
	DeviceToken string
	User        string
}

// Publisher delivers events to the side-channel.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop is the Publisher used when the side-channel is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
