// Package notification carries a single dispatch request's payloads. A
// Notification is immutable once handed to the dispatch pipeline; the
// gateway message builders consume it to produce per-protocol messages.
package notification

// Notification holds the optional per-protocol sub-payloads and the
// collapse key applied uniformly across gateways.
type Notification struct {
	APS         map[string]any
	C2DM        map[string]any
	GCM         map[string]any
	CollapseKey string
}
