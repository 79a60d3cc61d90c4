package aps

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrReservedKey is returned when an extra uses the "aps" key, which is
// reserved for the standard Apple payload.
var ErrReservedKey = errors.New("the key aps is reserved")

// Message builds the JSON payload delivered inside an APNs frame. It carries
// the standard alert/badge/sound fields, an optional expiry, and arbitrary
// extra values placed at the top level of the payload.
//
// The serialized form is cached; any mutation invalidates the cache.
type Message struct {
	alert     string
	badge     uint
	badgeSet  bool
	sound     string
	expiresAt *time.Time
	extras    map[string]any
	cached    []byte
}

// NewMessage returns an empty Message.
func NewMessage() *Message {
	return &Message{}
}

// MessageFromMap builds a Message from a notification's aps object: "alert"
// and "sound" must be strings and "badge" a number to be honored; every
// other member becomes an extra, except a member named "aps", which is
// dropped.
func MessageFromMap(obj map[string]any) *Message {
	m := NewMessage()
	for key, value := range obj {
		switch key {
		case "alert":
			if s, ok := value.(string); ok {
				m.SetAlert(s)
			}
		case "badge":
			switch n := value.(type) {
			case float64:
				m.SetBadge(uint(n))
			case int:
				m.SetBadge(uint(n))
			}
		case "sound":
			if s, ok := value.(string); ok {
				m.SetSound(s)
			}
		default:
			_ = m.AddExtra(key, value)
		}
	}
	return m
}

func (m *Message) Alert() string { return m.alert }

func (m *Message) SetAlert(alert string) {
	m.alert = alert
	m.cached = nil
}

// Badge returns the badge count and whether it was explicitly set.
func (m *Message) Badge() (uint, bool) { return m.badge, m.badgeSet }

func (m *Message) SetBadge(badge uint) {
	m.badge = badge
	m.badgeSet = true
	m.cached = nil
}

func (m *Message) Sound() string { return m.sound }

func (m *Message) SetSound(sound string) {
	m.sound = sound
	m.cached = nil
}

// ExpiresAt returns the expiry, or nil when the notification does not
// expire.
func (m *Message) ExpiresAt() *time.Time { return m.expiresAt }

func (m *Message) SetExpiresAt(t time.Time) {
	u := t.UTC()
	m.expiresAt = &u
	m.cached = nil
}

// AddExtra places value at the top level of the payload under key.
func (m *Message) AddExtra(key string, value any) error {
	if key == "aps" {
		return ErrReservedKey
	}
	if m.extras == nil {
		m.extras = make(map[string]any)
	}
	m.extras[key] = value
	m.cached = nil
	return nil
}

// JSON returns the serialized payload. The badge is emitted when explicitly
// set, or when neither alert nor sound is present.
func (m *Message) JSON() []byte {
	if m.cached != nil {
		return m.cached
	}

	obj := make(map[string]any, len(m.extras)+1)
	for k, v := range m.extras {
		obj[k] = v
	}

	aps := make(map[string]any, 3)
	if m.alert != "" {
		aps["alert"] = m.alert
	}
	if m.badgeSet || (m.alert == "" && m.sound == "") {
		aps["badge"] = m.badge
	}
	if m.sound != "" {
		aps["sound"] = m.sound
	}
	obj["aps"] = aps

	// Only the message fields above feed the payload, so this cannot fail.
	m.cached, _ = json.Marshal(obj)
	return m.cached
}
