// Package c2dm implements a sender for Google's legacy Cloud-to-Device
// Messaging service: form-encoded HTTPS posts authenticated with a
// ClientLogin token.
package c2dm

import (
	"fmt"
	"net/url"
	"strconv"
)

// Message carries the parameters of a single C2DM send. Data parameters are
// delivered to the device prefixed with "data.".
type Message struct {
	CollapseKey    string
	DelayWhileIdle bool

	keys   []string
	values map[string]string
}

// NewMessage returns an empty Message.
func NewMessage() *Message {
	return &Message{values: make(map[string]string)}
}

// MessageFromMap builds a Message from a notification's c2dm object.
// Booleans become "1"/"0", numbers their decimal form, strings pass
// through; a boolean delay_while_idle member also sets the flag.
func MessageFromMap(obj map[string]any, collapseKey string) *Message {
	m := NewMessage()
	m.CollapseKey = collapseKey
	for key, value := range obj {
		switch v := value.(type) {
		case bool:
			if v {
				m.AddParam(key, "1")
			} else {
				m.AddParam(key, "0")
			}
			if key == "delay_while_idle" {
				m.DelayWhileIdle = v
			}
		case string:
			m.AddParam(key, v)
		case float64:
			if v == float64(int64(v)) {
				m.AddParam(key, strconv.FormatInt(int64(v), 10))
			} else {
				m.AddParam(key, strconv.FormatFloat(v, 'f', -1, 64))
			}
		case int:
			m.AddParam(key, strconv.Itoa(v))
		case nil:
			m.AddParam(key, "")
		default:
			m.AddParam(key, fmt.Sprint(v))
		}
	}
	return m
}

// AddParam records a data parameter, preserving insertion order.
func (m *Message) AddParam(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Params builds the form parameters for the send endpoint: the collapse key
// when set, delay_while_idle as "1" or empty, and each data parameter under
// a "data." prefix.
func (m *Message) Params() url.Values {
	params := url.Values{}
	if m.CollapseKey != "" {
		params.Set("collapse_key", m.CollapseKey)
	}
	if m.DelayWhileIdle {
		params.Set("delay_while_idle", "1")
	} else {
		params.Set("delay_while_idle", "")
	}
	for _, key := range m.keys {
		params.Set("data."+key, m.values[key])
	}
	return params
}
