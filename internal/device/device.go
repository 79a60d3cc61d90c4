// Package device holds the registered-device value type and its JSON/BSON
// codecs. A device is created on first add, mutated by update and by
// soft-delete, and never hard-deleted: an unset RemovedAt means active.
package device

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Device types understood by the dispatch pipeline.
const (
	TypeAPS  = "aps"
	TypeC2DM = "c2dm"
	TypeGCM  = "gcm"
)

// Device is a single registered device belonging to a user. Two records with
// the same (DeviceType, DeviceToken) pair refer to the same physical device.
type Device struct {
	ID          primitive.ObjectID
	User        string
	DeviceToken string
	DeviceType  string
	CreatedAt   *time.Time
	RemovedAt   *time.Time
}

// ValidType reports whether t is one of the supported device types.
func ValidType(t string) bool {
	return t == TypeAPS || t == TypeC2DM || t == TypeGCM
}

// Active reports whether the device has not been soft-deleted.
func (d *Device) Active() bool {
	return d.RemovedAt == nil
}

// UserValue encodes a user identifier for storage queries: an ObjectID when
// the string parses as one, otherwise the raw string. Every query against the
// user field must go through this so that both encodings keep matching.
func UserValue(user string) any {
	if id, err := primitive.ObjectIDFromHex(user); err == nil {
		return id
	}
	return user
}

// SaveToBSON encodes the device as a storage document. The _id is omitted;
// the storage layer attaches one on first persist. A removed_at field is
// always present (explicit null while the device is active) so that queries
// for active devices can match on it.
func (d *Device) SaveToBSON() (bson.M, error) {
	if d.User == "" {
		return nil, ErrMissingUser
	}

	doc := bson.M{
		"device_token": d.DeviceToken,
		"device_type":  d.DeviceType,
		"user":         UserValue(d.User),
	}
	if d.RemovedAt != nil {
		doc["removed_at"] = primitive.NewDateTimeFromTime(d.RemovedAt.UTC())
	} else {
		doc["removed_at"] = nil
	}
	if d.CreatedAt != nil {
		doc["created_at"] = primitive.NewDateTimeFromTime(d.CreatedAt.UTC())
	}
	return doc, nil
}

// LoadFromBSON populates the device from a storage document.
func (d *Device) LoadFromBSON(doc bson.M) error {
	if doc == nil {
		return ErrInvalidJSON
	}

	if id, ok := doc["_id"].(primitive.ObjectID); ok {
		d.ID = id
	}
	if s, ok := doc["device_token"].(string); ok {
		d.DeviceToken = s
	}
	if s, ok := doc["device_type"].(string); ok {
		d.DeviceType = s
	}
	switch u := doc["user"].(type) {
	case primitive.ObjectID:
		d.User = u.Hex()
	case string:
		d.User = u
	}
	d.CreatedAt = bsonTime(doc["created_at"])
	d.RemovedAt = bsonTime(doc["removed_at"])
	return nil
}

func bsonTime(v any) *time.Time {
	switch t := v.(type) {
	case primitive.DateTime:
		tm := t.Time().UTC()
		return &tm
	case time.Time:
		tm := t.UTC()
		return &tm
	}
	return nil
}

// deviceJSON is the externally visible wire form.
type deviceJSON struct {
	DeviceToken *string    `json:"device_token"`
	DeviceType  *string    `json:"device_type"`
	User        *string    `json:"user"`
	CreatedAt   *time.Time `json:"created_at"`
	RemovedAt   *time.Time `json:"removed_at"`
}

// SaveToJSON encodes the device for the HTTP surface. Unset optional fields
// are emitted as JSON null.
func (d *Device) SaveToJSON() ([]byte, error) {
	out := deviceJSON{
		CreatedAt: d.CreatedAt,
		RemovedAt: d.RemovedAt,
	}
	if d.DeviceToken != "" {
		out.DeviceToken = &d.DeviceToken
	}
	if d.DeviceType != "" {
		out.DeviceType = &d.DeviceType
	}
	if d.User != "" {
		out.User = &d.User
	}
	return json.Marshal(out)
}

// LoadFromJSON populates the device from a request body. The body must be a
// JSON object with a string device_type naming one of the supported types.
// device_token may be omitted (the HTTP surface fills it from the URL), but
// when present it must be a string.
func (d *Device) LoadFromJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return ErrInvalidJSON
	}

	typeRaw, ok := raw["device_type"]
	if !ok {
		return ErrInvalidJSON
	}
	var deviceType string
	if err := json.Unmarshal(typeRaw, &deviceType); err != nil {
		return ErrInvalidJSON
	}
	if !ValidType(deviceType) {
		return ErrUnsupportedType
	}

	if tokenRaw, ok := raw["device_token"]; ok {
		var token string
		if err := json.Unmarshal(tokenRaw, &token); err != nil {
			return ErrInvalidJSON
		}
		d.DeviceToken = token
	}

	d.DeviceType = deviceType
	return nil
}
