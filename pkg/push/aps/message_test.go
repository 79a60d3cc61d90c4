package aps

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, m *Message) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(m.JSON(), &obj))
	return obj
}

func apsDict(t *testing.T, m *Message) map[string]any {
	t.Helper()
	aps, ok := payload(t, m)["aps"].(map[string]any)
	require.True(t, ok)
	return aps
}

func TestMessageJSON(t *testing.T) {
	t.Run("alert and sound suppress implicit badge", func(t *testing.T) {
		m := NewMessage()
		m.SetAlert("hi")
		m.SetSound("chime")

		aps := apsDict(t, m)
		assert.Equal(t, "hi", aps["alert"])
		assert.Equal(t, "chime", aps["sound"])
		_, hasBadge := aps["badge"]
		assert.False(t, hasBadge)
	})

	t.Run("explicit badge is always emitted", func(t *testing.T) {
		m := NewMessage()
		m.SetAlert("hi")
		m.SetBadge(3)

		aps := apsDict(t, m)
		assert.Equal(t, float64(3), aps["badge"])
	})

	t.Run("empty message emits zero badge", func(t *testing.T) {
		// Without alert or sound the badge is emitted even when unset.
		m := NewMessage()

		aps := apsDict(t, m)
		assert.Equal(t, float64(0), aps["badge"])
	})

	t.Run("extras are top level", func(t *testing.T) {
		m := NewMessage()
		m.SetAlert("hi")
		require.NoError(t, m.AddExtra("thread", "t-9"))

		obj := payload(t, m)
		assert.Equal(t, "t-9", obj["thread"])
	})
}

func TestMessageReservedKey(t *testing.T) {
	m := NewMessage()
	assert.ErrorIs(t, m.AddExtra("aps", "nope"), ErrReservedKey)
}

func TestMessageCaching(t *testing.T) {
	m := NewMessage()
	m.SetAlert("one")

	first := m.JSON()
	second := m.JSON()
	assert.Same(t, &first[0], &second[0], "second call returns the cached buffer")

	m.SetAlert("two")
	aps := apsDict(t, m)
	assert.Equal(t, "two", aps["alert"], "mutation invalidates the cache")
}

func TestMessageFromMap(t *testing.T) {
	m := MessageFromMap(map[string]any{
		"alert": "hello",
		"badge": float64(2),
		"sound": "ding",
		"extra": "value",
	})

	aps := apsDict(t, m)
	assert.Equal(t, "hello", aps["alert"])
	assert.Equal(t, float64(2), aps["badge"])
	assert.Equal(t, "ding", aps["sound"])
	assert.Equal(t, "value", payload(t, m)["extra"])
}

func TestMessageFromMapIgnoresWrongTypes(t *testing.T) {
	m := MessageFromMap(map[string]any{
		"alert": 42,
		"badge": "three",
	})

	assert.Empty(t, m.Alert())
	_, set := m.Badge()
	assert.False(t, set)
}
