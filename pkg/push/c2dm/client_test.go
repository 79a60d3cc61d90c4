package c2dm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("auth-123", zerolog.Nop(),
		WithURL(server.URL),
		WithHTTPClient(server.Client()))
	return client, server
}

func TestDeliverSuccess(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, "id=12345")
	})

	m := NewMessage()
	m.CollapseKey = "ck"
	m.DelayWhileIdle = true
	m.AddParam("title", "hello")

	err := client.Deliver(context.Background(), "reg-1", m)
	require.NoError(t, err)

	assert.Equal(t, "GoogleLogin auth=auth-123", gotAuth)
	assert.Equal(t, "reg-1", gotForm.Get("registration_id"))
	assert.Equal(t, "ck", gotForm.Get("collapse_key"))
	assert.Equal(t, "1", gotForm.Get("delay_while_idle"))
	assert.Equal(t, "hello", gotForm.Get("data.title"))
}

func TestDeliverErrorMapping(t *testing.T) {
	cases := []struct {
		body    string
		want    error
		removed bool
	}{
		{"Error=QuotaExceeded", ErrQuotaExceeded, false},
		{"Error=DeviceQuotaExceeded", ErrDeviceQuotaExceeded, false},
		{"Error=MissingRegistration", ErrMissingRegistration, true},
		{"Error=InvalidRegistration", ErrInvalidRegistration, true},
		{"Error=MismatchSenderId", ErrMismatchSenderID, false},
		{"Error=NotRegistered", ErrNotRegistered, true},
		{"Error=MessageTooBig", ErrMessageTooBig, false},
		{"Error=MissingCollapseKey", ErrMissingCollapseKey, false},
		{"Error=SomethingNew", ErrUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.body)
			})

			var removed []string
			client.OnIdentityRemoved(func(id string) {
				removed = append(removed, id)
			})

			err := client.Deliver(context.Background(), "reg-1", NewMessage())
			assert.ErrorIs(t, err, tc.want)

			if tc.removed {
				assert.Equal(t, []string{"reg-1"}, removed)
			} else {
				assert.Empty(t, removed)
			}
		})
	}
}

func TestDeliverNonUTF8Body(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xff, 0xfe, 0xfd})
	})

	err := client.Deliver(context.Background(), "reg-1", NewMessage())
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestMessageParams(t *testing.T) {
	t.Run("delay_while_idle literal", func(t *testing.T) {
		m := NewMessage()
		params := m.Params()
		v, ok := params["delay_while_idle"]
		require.True(t, ok)
		assert.Equal(t, []string{""}, v)

		m.DelayWhileIdle = true
		assert.Equal(t, "1", m.Params().Get("delay_while_idle"))
	})

	t.Run("collapse_key omitted when empty", func(t *testing.T) {
		m := NewMessage()
		_, ok := m.Params()["collapse_key"]
		assert.False(t, ok)
	})

	t.Run("data params prefixed", func(t *testing.T) {
		m := NewMessage()
		m.AddParam("a", "1")
		m.AddParam("b", "2")
		params := m.Params()
		assert.Equal(t, "1", params.Get("data.a"))
		assert.Equal(t, "2", params.Get("data.b"))
	})
}

func TestMessageFromMap(t *testing.T) {
	m := MessageFromMap(map[string]any{
		"title":            "hi",
		"count":            float64(3),
		"flag":             true,
		"off":              false,
		"delay_while_idle": true,
	}, "ck")

	assert.Equal(t, "ck", m.CollapseKey)
	assert.True(t, m.DelayWhileIdle)

	params := m.Params()
	assert.Equal(t, "hi", params.Get("data.title"))
	assert.Equal(t, "3", params.Get("data.count"))
	assert.Equal(t, "1", params.Get("data.flag"))
	assert.Equal(t, "0", params.Get("data.off"))
	assert.Equal(t, "1", params.Get("data.delay_while_idle"))
}
