package gcm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("key-123", zerolog.Nop(),
		WithURL(server.URL),
		WithHTTPClient(server.Client()))
}

func TestDeliverRequestShape(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"success": 2,
			"results": []map[string]any{
				{"message_id": "1"},
				{"message_id": "2"},
			},
		})
	})

	m := NewMessage()
	m.CollapseKey = "ck"
	m.Data = map[string]any{"k": "v"}
	m.DelayWhileIdle = true
	m.TimeToLive = 3600
	m.DryRun = true

	err := client.Deliver(context.Background(), []string{"r1", "r2"}, m)
	require.NoError(t, err)

	assert.Equal(t, "key=key-123", gotAuth)
	assert.Equal(t, []any{"r1", "r2"}, gotBody["registration_ids"])
	assert.Equal(t, "ck", gotBody["collapse_key"])
	assert.Equal(t, map[string]any{"k": "v"}, gotBody["data"])
	assert.Equal(t, true, gotBody["delay_while_idle"])
	assert.Equal(t, float64(3600), gotBody["time_to_live"])
	assert.Equal(t, true, gotBody["dry_run"])
}

func TestDeliverIdentityRemoved(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": 1,
			"failure": 2,
			"results": []map[string]any{
				{"error": "NotRegistered"},
				{"message_id": "ok"},
				{"error": "InvalidRegistration"},
			},
		})
	})

	var removed []string
	client.OnIdentityRemoved(func(id string) {
		removed = append(removed, id)
	})

	err := client.Deliver(context.Background(), []string{"dead", "live", "bad"}, NewMessage())
	require.NoError(t, err)
	assert.Equal(t, []string{"dead", "bad"}, removed)
}

func TestDeliverOtherErrorsAreNotRemovals(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"failure": 1,
			"results": []map[string]any{
				{"error": "Unavailable"},
			},
		})
	})

	var removed []string
	client.OnIdentityRemoved(func(id string) {
		removed = append(removed, id)
	})

	require.NoError(t, client.Deliver(context.Background(), []string{"r1"}, NewMessage()))
	assert.Empty(t, removed)
}

func TestDeliverCanonicalIDIsNotRemoval(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":       1,
			"canonical_ids": 1,
			"results": []map[string]any{
				{"message_id": "1", "registration_id": "canonical-1"},
			},
		})
	})

	var removed []string
	client.OnIdentityRemoved(func(id string) {
		removed = append(removed, id)
	})

	require.NoError(t, client.Deliver(context.Background(), []string{"r1"}, NewMessage()))
	assert.Empty(t, removed)
}

func TestDeliverRequestFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Deliver(context.Background(), []string{"r1"}, NewMessage())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestDeliverNoRecipients(t *testing.T) {
	client := NewClient("key", zerolog.Nop())
	assert.NoError(t, client.Deliver(context.Background(), nil, NewMessage()))
}

func TestMessageFromMap(t *testing.T) {
	m := MessageFromMap(map[string]any{
		"data":             map[string]any{"a": "b"},
		"delay_while_idle": true,
		"dry_run":          true,
		"time_to_live":     float64(60),
		"ignored":          "x",
	}, "ck")

	assert.Equal(t, "ck", m.CollapseKey)
	assert.Equal(t, map[string]any{"a": "b"}, m.Data)
	assert.True(t, m.DelayWhileIdle)
	assert.True(t, m.DryRun)
	assert.Equal(t, int64(60), m.TimeToLive)
}
