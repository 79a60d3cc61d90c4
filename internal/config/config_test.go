package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catch/postal/pkg/push/aps"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postald.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[mongo]
uri = mongodb://db.internal:27017
db = postal
collection = devices

[aps]
sandbox = true
ssl-cert-file = /etc/postal/aps.crt
ssl-key-file = /etc/postal/aps.key
feedback-interval = 5

[c2dm]
auth-token = c2dm-token

[gcm]
auth-token = gcm-token

[http]
port = 8080
logfile = /var/log/postald.log
nologging = false

[redis]
enabled = true
host = redis.internal
port = 6380
channel = device-events

[service]
notify-collapse-window = 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.internal:27017", cfg.Mongo.URI)
	assert.Equal(t, "postal", cfg.Mongo.DB)
	assert.Equal(t, "devices", cfg.Mongo.Collection)

	assert.True(t, cfg.APS.Sandbox)
	assert.Equal(t, "/etc/postal/aps.crt", cfg.APS.SSLCertFile)
	assert.Equal(t, "/etc/postal/aps.key", cfg.APS.SSLKeyFile)
	assert.Equal(t, 5*time.Minute, cfg.FeedbackInterval())

	assert.Equal(t, "c2dm-token", cfg.C2DM.AuthToken)
	assert.Equal(t, "gcm-token", cfg.GCM.AuthToken)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "/var/log/postald.log", cfg.HTTP.LogFile)
	assert.False(t, cfg.HTTP.NoLogging)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "device-events", cfg.Redis.Channel)

	assert.Equal(t, 10*time.Second, cfg.CollapseWindow())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 5300, cfg.HTTP.Port)
	assert.Equal(t, "events", cfg.Redis.Channel)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.FeedbackInterval())
	assert.Equal(t, time.Duration(0), cfg.CollapseWindow())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	assert.Error(t, err)
}

func TestAPSHostSelection(t *testing.T) {
	t.Run("production", func(t *testing.T) {
		cfg := Default()
		assert.Equal(t, aps.GatewayHost, cfg.APSGatewayAddr())
		assert.Equal(t, aps.FeedbackHost, cfg.APSFeedbackAddr())
	})

	t.Run("sandbox", func(t *testing.T) {
		cfg := Default()
		cfg.APS.Sandbox = true
		assert.Equal(t, aps.SandboxGatewayHost, cfg.APSGatewayAddr())
		assert.Equal(t, aps.SandboxFeedbackHost, cfg.APSFeedbackAddr())
	})
}
