// Package config loads the ini-style configuration file.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/catch/postal/pkg/push/aps"
)

// Mongo configures the document store.
type Mongo struct {
	URI        string `ini:"uri"`
	DB         string `ini:"db"`
	Collection string `ini:"collection"`
}

// APS configures the Apple gateway client.
type APS struct {
	Sandbox     bool   `ini:"sandbox"`
	SSLCertFile string `ini:"ssl-cert-file"`
	SSLKeyFile  string `ini:"ssl-key-file"`
	// FeedbackInterval is the feedback poll interval in minutes.
	FeedbackInterval int `ini:"feedback-interval"`
}

// C2DM configures the legacy Google sender.
type C2DM struct {
	AuthToken string `ini:"auth-token"`
}

// GCM configures the GCM sender.
type GCM struct {
	AuthToken string `ini:"auth-token"`
}

// HTTP configures the HTTP surface.
type HTTP struct {
	Port      int    `ini:"port"`
	LogFile   string `ini:"logfile"`
	NoLogging bool   `ini:"nologging"`
}

// Redis configures the optional event side-channel.
type Redis struct {
	Enabled bool   `ini:"enabled"`
	Host    string `ini:"host"`
	Port    int    `ini:"port"`
	Channel string `ini:"channel"`
}

// Service configures dispatch behavior.
type Service struct {
	// NotifyCollapseWindow suppresses duplicate sends for the same
	// (device, collapse_key) within the window, in seconds. Zero disables.
	NotifyCollapseWindow int `ini:"notify-collapse-window"`
}

// Config is the full process configuration.
type Config struct {
	Mongo   Mongo   `ini:"mongo"`
	APS     APS     `ini:"aps"`
	C2DM    C2DM    `ini:"c2dm"`
	GCM     GCM     `ini:"gcm"`
	HTTP    HTTP    `ini:"http"`
	Redis   Redis   `ini:"redis"`
	Service Service `ini:"service"`
}

// Default returns the configuration used when keys are absent.
func Default() *Config {
	return &Config{
		Mongo: Mongo{
			URI:        "mongodb://localhost:27017",
			DB:         "test",
			Collection: "devices",
		},
		APS: APS{
			FeedbackInterval: 10,
		},
		HTTP: HTTP{
			Port: 5300,
		},
		Redis: Redis{
			Host:    "localhost",
			Port:    6379,
			Channel: "events",
		},
	}
}

// Load reads path into a Config on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := file.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 5300
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "events"
	}
	if cfg.APS.FeedbackInterval <= 0 {
		cfg.APS.FeedbackInterval = 10
	}
	return cfg, nil
}

// APSGatewayAddr selects the gateway endpoint for the configured mode.
func (c *Config) APSGatewayAddr() string {
	if c.APS.Sandbox {
		return aps.SandboxGatewayHost
	}
	return aps.GatewayHost
}

// APSFeedbackAddr selects the feedback endpoint for the configured mode.
func (c *Config) APSFeedbackAddr() string {
	if c.APS.Sandbox {
		return aps.SandboxFeedbackHost
	}
	return aps.FeedbackHost
}

// FeedbackInterval returns the feedback poll interval as a duration.
func (c *Config) FeedbackInterval() time.Duration {
	return time.Duration(c.APS.FeedbackInterval) * time.Minute
}

// CollapseWindow returns the duplicate-suppression window as a duration.
func (c *Config) CollapseWindow() time.Duration {
	return time.Duration(c.Service.NotifyCollapseWindow) * time.Second
}
