// Command postald runs the push-notification dispatch service: it persists
// device registrations in MongoDB, fans notifications out to the APNs, C2DM
// and GCM gateways, and soft-deletes devices the gateways report as dead.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/catch/postal/internal/config"
	"github.com/catch/postal/internal/device"
	"github.com/catch/postal/internal/events"
	"github.com/catch/postal/internal/httpapi"
	"github.com/catch/postal/internal/metrics"
	"github.com/catch/postal/internal/service"
	"github.com/catch/postal/internal/storage/mongostore"
	"github.com/catch/postal/pkg/push/aps"
	"github.com/catch/postal/pkg/push/c2dm"
	"github.com/catch/postal/pkg/push/gcm"
)

func main() {
	configPath := flag.String("config", "postald.conf", "path to the configuration file")
	flag.Parse()

	logger := newLogger(os.Stdout)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}

	if cfg.HTTP.LogFile != "" {
		f, err := os.OpenFile(cfg.HTTP.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.HTTP.LogFile).Msg("failed to open logfile")
		}
		defer f.Close()
		logger = newLogger(f)
	}

	ctx := context.Background()

	// Storage.
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongo")
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	store := mongostore.New(mongoClient.Database(cfg.Mongo.DB).Collection(cfg.Mongo.Collection))

	// Event side-channel.
	var publisher events.Publisher = events.Nop{}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr: net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
		})
		defer redisClient.Close()
		publisher = events.NewRedisPublisher(redisClient, cfg.Redis.Channel, logger)
		logger.Info().Str("channel", cfg.Redis.Channel).Msg("redis event publisher enabled")
	}

	// Gateway clients.
	apsClient := aps.NewClient(aps.Config{
		GatewayAddr:      cfg.APSGatewayAddr(),
		FeedbackAddr:     cfg.APSFeedbackAddr(),
		CertFile:         cfg.APS.SSLCertFile,
		KeyFile:          cfg.APS.SSLKeyFile,
		FeedbackInterval: cfg.FeedbackInterval(),
	}, logger)
	defer apsClient.Dispose()

	c2dmClient := c2dm.NewClient(cfg.C2DM.AuthToken, logger)
	gcmClient := gcm.NewClient(cfg.GCM.AuthToken, logger)

	// Service.
	m := metrics.New()
	svc := service.New(
		service.Config{NotifyCollapseWindow: cfg.CollapseWindow()},
		store,
		apsClient,
		c2dmClient,
		gcmClient,
		m,
		publisher,
		logger,
	)
	apsClient.OnIdentityRemoved(svc.IdentityRemovedHandler(device.TypeAPS))
	c2dmClient.OnIdentityRemoved(svc.IdentityRemovedHandler(device.TypeC2DM))
	gcmClient.OnIdentityRemoved(svc.IdentityRemovedHandler(device.TypeGCM))

	// HTTP surface.
	var handler http.Handler = httpapi.New(svc, m, logger)
	if !cfg.HTTP.NoLogging {
		handler = httpapi.AccessLog(handler, logger)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server failed")
		}
	}
}

func newLogger(w *os.File) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && l != zerolog.NoLevel {
		level = l
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "postald").Logger()
}
