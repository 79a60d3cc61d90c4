// Package service implements the device CRUD contract and the notification
// dispatch pipeline, and wires gateway feedback back into storage.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/catch/postal/internal/device"
	"github.com/catch/postal/internal/dmcache"
	"github.com/catch/postal/internal/events"
	"github.com/catch/postal/internal/metrics"
	"github.com/catch/postal/internal/storage"
	"github.com/catch/postal/pkg/push/aps"
	"github.com/catch/postal/pkg/push/c2dm"
	"github.com/catch/postal/pkg/push/gcm"
)

// notifyBatchLimit caps the number of devices a single Notify resolves.
// Callers with larger target sets paginate.
const notifyBatchLimit = 100

// dmCacheSize is the slot count of the duplicate-suppression cache.
const dmCacheSize = 4096

// Gateway client contracts, narrowed to what the dispatch pipeline uses so
// tests can substitute fakes.
type APSClient interface {
	Deliver(ctx context.Context, deviceToken string, message *aps.Message) error
}

type C2DMClient interface {
	Deliver(ctx context.Context, registrationID string, message *c2dm.Message) error
}

type GCMClient interface {
	Deliver(ctx context.Context, registrationIDs []string, message *gcm.Message) error
}

// Config carries the service settings.
type Config struct {
	// NotifyCollapseWindow suppresses a second send to the same
	// (device_token, collapse_key) within the window. Zero disables
	// suppression: every notification is sent.
	NotifyCollapseWindow time.Duration
}

// Service is the device registry and dispatch pipeline.
type Service struct {
	store    storage.Store
	aps      APSClient
	c2dm     C2DMClient
	gcm      GCMClient
	metrics  *metrics.Metrics
	events   events.Publisher
	logger   zerolog.Logger
	cfg      Config
	recently *dmcache.Cache

	removedMu chan struct{} // serializes identity-removed handling
	now       func() time.Time
}

// New assembles the service.
func New(
	cfg Config,
	store storage.Store,
	apsClient APSClient,
	c2dmClient C2DMClient,
	gcmClient GCMClient,
	m *metrics.Metrics,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &Service{
		store:     store,
		aps:       apsClient,
		c2dm:      c2dmClient,
		gcm:       gcmClient,
		metrics:   m,
		events:    publisher,
		logger:    logger.With().Str("component", "service").Logger(),
		cfg:       cfg,
		removedMu: make(chan struct{}, 1),
		now:       time.Now,
	}
	if cfg.NotifyCollapseWindow > 0 {
		s.recently = dmcache.New(dmCacheSize)
	}
	return s
}

// AddDevice upserts d by its (device_type, device_token) pair. It reports
// whether an existing record was updated rather than created. The device is
// reactivated if it had been soft-deleted.
func (s *Service) AddDevice(ctx context.Context, d *device.Device) (updatedExisting bool, err error) {
	if d.DeviceToken == "" || !device.ValidType(d.DeviceType) {
		return false, device.ErrInvalidJSON
	}

	doc, err := d.SaveToBSON()
	if err != nil {
		return false, err
	}

	query := bson.M{
		"device_type":  d.DeviceType,
		"device_token": d.DeviceToken,
	}
	now := s.now().UTC()
	update := bson.M{
		"$set":         doc,
		"$setOnInsert": bson.M{"created_at": primitive.NewDateTimeFromTime(now)},
	}

	res, err := s.store.Update(ctx, query, update, storage.UpdateUpsert)
	if err != nil {
		return false, err
	}

	if res.UpdatedExisting {
		s.metrics.DeviceUpdated()
		s.publish(ctx, events.ActionDeviceUpdated, d)
	} else {
		s.metrics.DeviceAdded()
		s.publish(ctx, events.ActionDeviceAdded, d)
	}
	return res.UpdatedExisting, nil
}

// UpdateDevice replaces the stored document for d. The query matches by id
// and user, and only active devices: a soft-deleted record cannot be
// resurrected through update, and one user cannot touch another's device.
func (s *Service) UpdateDevice(ctx context.Context, d *device.Device) error {
	if d.ID.IsZero() {
		return device.ErrMissingID
	}
	if d.User == "" {
		return device.ErrMissingUser
	}

	doc, err := d.SaveToBSON()
	if err != nil {
		return err
	}

	query := bson.M{
		"_id":        d.ID,
		"user":       device.UserValue(d.User),
		"removed_at": nil,
	}
	res, err := s.store.Update(ctx, query, doc, 0)
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return device.ErrNotFound
	}

	s.metrics.DeviceUpdated()
	s.publish(ctx, events.ActionDeviceUpdated, d)
	return nil
}

// RemoveDevice soft-deletes d by setting removed_at. The query matches by
// id and user so a caller cannot delete another user's device.
func (s *Service) RemoveDevice(ctx context.Context, d *device.Device) error {
	if d.ID.IsZero() {
		return device.ErrMissingID
	}
	if d.User == "" {
		return device.ErrMissingUser
	}

	query := bson.M{
		"_id":  d.ID,
		"user": device.UserValue(d.User),
	}
	update := bson.M{
		"$set": bson.M{"removed_at": primitive.NewDateTimeFromTime(s.now().UTC())},
	}
	res, err := s.store.Update(ctx, query, update, 0)
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return device.ErrNotFound
	}

	s.metrics.DeviceRemoved()
	s.publish(ctx, events.ActionDeviceRemoved, d)
	return nil
}

// FindDevice fetches a single device by its storage id, scoped to user.
func (s *Service) FindDevice(ctx context.Context, user, deviceID string) (*device.Device, error) {
	id, err := primitive.ObjectIDFromHex(deviceID)
	if err != nil {
		return nil, device.ErrInvalidID
	}

	query := bson.M{
		"_id":  id,
		"user": device.UserValue(user),
	}
	return s.findOne(ctx, query)
}

// FindDeviceByToken fetches a user's active device by its device token.
func (s *Service) FindDeviceByToken(ctx context.Context, user, token string) (*device.Device, error) {
	query := bson.M{
		"device_token": token,
		"user":         device.UserValue(user),
		"removed_at":   nil,
	}
	return s.findOne(ctx, query)
}

func (s *Service) findOne(ctx context.Context, query bson.M) (*device.Device, error) {
	docs, err := s.store.Query(ctx, query, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, device.ErrNotFound
	}

	d := &device.Device{}
	if err := d.LoadFromBSON(docs[0]); err != nil {
		return nil, err
	}
	return d, nil
}

// FindDevices lists a user's active devices, paginated.
func (s *Service) FindDevices(ctx context.Context, user string, offset, limit int64) ([]*device.Device, error) {
	query := bson.M{
		"user":       device.UserValue(user),
		"removed_at": nil,
	}
	docs, err := s.store.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*device.Device, 0, len(docs))
	for _, doc := range docs {
		d := &device.Device{}
		if err := d.LoadFromBSON(doc); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, action string, d *device.Device) {
	s.events.Publish(ctx, events.Event{
		Action:      action,
		DeviceType:  d.DeviceType,
		DeviceToken: d.DeviceToken,
		User:        d.User,
	})
}
