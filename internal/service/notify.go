package service

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/catch/postal/internal/device"
	"github.com/catch/postal/internal/events"
	"github.com/catch/postal/internal/notification"
	"github.com/catch/postal/pkg/push/aps"
	"github.com/catch/postal/pkg/push/c2dm"
	"github.com/catch/postal/pkg/push/gcm"
)

// Notify resolves the target set against active devices and routes each to
// its gateway. Dispatch is fire-and-forget per device: Notify returns once
// every send has been enqueued; per-device outcomes surface only through
// counters and the identity-removed feedback path.
func (s *Service) Notify(ctx context.Context, n *notification.Notification, users, deviceTokens []string) error {
	userValues := make(bson.A, 0, len(users))
	for _, u := range users {
		userValues = append(userValues, device.UserValue(u))
	}
	tokenValues := make(bson.A, 0, len(deviceTokens))
	for _, t := range deviceTokens {
		tokenValues = append(tokenValues, t)
	}

	query := bson.M{
		"$or": bson.A{
			bson.M{"user": bson.M{"$in": userValues}},
			bson.M{"device_token": bson.M{"$in": tokenValues}},
		},
		"removed_at": nil,
	}

	docs, err := s.store.Query(ctx, query, 0, notifyBatchLimit)
	if err != nil {
		return err
	}

	// The per-protocol messages are built once and shared across every
	// recipient of this notification.
	apsMessage := aps.MessageFromMap(n.APS)
	c2dmMessage := c2dm.MessageFromMap(n.C2DM, n.CollapseKey)
	gcmMessage := gcm.MessageFromMap(n.GCM, n.CollapseKey)

	// The sends must outlive the HTTP request that triggered them.
	sendCtx := context.WithoutCancel(ctx)

	var gcmIDs []string
	for _, doc := range docs {
		d := &device.Device{}
		if err := d.LoadFromBSON(doc); err != nil {
			continue
		}
		if d.DeviceToken == "" {
			continue
		}
		if s.suppressed(d.DeviceToken, n.CollapseKey) {
			continue
		}

		switch d.DeviceType {
		case device.TypeAPS:
			go func(token string) {
				if err := s.aps.Deliver(sendCtx, token, apsMessage); err != nil {
					s.logger.Warn().Err(err).Str("device_token", token).Msg("APS delivery failed")
				}
			}(d.DeviceToken)
		case device.TypeC2DM:
			go func(token string) {
				if err := s.c2dm.Deliver(sendCtx, token, c2dmMessage); err != nil {
					s.logger.Warn().Err(err).Str("registration_id", token).Msg("C2DM delivery failed")
				}
			}(d.DeviceToken)
		case device.TypeGCM:
			// GCM recipients batch into a single multicast request.
			gcmIDs = append(gcmIDs, d.DeviceToken)
		default:
			s.logger.Warn().Str("device_type", d.DeviceType).Msg("unknown device_type")
			continue
		}

		s.metrics.DeviceNotified(d.DeviceType)
		s.publish(ctx, events.ActionDeviceNotified, d)
	}

	if len(gcmIDs) > 0 {
		go func() {
			if err := s.gcm.Deliver(sendCtx, gcmIDs, gcmMessage); err != nil {
				s.logger.Warn().Err(err).Int("recipients", len(gcmIDs)).Msg("GCM delivery failed")
			}
		}()
	}
	return nil
}

// suppressed reports whether an identical send to token went out within the
// collapse window. With no window configured every send goes through.
func (s *Service) suppressed(token, collapseKey string) bool {
	if s.recently == nil || collapseKey == "" {
		return false
	}
	now := s.now()
	key := token + "\x00" + collapseKey
	if last, seen := s.recently.Contains(key); seen && now.Sub(last) < s.cfg.NotifyCollapseWindow {
		return true
	}
	s.recently.Insert(key, now)
	return false
}
