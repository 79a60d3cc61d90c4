package service

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/catch/postal/internal/storage"
	"github.com/catch/postal/pkg/push"
)

// removeTimeout bounds the storage update triggered by gateway feedback.
const removeTimeout = 10 * time.Second

// IdentityRemovedHandler returns the callback a gateway client invokes when
// the upstream declares a token undeliverable. The handler soft-deletes
// every active record for (deviceType, token); storage failures are logged
// only. Handling is serialized so concurrent removals for the same device
// converge on a single removed_at value.
func (s *Service) IdentityRemovedHandler(deviceType string) push.IdentityRemovedFunc {
	logger := s.logger.With().Str("device_type", deviceType).Logger()
	return func(token string) {
		s.removedMu <- struct{}{}
		defer func() { <-s.removedMu }()

		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()

		query := bson.M{
			"device_type":  deviceType,
			"device_token": token,
			"removed_at":   nil,
		}
		update := bson.M{
			"$set": bson.M{"removed_at": primitive.NewDateTimeFromTime(s.now().UTC())},
		}
		if _, err := s.store.Update(ctx, query, update, storage.UpdateMulti); err != nil {
			logger.Error().Err(err).Str("device_token", token).Msg("device removal failed")
			return
		}
		logger.Info().Str("device_token", token).Msg("device removed by gateway feedback")
	}
}
