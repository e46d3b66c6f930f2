package worker

import (
	"context"

	"levelup-loyalty/internal/broker"
	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/util"

	"go.uber.org/zap"
)

// TierPromoter recomputes a user's tier
type TierPromoter interface {
	PromoteTier(ctx context.Context, userID string) (*models.User, bool, error)
}

// TierWorker keeps loyalty tiers in step with the ledger. Points earned can
// move a user up; revoked points are handled by the same recompute.
type TierWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewTierWorker creates a new tier worker
func NewTierWorker(consumer *broker.Consumer, promoter TierPromoter) *TierWorker {
	return &TierWorker{
		consumer:     consumer,
		eventHandler: NewTierHandler(promoter),
		logger:       util.ComponentLogger("tier-worker"),
	}
}

// NewTierHandler wires the events that can change a tier to promoter
func NewTierHandler(promoter TierPromoter) *broker.EventHandler {
	logger := util.ComponentLogger("tier-worker")
	eventHandler := broker.NewEventHandler()

	promote := func(ctx context.Context, userID string) error {
		user, promoted, err := promoter.PromoteTier(ctx, userID)
		if err != nil {
			logger.Error("Failed to recompute tier", zap.String("user_id", userID), zap.Error(err))
			return err
		}
		if promoted {
			logger.Info("Tier raised", zap.String("user_id", userID), zap.String("nivel", user.Nivel))
		}
		return nil
	}

	eventHandler.OnPointsEarned(func(ctx context.Context, event *models.PointsEarnedEvent) error {
		if event.Points <= 0 {
			return nil
		}
		return promote(ctx, event.UserID)
	})
	eventHandler.OnOrderCancelled(func(ctx context.Context, event *models.OrderCancelledEvent) error {
		if event.PointsRevoked == 0 {
			return nil
		}
		return promote(ctx, event.UserID)
	})

	return eventHandler
}

// Start starts the worker
func (w *TierWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting tier worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *TierWorker) Stop() error {
	w.logger.Info("Stopping tier worker")
	return w.consumer.Close()
}
