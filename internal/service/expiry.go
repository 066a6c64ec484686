package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/repository"
)

const expiryBatchSize = 100

// StartExpiry периодически отменяет заказы, которые продавец не принял вовремя.
// Возвращается после отмены контекста.
func (s *Service) StartExpiry(ctx context.Context) {
	if s.policy.ExpiryInterval <= 0 || s.policy.AcceptTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(s.policy.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx, s.now()); err != nil {
				s.logger.Warn("expiry batch failed", zap.Error(err))
			}
		}
	}
}

// ExpireStale отменяет заказы в pending_acceptance, созданные раньше now - AcceptTimeout,
// и возвращает число отменённых. Ошибка по одному заказу не останавливает обработку остальных.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var stale []model.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		stale, err = tx.ListStaleOrders(ctx, model.StatusPendingAcceptance, now.Add(-s.policy.AcceptTimeout), expiryBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}

		if _, err := s.machine.Fire(ctx, o.ID, model.EventCancel, orders.System(), nil); err != nil {
			s.logger.Warn("expire order",
				zap.Error(err),
				zap.String("order_id", o.ID.String()),
			)
			continue
		}

		expired++
		s.metrics.OrderExpired()
	}

	if expired > 0 {
		s.logger.Info("stale orders cancelled", zap.Int("count", expired))
	}
	return expired, nil
}
