package service

import (
	"context"
	"time"

	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper reclaims PENDING transactions that outlived their confirmation
// window. It runs synchronously at engine call sites, not on a timer, so a
// customer never accumulates more than one live pending transfer per type.
type Sweeper struct {
	repo   repo.RepositoryInterface
	window time.Duration
	log    *zap.SugaredLogger
}

// NewSweeper returns a sweeper with the given expiry window.
func NewSweeper(r repo.RepositoryInterface, window time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Sweeper{repo: r, window: window, log: logger}
}

// ReapExpiredPending deletes expired PENDING transactions of the given type
// owned by the customer, link row first so no dangling reference survives a
// concurrent completion. Running it twice over the same window is a no-op
// the second time.
func (s *Sweeper) ReapExpiredPending(ctx context.Context, customerID uint64, txType model.TransactionType) (int, error) {
	cutoff := time.Now().Add(-s.window)
	reaped := 0
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		expired, err := s.repo.ListExpiredPending(ctx, tx, customerID, txType, cutoff)
		if err != nil {
			return err
		}
		for i := range expired {
			if err := s.repo.DeleteTransactionCustomer(ctx, tx, expired[i].ID); err != nil {
				return err
			}
			if err := s.repo.DeleteTransaction(ctx, tx, expired[i].ID); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if reaped > 0 {
		s.log.Infof("reaped %d expired pending %s transactions for customer %d", reaped, txType, customerID)
	}
	return reaped, nil
}
