package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/ledger"
	"github.com/azizikri/offer-checkout/internal/metrics"
	"github.com/azizikri/offer-checkout/internal/repository"
	"go.uber.org/zap"
)

type StockService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewStockService(store repository.Store, logger *zap.Logger) *StockService {
	return &StockService{store: store, logger: logger}
}

// Restock adds units to the product's stock and, when expiry is given, to
// the batch expiring that day. It returns the new stock level.
func (s *StockService) Restock(ctx context.Context, productID int64, units int, expiry *time.Time) (int, error) {
	if units <= 0 {
		return 0, fmt.Errorf("%w: restock of %d units", domain.ErrInvalidQuantity, units)
	}

	var stock int
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		if stock, err = q.IncrementStock(ctx, productID, units); err != nil {
			return fmt.Errorf("product %d: %w", productID, err)
		}
		if expiry == nil {
			return nil
		}
		if _, err := q.AddBatch(ctx, productID, *expiry, units); err != nil {
			return fmt.Errorf("batch for product %d: %w", productID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RestockedUnits.Add(float64(units))
	fields := []zap.Field{
		zap.Int64("product_id", productID),
		zap.Int("units", units),
		zap.Int("stock", stock),
	}
	if expiry != nil {
		fields = append(fields, zap.Time("expiry", domain.Date(*expiry)))
	}
	s.logger.Info("product restocked", fields...)
	return stock, nil
}

// DepleteFIFO removes units from the product's pending batches, earliest
// expiry first, and returns the units no batch covered. Stock is untouched.
func (s *StockService) DepleteFIFO(ctx context.Context, productID int64, units int) (int, error) {
	if units < 0 {
		return 0, fmt.Errorf("%w: cannot deplete %d units", domain.ErrInvalidQuantity, units)
	}
	var remainder int
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		remainder, err = depleteBatches(ctx, q, productID, units)
		return err
	})
	if err != nil {
		return 0, err
	}
	return remainder, nil
}

func depleteBatches(ctx context.Context, q repository.Querier, productID int64, units int) (int, error) {
	if units == 0 {
		return 0, nil
	}
	batches, err := q.PendingBatches(ctx, productID)
	if err != nil {
		return 0, err
	}
	plan, err := ledger.Deplete(batches, units)
	if err != nil {
		return 0, err
	}
	for _, b := range plan.Updated {
		if err := q.UpdateBatchUnits(ctx, b.ID, b.Units); err != nil {
			return 0, err
		}
	}
	for _, id := range plan.Deleted {
		if err := q.DeleteBatch(ctx, id); err != nil {
			return 0, err
		}
	}
	return plan.Remainder, nil
}

// Sweep writes off every pending batch whose expiry date has passed at now
// and lowers stock by the expired units, never below zero. It returns the
// units written off per product. A second sweep at the same instant finds
// nothing to do.
func (s *StockService) Sweep(ctx context.Context, now time.Time) (map[int64]int, error) {
	var totals map[int64]int
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := q.AcquireSweepLock(ctx); err != nil {
			return err
		}
		products, err := q.LockExpiringProducts(ctx, now)
		if err != nil {
			return err
		}
		expired, err := q.ExpireBatches(ctx, now, products)
		if err != nil {
			return err
		}
		totals = ledger.Totals(expired)
		for _, pid := range sortedKeys(totals) {
			_, err := q.FloorDecrementStock(ctx, pid, totals[pid])
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("expired batch references a missing product", zap.Int64("product_id", pid))
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	metrics.SweepRuns.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return nil, err
	}

	expiredUnits := 0
	for _, n := range totals {
		expiredUnits += n
	}
	metrics.ExpiredUnits.Add(float64(expiredUnits))
	s.logger.Info("expiry sweep finished",
		zap.Time("now", now),
		zap.Int("products", len(totals)),
		zap.Int("expired_units", expiredUnits),
	)
	return totals, nil
}
