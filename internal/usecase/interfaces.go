package usecase

import (
	"context"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
)

// StockGateway is how the delivery layer reaches the stock-changing
// operations, either in-process or through the request topics.
type StockGateway interface {
	Checkout(ctx context.Context, customerID int64, expectedOffers []int64) ([]domain.Order, error)
	Restock(ctx context.Context, productID int64, units int, expiry *time.Time) (int, error)
	SweepExpiries(ctx context.Context, now time.Time) (map[int64]int, error)
}
