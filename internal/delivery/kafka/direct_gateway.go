package kafka

import (
	"context"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/usecase"
)

// DirectGateway calls the services in-process when event-driven mode is off.
type DirectGateway struct {
	checkout *usecase.CheckoutService
	stock    *usecase.StockService
}

func NewDirectGateway(checkout *usecase.CheckoutService, stock *usecase.StockService) usecase.StockGateway {
	return &DirectGateway{checkout: checkout, stock: stock}
}

func (g *DirectGateway) Checkout(ctx context.Context, customerID int64, expectedOffers []int64) ([]domain.Order, error) {
	return g.checkout.Checkout(ctx, customerID, expectedOffers)
}

func (g *DirectGateway) Restock(ctx context.Context, productID int64, units int, expiry *time.Time) (int, error) {
	return g.stock.Restock(ctx, productID, units, expiry)
}

func (g *DirectGateway) SweepExpiries(ctx context.Context, now time.Time) (map[int64]int, error) {
	return g.stock.Sweep(ctx, now)
}
