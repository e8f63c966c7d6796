package usecase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/metrics"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CheckoutService struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewCheckoutService(store repository.Store, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{store: store, logger: logger, now: time.Now}
}

// pricedLine is a cart line with its resolved offer and quote.
type pricedLine struct {
	line  domain.CartLine
	offer *domain.SpecialOffer
	quote discount.Quote
}

// Checkout converts the customer's cart into orders in one transaction. The
// cart is drained, stock is taken, batches are depleted oldest first, offer
// usage is counted and one order is written per cart line. Any failure leaves
// every piece of state as it was, the cart included.
//
// expectedOffers lists offers the customer was shown; the checkout fails with
// ErrOfferLapsed if one of them no longer applies to a line.
func (s *CheckoutService) Checkout(ctx context.Context, customerID int64, expectedOffers []int64) ([]domain.Order, error) {
	start := time.Now()
	orders, spent, err := s.checkout(ctx, customerID, expectedOffers)

	outcome := metrics.CheckoutOutcome(err)
	if err == nil && len(orders) == 0 {
		outcome = "empty"
	}
	metrics.CheckoutTotal.WithLabelValues(outcome).Inc()
	metrics.CheckoutDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Info("checkout rejected",
			zap.Int64("customer_id", customerID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.CheckoutOrders.Add(float64(len(orders)))
	metrics.CheckoutPromotionUses.Add(float64(spent))
	s.logger.Info("checkout committed",
		zap.Int64("customer_id", customerID),
		zap.Int("orders", len(orders)),
		zap.Int("promotion_uses", spent),
	)
	return orders, nil
}

func (s *CheckoutService) checkout(ctx context.Context, customerID int64, expectedOffers []int64) ([]domain.Order, int, error) {
	var (
		orders []domain.Order
		spent  int
	)

	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		lines, err := q.DrainCart(ctx, customerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		customer, err := q.GetCustomer(ctx, customerID)
		if err != nil {
			return fmt.Errorf("customer %d: %w", customerID, err)
		}

		products, err := s.availableProducts(ctx, q, lines)
		if err != nil {
			return err
		}

		now := s.now()
		offers, err := s.activeOffers(ctx, q, products, now)
		if err != nil {
			return err
		}
		for _, id := range expectedOffers {
			if !offerIn(offers, id) {
				return fmt.Errorf("%w: offer %d", domain.ErrOfferLapsed, id)
			}
		}

		remaining, err := remainingQuotas(ctx, q, customer, offers)
		if err != nil {
			return err
		}

		priced := make([]pricedLine, len(lines))
		for i, l := range lines {
			p := products[l.ProductID]
			pl := pricedLine{line: l, offer: offers[l.ProductID]}
			if pl.offer == nil {
				pl.quote = discount.Price(p.Price, l.Units, nil, 0)
			} else {
				pl.quote = discount.Price(p.Price, l.Units, pl.offer.Deal, remaining[pl.offer.ID])
				remaining[pl.offer.ID] -= pl.quote.UsesConsumed
			}
			priced[i] = pl
		}

		units := make(map[int64]int, len(products))
		for _, l := range lines {
			units[l.ProductID] += l.Units
		}
		for _, pid := range sortedKeys(units) {
			if _, err := q.DecrementStock(ctx, pid, units[pid]); err != nil {
				return err
			}
		}

		for _, pid := range sortedKeys(units) {
			remainder, err := depleteBatches(ctx, q, pid, units[pid])
			if err != nil {
				return err
			}
			if remainder > 0 {
				s.logger.Debug("batches did not cover sold units",
					zap.Int64("product_id", pid),
					zap.Int("units", remainder),
				)
			}
		}

		uses := make(map[int64]int)
		for _, pl := range priced {
			if pl.offer != nil && pl.quote.UsesConsumed > 0 {
				uses[pl.offer.ID] += pl.quote.UsesConsumed
			}
		}
		for _, oid := range sortedKeys(uses) {
			if err := q.AddUsage(ctx, customerID, oid, uses[oid]); err != nil {
				return err
			}
			spent += uses[oid]
		}

		checkoutID := uuid.New()
		orders = make([]domain.Order, 0, len(priced))
		for _, pl := range priced {
			pid := pl.line.ProductID
			o, err := q.InsertOrder(ctx, domain.Order{
				CheckoutID:       checkoutID,
				CustomerID:       customerID,
				ProductID:        &pid,
				Units:            pl.line.Units,
				PricePaid:        pl.quote.Total,
				PromotionApplied: pl.quote.PromotionApplied(),
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, spent, nil
}

// availableProducts loads every product referenced by lines and rejects the
// checkout if one is gone or hidden.
func (s *CheckoutService) availableProducts(ctx context.Context, q repository.Querier, lines []domain.CartLine) (map[int64]domain.Product, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == 0 {
			return nil, fmt.Errorf("%w: product was removed from the catalog", domain.ErrUnavailableProduct)
		}
		if l.Units <= 0 {
			return nil, fmt.Errorf("%w: %d units of product %d", domain.ErrInvalidQuantity, l.Units, l.ProductID)
		}
		if !slices.Contains(ids, l.ProductID) {
			ids = append(ids, l.ProductID)
		}
	}
	slices.Sort(ids)

	products, err := q.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok || !p.Visible {
			return nil, fmt.Errorf("%w: product %d", domain.ErrUnavailableProduct, id)
		}
	}
	return products, nil
}

// activeOffers resolves the offer in force for each product at now. Offers
// whose deal no longer discounts the current price are skipped.
func (s *CheckoutService) activeOffers(ctx context.Context, q repository.Querier, products map[int64]domain.Product, now time.Time) (map[int64]*domain.SpecialOffer, error) {
	offers := make(map[int64]*domain.SpecialOffer)
	for _, pid := range sortedKeys(products) {
		o, err := q.ActiveOffer(ctx, pid, now)
		if err != nil {
			return nil, err
		}
		if o == nil || o.Deal == nil {
			continue
		}
		if err := discount.Validate(products[pid].Price, o.Deal); err != nil {
			s.logger.Warn("ignoring special offer that no longer discounts",
				zap.Int64("offer_id", o.ID),
				zap.Int64("product_id", pid),
				zap.Error(err),
			)
			continue
		}
		offers[pid] = o
	}
	return offers, nil
}

// remainingQuotas reads and locks the usage counters of capped offers in
// ascending offer id order.
func remainingQuotas(ctx context.Context, q repository.Querier, customer domain.Customer, offers map[int64]*domain.SpecialOffer) (map[int64]int, error) {
	byID := make(map[int64]*domain.SpecialOffer, len(offers))
	for _, o := range offers {
		byID[o.ID] = o
	}

	remaining := make(map[int64]int, len(byID))
	for _, oid := range sortedKeys(byID) {
		o := byID[oid]
		used := 0
		if o.LimitPerCustomer != nil && (!o.MembersOnly || customer.IsMember) {
			var err error
			if used, err = q.LockUsage(ctx, customer.ID, oid); err != nil {
				return nil, err
			}
		}
		remaining[oid] = discount.RemainingQuota(o.LimitPerCustomer, used, o.MembersOnly, customer.IsMember)
	}
	return remaining, nil
}

func offerIn(offers map[int64]*domain.SpecialOffer, id int64) bool {
	for _, o := range offers {
		if o.ID == id {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// History lists a page of the customer's orders, newest first, skipping
// the first offset of them.
func (s *CheckoutService) History(ctx context.Context, customerID int64, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	return s.store.ListOrders(ctx, customerID, limit, max(offset, 0))
}
