package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OfferService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewOfferService(store repository.Store, logger *zap.Logger) *OfferService {
	return &OfferService{store: store, logger: logger}
}

// ValidateOffer checks that v is a real discount on the product. A nil base
// validates against the product's current price.
func (s *OfferService) ValidateOffer(ctx context.Context, productID int64, base *decimal.Decimal, v discount.Variant) error {
	if base == nil {
		p, err := s.store.GetProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("product %d: %w", productID, err)
		}
		base = &p.Price
	}
	return discount.Validate(*base, v)
}

// OfferPatch carries the changes of an offer update. Nil fields are left
// as they are.
type OfferPatch struct {
	Deal             discount.Variant
	LimitPerCustomer *int
	ClearLimit       bool
	MembersOnly      *bool
	ValidFrom        *time.Time
	ValidUntil       *time.Time
	OpenEnded        bool
}

func checkTerms(o domain.SpecialOffer) error {
	if o.ValidUntil != nil && !o.ValidUntil.After(o.ValidFrom) {
		return fmt.Errorf("%w: %s is not after %s", domain.ErrInvalidWindow,
			o.ValidUntil.Format(time.RFC3339), o.ValidFrom.Format(time.RFC3339))
	}
	if o.LimitPerCustomer != nil && *o.LimitPerCustomer <= 0 {
		return fmt.Errorf("%w: per-customer limit %d", domain.ErrInvalidQuantity, *o.LimitPerCustomer)
	}
	return nil
}

func productOf(ctx context.Context, q repository.Querier, id int64) (domain.Product, error) {
	products, err := q.GetProducts(ctx, []int64{id})
	if err != nil {
		return domain.Product{}, err
	}
	p, ok := products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *OfferService) Create(ctx context.Context, o domain.SpecialOffer) (domain.SpecialOffer, error) {
	if err := checkTerms(o); err != nil {
		return domain.SpecialOffer{}, err
	}

	var created domain.SpecialOffer
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		p, err := productOf(ctx, q, o.ProductID)
		if err != nil {
			return err
		}
		if err := discount.Validate(p.Price, o.Deal); err != nil {
			return err
		}
		created, err = q.InsertOffer(ctx, o)
		return err
	})
	if err != nil {
		return domain.SpecialOffer{}, err
	}

	s.logger.Info("special offer created",
		zap.Int64("offer_id", created.ID),
		zap.Int64("product_id", created.ProductID),
		zap.String("kind", string(created.Deal.Kind())),
	)
	return created, nil
}

// Update applies patch to the offer. A changed deal is validated against the
// product's current price. Lowering the limit keeps the usage already spent.
func (s *OfferService) Update(ctx context.Context, id int64, patch OfferPatch) (domain.SpecialOffer, error) {
	var updated domain.SpecialOffer
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		o, err := q.GetOffer(ctx, id)
		if err != nil {
			return fmt.Errorf("offer %d: %w", id, err)
		}

		if patch.Deal != nil {
			p, err := productOf(ctx, q, o.ProductID)
			if err != nil {
				return err
			}
			if err := discount.Validate(p.Price, patch.Deal); err != nil {
				return err
			}
			o.Deal = patch.Deal
		}
		switch {
		case patch.ClearLimit:
			o.LimitPerCustomer = nil
		case patch.LimitPerCustomer != nil:
			limit := *patch.LimitPerCustomer
			o.LimitPerCustomer = &limit
		}
		if patch.MembersOnly != nil {
			o.MembersOnly = *patch.MembersOnly
		}
		if patch.ValidFrom != nil {
			o.ValidFrom = *patch.ValidFrom
		}
		switch {
		case patch.OpenEnded:
			o.ValidUntil = nil
		case patch.ValidUntil != nil:
			until := *patch.ValidUntil
			o.ValidUntil = &until
		}

		if err := checkTerms(o); err != nil {
			return err
		}
		if err := q.UpdateOffer(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return domain.SpecialOffer{}, err
	}

	s.logger.Info("special offer updated", zap.Int64("offer_id", id))
	return updated, nil
}

func (s *OfferService) SetDeal(ctx context.Context, id int64, v discount.Variant) (domain.SpecialOffer, error) {
	if v == nil {
		return domain.SpecialOffer{}, fmt.Errorf("%w: no deal given", domain.ErrInvalidVariant)
	}
	return s.Update(ctx, id, OfferPatch{Deal: v})
}

// SetLimit changes the per-customer cap; nil removes it.
func (s *OfferService) SetLimit(ctx context.Context, id int64, limit *int) (domain.SpecialOffer, error) {
	return s.Update(ctx, id, OfferPatch{LimitPerCustomer: limit, ClearLimit: limit == nil})
}

func (s *OfferService) SetMembersOnly(ctx context.Context, id int64, membersOnly bool) (domain.SpecialOffer, error) {
	return s.Update(ctx, id, OfferPatch{MembersOnly: &membersOnly})
}

// SetWindow moves the validity window; a nil until makes the offer open-ended.
func (s *OfferService) SetWindow(ctx context.Context, id int64, from time.Time, until *time.Time) (domain.SpecialOffer, error) {
	return s.Update(ctx, id, OfferPatch{ValidFrom: &from, ValidUntil: until, OpenEnded: until == nil})
}

func (s *OfferService) Delete(ctx context.Context, id int64) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		return q.DeleteOffer(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("special offer deleted", zap.Int64("offer_id", id))
	return nil
}
