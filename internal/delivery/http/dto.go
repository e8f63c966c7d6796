package http

import (
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type CheckoutRequest struct {
	ExpectedOffers []int64 `json:"expected_offers" validate:"omitempty,dive,gt=0"`
}

type RestockRequest struct {
	Units  int    `json:"units"`
	Expiry string `json:"expiry" validate:"omitempty,datetime=2006-01-02"`
}

type SweepRequest struct {
	Now *time.Time `json:"now"`
}

type ValidateOfferRequest struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	BasePrice *decimal.Decimal `json:"base_price"`
	Deal      discount.Deal    `json:"deal"`
}

type CreateOfferRequest struct {
	ProductID        int64         `json:"product_id" validate:"required,gt=0"`
	Deal             discount.Deal `json:"deal"`
	LimitPerCustomer *int          `json:"limit_per_customer"`
	MembersOnly      bool          `json:"members_only"`
	ValidFrom        time.Time     `json:"valid_from" validate:"required"`
	ValidUntil       *time.Time    `json:"valid_until"`
}

type UpdateOfferRequest struct {
	Deal             *discount.Deal `json:"deal"`
	LimitPerCustomer *int           `json:"limit_per_customer" validate:"excluded_with=ClearLimit"`
	ClearLimit       bool           `json:"clear_limit"`
	MembersOnly      *bool          `json:"members_only"`
	ValidFrom        *time.Time     `json:"valid_from"`
	ValidUntil       *time.Time     `json:"valid_until" validate:"excluded_with=OpenEnded"`
	OpenEnded        bool           `json:"open_ended"`
}

type ParentRequest struct {
	Parent *int64 `json:"parent" validate:"omitempty,gt=0"`
}

type OrderResponse struct {
	ID               int64           `json:"id"`
	CheckoutID       string          `json:"checkout_id"`
	ProductID        *int64          `json:"product_id"`
	Units            int             `json:"units"`
	PricePaid        decimal.Decimal `json:"price_paid"`
	PromotionApplied bool            `json:"promotion_applied"`
	CreatedAt        time.Time       `json:"created_at"`
}

type CheckoutResponse struct {
	Orders []OrderResponse `json:"orders"`
}

type RestockResponse struct {
	ProductID int64 `json:"product_id"`
	Stock     int   `json:"stock"`
}

type SweepResponse struct {
	Expired map[int64]int `json:"expired"`
}

type OfferResponse struct {
	ID               int64         `json:"id"`
	ProductID        int64         `json:"product_id"`
	Kind             string        `json:"kind"`
	Deal             discount.Deal `json:"deal"`
	LimitPerCustomer *int          `json:"limit_per_customer"`
	MembersOnly      bool          `json:"members_only"`
	ValidFrom        time.Time     `json:"valid_from"`
	ValidUntil       *time.Time    `json:"valid_until"`
}

func toOrderResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = OrderResponse{
			ID:               o.ID,
			CheckoutID:       o.CheckoutID.String(),
			ProductID:        o.ProductID,
			Units:            o.Units,
			PricePaid:        o.PricePaid,
			PromotionApplied: o.PromotionApplied,
			CreatedAt:        o.CreatedAt,
		}
	}
	return out
}

func toOfferResponse(o domain.SpecialOffer) OfferResponse {
	resp := OfferResponse{
		ID:               o.ID,
		ProductID:        o.ProductID,
		LimitPerCustomer: o.LimitPerCustomer,
		MembersOnly:      o.MembersOnly,
		ValidFrom:        o.ValidFrom,
		ValidUntil:       o.ValidUntil,
	}
	if o.Deal != nil {
		resp.Kind = string(o.Deal.Kind())
		resp.Deal = discount.DealOf(o.Deal)
	}
	return resp
}
