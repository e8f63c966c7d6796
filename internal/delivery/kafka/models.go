package kafka

import (
	"fmt"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const SchemaVersion = 1

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalidQuantity    = "INVALID_QUANTITY"
	ErrCodeUnavailableProduct = "UNAVAILABLE_PRODUCT"
	ErrCodeInsufficientStock  = "INSUFFICIENT_STOCK"
	ErrCodeOfferLapsed        = "OFFER_LAPSED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

type RequestPayload struct {
	SchemaVersion  int        `json:"schema_version"`
	CorrelationID  string     `json:"correlation_id"`
	ReplyTo        string     `json:"reply_to"`
	Attempt        int        `json:"attempt,omitempty"`
	CustomerID     int64      `json:"customer_id,omitempty"`
	ExpectedOffers []int64    `json:"expected_offers,omitempty"`
	ProductID      int64      `json:"product_id,omitempty"`
	Units          int        `json:"units,omitempty"`
	Expiry         *time.Time `json:"expiry,omitempty"`
	Now            *time.Time `json:"now,omitempty"`
}

type OrderPayload struct {
	ID               int64           `json:"id"`
	CheckoutID       string          `json:"checkout_id"`
	CustomerID       int64           `json:"customer_id"`
	ProductID        *int64          `json:"product_id"`
	Units            int             `json:"units"`
	PricePaid        decimal.Decimal `json:"price_paid"`
	PromotionApplied bool            `json:"promotion_applied"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ResponsePayload struct {
	SchemaVersion int            `json:"schema_version"`
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Orders        []OrderPayload `json:"orders,omitempty"`
	Stock         *int           `json:"stock,omitempty"`
	Expired       map[int64]int  `json:"expired,omitempty"`
}

func toOrderPayloads(orders []domain.Order) []OrderPayload {
	out := make([]OrderPayload, len(orders))
	for i, o := range orders {
		out[i] = OrderPayload{
			ID:               o.ID,
			CheckoutID:       o.CheckoutID.String(),
			CustomerID:       o.CustomerID,
			ProductID:        o.ProductID,
			Units:            o.Units,
			PricePaid:        o.PricePaid,
			PromotionApplied: o.PromotionApplied,
			CreatedAt:        o.CreatedAt,
		}
	}
	return out
}

func fromOrderPayloads(payloads []OrderPayload) ([]domain.Order, error) {
	out := make([]domain.Order, len(payloads))
	for i, p := range payloads {
		checkoutID, err := uuid.Parse(p.CheckoutID)
		if err != nil {
			return nil, fmt.Errorf("order %d: checkout id: %w", p.ID, err)
		}
		out[i] = domain.Order{
			ID:               p.ID,
			CheckoutID:       checkoutID,
			CustomerID:       p.CustomerID,
			ProductID:        p.ProductID,
			Units:            p.Units,
			PricePaid:        p.PricePaid,
			PromotionApplied: p.PromotionApplied,
			CreatedAt:        p.CreatedAt,
		}
	}
	return out, nil
}
