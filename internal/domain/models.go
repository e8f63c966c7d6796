package domain

import (
	"errors"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/treeguard"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrUnavailableProduct = errors.New("product is unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOfferLapsed        = errors.New("special offer is no longer active")
	ErrOverlappingOffer   = errors.New("special offer overlaps an existing offer")
	ErrInvalidWindow      = errors.New("special offer ends before it starts")

	ErrInvalidVariant = discount.ErrInvalidVariant

	ErrCycleDetected  = treeguard.ErrCycleDetected
	ErrNodeNotFound   = treeguard.ErrNodeNotFound
	ErrThreadMismatch = treeguard.ErrThreadMismatch
)

type Product struct {
	ID      int64
	Price   decimal.Decimal
	Visible bool
	Stock   int
}

type Customer struct {
	ID       int64
	IsMember bool
}

type SpecialOffer struct {
	ID               int64
	ProductID        int64
	ValidFrom        time.Time
	ValidUntil       *time.Time
	MembersOnly      bool
	LimitPerCustomer *int
	Deal             discount.Variant
}

// ActiveAt reports whether t falls in [ValidFrom, ValidUntil).
func (o SpecialOffer) ActiveAt(t time.Time) bool {
	if t.Before(o.ValidFrom) {
		return false
	}
	return o.ValidUntil == nil || t.Before(*o.ValidUntil)
}

// Overlaps reports whether the validity windows of o and other intersect.
func (o SpecialOffer) Overlaps(other SpecialOffer) bool {
	if o.ValidUntil != nil && !o.ValidUntil.After(other.ValidFrom) {
		return false
	}
	if other.ValidUntil != nil && !other.ValidUntil.After(o.ValidFrom) {
		return false
	}
	return true
}

// CartLine is a requested quantity of a product. ProductID is zero when the
// product was deleted upstream after it was put in the cart.
type CartLine struct {
	CustomerID int64
	ProductID  int64
	Units      int
}

// Batch is a dated group of units that must be sold by Expiry.
type Batch struct {
	ID        int64
	ProductID int64
	Expiry    time.Time
	Units     int
	Processed bool
}

type Order struct {
	ID               int64
	CheckoutID       uuid.UUID
	CustomerID       int64
	ProductID        *int64
	Units            int
	PricePaid        decimal.Decimal
	PromotionApplied bool
	CreatedAt        time.Time
}

type Category struct {
	ID     int64
	Parent *int64
	Name   string
}

type Comment struct {
	ID     int64
	Parent *int64
	Thread int64
}

// Date truncates t to its UTC calendar day, the granularity of batch expiry.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Elapsed reports whether a batch expiring on expiry is past its date at now.
func Elapsed(expiry, now time.Time) bool {
	return Date(expiry).Before(Date(now))
}
