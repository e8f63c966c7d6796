// Package discount models the three special-offer deal shapes and prices
// cart lines against them.
package discount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidVariant = errors.New("invalid special offer variant")

type Kind string

const (
	KindFlatNewPrice  Kind = "flat_new_price"
	KindTakeNPayM     Kind = "take_n_pay_m"
	KindBulkFlatPrice Kind = "bulk_flat_price"
)

// Variant is one of FlatNewPrice, TakeNPayM or BulkFlatPrice.
type Variant interface {
	Kind() Kind
	// fraction returns the average discount per unit relative to base, or
	// an error when the parameters do not describe a real discount.
	fraction(base decimal.Decimal) (decimal.Decimal, error)
	quote(base decimal.Decimal, units, remaining int) Quote
}

// FlatNewPrice lowers the unit price to NewPrice.
type FlatNewPrice struct {
	NewPrice decimal.Decimal
}

// TakeNPayM charges for Pay units out of every Take.
type TakeNPayM struct {
	Take int
	Pay  int
}

// BulkFlatPrice sells every Take-unit bundle for NewPrice in total.
type BulkFlatPrice struct {
	Take     int
	NewPrice decimal.Decimal
}

func (FlatNewPrice) Kind() Kind  { return KindFlatNewPrice }
func (TakeNPayM) Kind() Kind     { return KindTakeNPayM }
func (BulkFlatPrice) Kind() Kind { return KindBulkFlatPrice }

func (v FlatNewPrice) fraction(base decimal.Decimal) (decimal.Decimal, error) {
	if v.NewPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: new price %s is negative", ErrInvalidVariant, v.NewPrice)
	}
	if !v.NewPrice.LessThan(base) {
		return decimal.Zero, fmt.Errorf("%w: new price %s is not below base price %s", ErrInvalidVariant, v.NewPrice, base)
	}
	return decimal.NewFromInt(1).Sub(v.NewPrice.Div(base)), nil
}

func (v TakeNPayM) fraction(decimal.Decimal) (decimal.Decimal, error) {
	if v.Take <= 1 || v.Pay < 1 || v.Pay >= v.Take {
		return decimal.Zero, fmt.Errorf("%w: take %d pay %d", ErrInvalidVariant, v.Take, v.Pay)
	}
	return decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(v.Pay)).Div(decimal.NewFromInt(int64(v.Take)))), nil
}

func (v BulkFlatPrice) fraction(base decimal.Decimal) (decimal.Decimal, error) {
	if v.Take <= 1 {
		return decimal.Zero, fmt.Errorf("%w: take %d", ErrInvalidVariant, v.Take)
	}
	if v.NewPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: bundle price %s is negative", ErrInvalidVariant, v.NewPrice)
	}
	full := base.Mul(decimal.NewFromInt(int64(v.Take)))
	if !v.NewPrice.LessThan(full) {
		return decimal.Zero, fmt.Errorf("%w: bundle price %s is not below %s", ErrInvalidVariant, v.NewPrice, full)
	}
	return decimal.NewFromInt(1).Sub(v.NewPrice.Div(full)), nil
}

// ComputeDiscount validates v against base and returns the discount as a
// fraction of base price, in (0, 1].
func ComputeDiscount(base decimal.Decimal, v Variant) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, fmt.Errorf("%w: no deal given", ErrInvalidVariant)
	}
	if !base.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: base price %s is not positive", ErrInvalidVariant, base)
	}
	f, err := v.fraction(base)
	if err != nil {
		return decimal.Zero, err
	}
	if !f.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no discount", ErrInvalidVariant)
	}
	return f, nil
}

// Validate reports whether v is a well-formed discount for base.
func Validate(base decimal.Decimal, v Variant) error {
	_, err := ComputeDiscount(base, v)
	return err
}

// FromColumns decodes the storage representation (new_price, quantity1,
// quantity2). All three nil means no deal and yields a nil Variant.
func FromColumns(newPrice *decimal.Decimal, quantity1, quantity2 *int) (Variant, error) {
	switch {
	case newPrice == nil && quantity1 == nil && quantity2 == nil:
		return nil, nil
	case newPrice != nil && quantity1 == nil && quantity2 == nil:
		return FlatNewPrice{NewPrice: *newPrice}, nil
	case newPrice == nil && quantity1 != nil && quantity2 != nil:
		return TakeNPayM{Take: *quantity1, Pay: *quantity2}, nil
	case newPrice != nil && quantity1 != nil && quantity2 == nil:
		return BulkFlatPrice{Take: *quantity1, NewPrice: *newPrice}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field combination", ErrInvalidVariant)
	}
}

// Columns is the inverse of FromColumns.
func Columns(v Variant) (newPrice *decimal.Decimal, quantity1, quantity2 *int) {
	switch d := v.(type) {
	case FlatNewPrice:
		p := d.NewPrice
		return &p, nil, nil
	case TakeNPayM:
		take, pay := d.Take, d.Pay
		return nil, &take, &pay
	case BulkFlatPrice:
		p, take := d.NewPrice, d.Take
		return &p, &take, nil
	}
	return nil, nil, nil
}
