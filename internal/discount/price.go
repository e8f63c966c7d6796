package discount

import (
	"math"

	"github.com/shopspring/decimal"
)

// Unlimited is passed as the remaining quota for offers without a per-customer cap.
const Unlimited = math.MaxInt

// Quote is the priced result for one cart line.
type Quote struct {
	Total decimal.Decimal
	// UsesConsumed is the number of discount applications spent: discounted
	// units for FlatNewPrice, whole bundles for the bundle variants.
	UsesConsumed int
}

func (q Quote) PromotionApplied() bool { return q.UsesConsumed > 0 }

// Price computes the total for units at base price under v, spending at most
// remaining discount applications. A nil v prices everything at base.
func Price(base decimal.Decimal, units int, v Variant, remaining int) Quote {
	if remaining < 0 {
		remaining = 0
	}
	if v == nil || units <= 0 {
		return Quote{Total: base.Mul(decimal.NewFromInt(int64(units)))}
	}
	return v.quote(base, units, remaining)
}

func (v FlatNewPrice) quote(base decimal.Decimal, units, remaining int) Quote {
	discounted := min(units, remaining)
	total := decimal.NewFromInt(int64(discounted)).Mul(v.NewPrice.Sub(base)).
		Add(base.Mul(decimal.NewFromInt(int64(units))))
	return Quote{Total: total, UsesConsumed: discounted}
}

func (v TakeNPayM) quote(base decimal.Decimal, units, remaining int) Quote {
	if v.Take <= 0 {
		return Quote{Total: base.Mul(decimal.NewFromInt(int64(units)))}
	}
	bundles := min(units/v.Take, remaining)
	free := bundles * (v.Take - v.Pay)
	return Quote{Total: base.Mul(decimal.NewFromInt(int64(units - free))), UsesConsumed: bundles}
}

func (v BulkFlatPrice) quote(base decimal.Decimal, units, remaining int) Quote {
	if v.Take <= 0 {
		return Quote{Total: base.Mul(decimal.NewFromInt(int64(units)))}
	}
	bundles := min(units/v.Take, remaining)
	rest := units - v.Take*bundles
	total := v.NewPrice.Mul(decimal.NewFromInt(int64(bundles))).
		Add(base.Mul(decimal.NewFromInt(int64(rest))))
	return Quote{Total: total, UsesConsumed: bundles}
}

// RemainingQuota derives how many discount applications a customer may still
// spend on an offer.
func RemainingQuota(limit *int, used int, membersOnly, isMember bool) int {
	if membersOnly && !isMember {
		return 0
	}
	if limit == nil {
		return Unlimited
	}
	return max(*limit-used, 0)
}
