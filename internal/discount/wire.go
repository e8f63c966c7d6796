package discount

import "github.com/shopspring/decimal"

// Deal is the transport form of a Variant, mirroring the storage columns.
type Deal struct {
	NewPrice *decimal.Decimal `json:"new_price,omitempty"`
	Take     *int             `json:"take,omitempty"`
	Pay      *int             `json:"pay,omitempty"`
}

func (d Deal) Variant() (Variant, error) {
	return FromColumns(d.NewPrice, d.Take, d.Pay)
}

func DealOf(v Variant) Deal {
	p, q1, q2 := Columns(v)
	return Deal{NewPrice: p, Take: q1, Pay: q2}
}
