package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(v int) *int { return &v }

func TestComputeDiscount_FlatNewPrice(t *testing.T) {
	base := dec("10.00")

	for _, p := range []string{"0", "0.01", "5", "9.99"} {
		f, err := ComputeDiscount(base, FlatNewPrice{NewPrice: dec(p)})
		require.NoError(t, err, "new price %s", p)
		assert.True(t, f.IsPositive(), "fraction for %s", p)
		assert.True(t, f.LessThanOrEqual(decimal.NewFromInt(1)), "fraction for %s", p)
	}

	f, err := ComputeDiscount(base, FlatNewPrice{NewPrice: dec("7.5")})
	require.NoError(t, err)
	assert.True(t, f.Equal(dec("0.25")), "got %s", f)

	for _, p := range []string{"10", "10.01", "25"} {
		_, err := ComputeDiscount(base, FlatNewPrice{NewPrice: dec(p)})
		assert.ErrorIs(t, err, ErrInvalidVariant, "new price %s", p)
	}
}

func TestComputeDiscount_TakeNPayM(t *testing.T) {
	base := dec("3.00")

	for take := 2; take <= 8; take++ {
		for pay := 1; pay < take; pay++ {
			f, err := ComputeDiscount(base, TakeNPayM{Take: take, Pay: pay})
			require.NoError(t, err)
			want := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(pay)).Div(decimal.NewFromInt(int64(take))))
			assert.True(t, f.Equal(want), "take %d pay %d: got %s want %s", take, pay, f, want)
		}
	}

	invalid := []TakeNPayM{
		{Take: 1, Pay: 1},
		{Take: 0, Pay: 0},
		{Take: 3, Pay: 0},
		{Take: 3, Pay: 3},
		{Take: 3, Pay: 4},
		{Take: -2, Pay: 1},
	}
	for _, v := range invalid {
		_, err := ComputeDiscount(base, v)
		assert.ErrorIs(t, err, ErrInvalidVariant, "%+v", v)
	}
}

func TestComputeDiscount_BulkFlatPrice(t *testing.T) {
	base := dec("4.00")

	f, err := ComputeDiscount(base, BulkFlatPrice{Take: 4, NewPrice: dec("12")})
	require.NoError(t, err)
	assert.True(t, f.Equal(dec("0.25")), "got %s", f)

	_, err = ComputeDiscount(base, BulkFlatPrice{Take: 4, NewPrice: dec("16")})
	assert.ErrorIs(t, err, ErrInvalidVariant)

	_, err = ComputeDiscount(base, BulkFlatPrice{Take: 1, NewPrice: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidVariant)
}

func TestComputeDiscount_RejectsMissingDealAndBadBase(t *testing.T) {
	_, err := ComputeDiscount(dec("10"), nil)
	assert.ErrorIs(t, err, ErrInvalidVariant)

	_, err = ComputeDiscount(decimal.Zero, TakeNPayM{Take: 3, Pay: 2})
	assert.ErrorIs(t, err, ErrInvalidVariant)
}

func TestFromColumns(t *testing.T) {
	p := dec("2.50")

	v, err := FromColumns(nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = FromColumns(&p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, FlatNewPrice{NewPrice: p}, v)

	v, err = FromColumns(nil, intp(3), intp(2))
	require.NoError(t, err)
	assert.Equal(t, TakeNPayM{Take: 3, Pay: 2}, v)

	v, err = FromColumns(&p, intp(3), nil)
	require.NoError(t, err)
	assert.Equal(t, BulkFlatPrice{Take: 3, NewPrice: p}, v)

	for _, bad := range []struct {
		price  *decimal.Decimal
		q1, q2 *int
	}{
		{&p, intp(3), intp(2)},
		{nil, intp(3), nil},
		{nil, nil, intp(2)},
		{&p, nil, intp(2)},
	} {
		_, err := FromColumns(bad.price, bad.q1, bad.q2)
		assert.ErrorIs(t, err, ErrInvalidVariant)
	}
}

func TestDealRoundTripsThroughColumns(t *testing.T) {
	for _, v := range []Variant{
		FlatNewPrice{NewPrice: dec("1.99")},
		TakeNPayM{Take: 5, Pay: 3},
		BulkFlatPrice{Take: 6, NewPrice: dec("10")},
	} {
		got, err := DealOf(v).Variant()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
