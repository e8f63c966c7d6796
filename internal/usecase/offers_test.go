package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, 10, 0)

	assert.NoError(t, f.offers.ValidateOffer(ctx, p.ID, nil, discount.TakeNPayM{Take: 3, Pay: 2}))
	assert.ErrorIs(t, f.offers.ValidateOffer(ctx, p.ID, nil, discount.FlatNewPrice{NewPrice: decimal.NewFromInt(10)}), domain.ErrInvalidVariant)

	base := decimal.NewFromInt(20)
	assert.NoError(t, f.offers.ValidateOffer(ctx, p.ID, &base, discount.FlatNewPrice{NewPrice: decimal.NewFromInt(15)}))
	assert.ErrorIs(t, f.offers.ValidateOffer(ctx, 4242, nil, discount.TakeNPayM{Take: 3, Pay: 2}), domain.ErrNotFound)
}

func TestCreateOffer_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, 10, 0)
	from := testNow
	before := testNow.Add(-time.Hour)

	tests := []struct {
		name    string
		offer   domain.SpecialOffer
		wantErr error
	}{
		{
			name:    "no discount",
			offer:   domain.SpecialOffer{ProductID: p.ID, ValidFrom: from, Deal: discount.BulkFlatPrice{Take: 2, NewPrice: decimal.NewFromInt(20)}},
			wantErr: domain.ErrInvalidVariant,
		},
		{
			name:    "missing deal",
			offer:   domain.SpecialOffer{ProductID: p.ID, ValidFrom: from},
			wantErr: domain.ErrInvalidVariant,
		},
		{
			name:    "window ends before it starts",
			offer:   domain.SpecialOffer{ProductID: p.ID, ValidFrom: from, ValidUntil: &before, Deal: discount.TakeNPayM{Take: 2, Pay: 1}},
			wantErr: domain.ErrInvalidWindow,
		},
		{
			name:    "zero limit",
			offer:   domain.SpecialOffer{ProductID: p.ID, ValidFrom: from, LimitPerCustomer: limit(0), Deal: discount.TakeNPayM{Take: 2, Pay: 1}},
			wantErr: domain.ErrInvalidQuantity,
		},
		{
			name:    "unknown product",
			offer:   domain.SpecialOffer{ProductID: 777, ValidFrom: from, Deal: discount.TakeNPayM{Take: 2, Pay: 1}},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.offers.Create(ctx, tt.offer)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateOffer_Overlap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, 10, 0)
	until := day(20)
	first := f.offer(t, domain.SpecialOffer{ProductID: p.ID, ValidFrom: day(10), ValidUntil: &until, Deal: discount.TakeNPayM{Take: 2, Pay: 1}})

	_, err := f.offers.Create(ctx, domain.SpecialOffer{ProductID: p.ID, ValidFrom: day(19), Deal: discount.TakeNPayM{Take: 3, Pay: 2}})
	assert.ErrorIs(t, err, domain.ErrOverlappingOffer)

	second, err := f.offers.Create(ctx, domain.SpecialOffer{ProductID: p.ID, ValidFrom: day(20), Deal: discount.TakeNPayM{Take: 3, Pay: 2}})
	require.NoError(t, err)

	_, err = f.offers.SetWindow(ctx, first.ID, day(10), nil)
	assert.ErrorIs(t, err, domain.ErrOverlappingOffer)

	stored, ok := f.store.Offer(first.ID)
	require.True(t, ok)
	require.NotNil(t, stored.ValidUntil)
	assert.Equal(t, until, *stored.ValidUntil)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpdateOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 10, 10)
	o := f.offer(t, domain.SpecialOffer{ProductID: p.ID, LimitPerCustomer: limit(3), Deal: discount.FlatNewPrice{NewPrice: decimal.NewFromInt(9)}})

	f.store.AddToCart(c.ID, p.ID, 3)
	_, err := f.checkout.Checkout(ctx, c.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.Usage(c.ID, o.ID))

	updated, err := f.offers.SetLimit(ctx, o.ID, limit(1))
	require.NoError(t, err)
	assert.Equal(t, 1, *updated.LimitPerCustomer)
	assert.Equal(t, 3, f.store.Usage(c.ID, o.ID), "lowering the limit keeps spent usage")

	updated, err = f.offers.SetLimit(ctx, o.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.LimitPerCustomer)

	updated, err = f.offers.SetMembersOnly(ctx, o.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.MembersOnly)

	_, err = f.offers.SetDeal(ctx, o.ID, discount.FlatNewPrice{NewPrice: decimal.NewFromInt(11)})
	assert.ErrorIs(t, err, domain.ErrInvalidVariant)
	_, err = f.offers.SetDeal(ctx, o.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidVariant)

	updated, err = f.offers.SetDeal(ctx, o.ID, discount.BulkFlatPrice{Take: 3, NewPrice: decimal.NewFromInt(25)})
	require.NoError(t, err)
	assert.Equal(t, discount.KindBulkFlatPrice, updated.Deal.Kind())

	_, err = f.offers.SetLimit(ctx, 9999, limit(2))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, 10, 10)
	o := f.offer(t, domain.SpecialOffer{ProductID: p.ID, Deal: discount.TakeNPayM{Take: 2, Pay: 1}})

	require.NoError(t, f.offers.Delete(ctx, o.ID))
	_, ok := f.store.Offer(o.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, f.offers.Delete(ctx, o.ID), domain.ErrNotFound)
}
