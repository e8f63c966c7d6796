package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/repository/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memstore.Store
	checkout  *CheckoutService
	stock     *StockService
	offers    *OfferService
	hierarchy *HierarchyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	logger := zap.NewNop()
	checkout := NewCheckoutService(store, logger)
	checkout.now = func() time.Time { return testNow }
	return &fixture{
		store:     store,
		checkout:  checkout,
		stock:     NewStockService(store, logger),
		offers:    NewOfferService(store, logger),
		hierarchy: NewHierarchyService(store, logger),
	}
}

func (f *fixture) product(t *testing.T, price int64, stock int) domain.Product {
	t.Helper()
	return f.store.PutProduct(domain.Product{Price: decimal.NewFromInt(price), Visible: true, Stock: stock})
}

func (f *fixture) offer(t *testing.T, o domain.SpecialOffer) domain.SpecialOffer {
	t.Helper()
	if o.ValidFrom.IsZero() {
		o.ValidFrom = testNow.Add(-24 * time.Hour)
	}
	created, err := f.offers.Create(context.Background(), o)
	require.NoError(t, err)
	return created
}

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func limit(n int) *int { return &n }

type snapshot struct {
	Products map[int64]domain.Product
	Cart     []domain.CartLine
	Batches  map[int64][]domain.Batch
	Orders   []domain.Order
	Usage    map[int64]int
}

func (f *fixture) snapshot(t *testing.T, customerID int64, productIDs []int64, offerIDs []int64) snapshot {
	t.Helper()
	s := snapshot{
		Products: make(map[int64]domain.Product),
		Cart:     f.store.Cart(customerID),
		Batches:  make(map[int64][]domain.Batch),
		Usage:    make(map[int64]int),
	}
	for _, id := range productIDs {
		p, err := f.store.GetProduct(context.Background(), id)
		require.NoError(t, err)
		s.Products[id] = p
		s.Batches[id] = f.store.Batches(id)
	}
	for _, id := range offerIDs {
		s.Usage[id] = f.store.Usage(customerID, id)
	}
	orders, err := f.store.ListOrders(context.Background(), customerID, 0, 0)
	require.NoError(t, err)
	s.Orders = orders
	return s
}

func TestCheckout_TakeThreePayTwo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 10, 20)
	f.store.PutBatch(domain.Batch{ProductID: p.ID, Expiry: day(20), Units: 5})
	f.store.PutBatch(domain.Batch{ProductID: p.ID, Expiry: day(18), Units: 4})
	o := f.offer(t, domain.SpecialOffer{
		ProductID:        p.ID,
		LimitPerCustomer: limit(5),
		Deal:             discount.TakeNPayM{Take: 3, Pay: 2},
	})
	f.store.AddToCart(c.ID, p.ID, 7)

	orders, err := f.checkout.Checkout(ctx, c.ID, []int64{o.ID})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(50)), "got %s", orders[0].PricePaid)
	assert.True(t, orders[0].PromotionApplied)
	assert.Equal(t, 7, orders[0].Units)
	assert.Equal(t, testNow, orders[0].CreatedAt)
	assert.Equal(t, 2, f.store.Usage(c.ID, o.ID))
	assert.Empty(t, f.store.Cart(c.ID))

	got, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 13, got.Stock)

	batches := f.store.Batches(p.ID)
	require.Len(t, batches, 1)
	assert.Equal(t, day(20), batches[0].Expiry)
	assert.Equal(t, 2, batches[0].Units)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})

	orders, err := f.checkout.Checkout(context.Background(), c.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_AllOrNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		arrange      func(f *fixture, customer int64, a, b domain.Product)
		expectLapsed bool
		wantErr      error
	}{
		{
			name: "second product short on stock",
			arrange: func(f *fixture, customer int64, a, b domain.Product) {
				f.store.AddToCart(customer, a.ID, 2)
				f.store.AddToCart(customer, b.ID, 4)
			},
			wantErr: domain.ErrInsufficientStock,
		},
		{
			name: "hidden product",
			arrange: func(f *fixture, customer int64, a, b domain.Product) {
				b.Visible = false
				f.store.PutProduct(b)
				f.store.AddToCart(customer, a.ID, 1)
				f.store.AddToCart(customer, b.ID, 1)
			},
			wantErr: domain.ErrUnavailableProduct,
		},
		{
			name: "offer shown to the customer has lapsed",
			arrange: func(f *fixture, customer int64, a, b domain.Product) {
				f.store.AddToCart(customer, a.ID, 1)
			},
			expectLapsed: true,
			wantErr:      domain.ErrOfferLapsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.store.PutCustomer(domain.Customer{})
			a := f.product(t, 10, 10)
			b := f.product(t, 4, 3)
			f.store.PutBatch(domain.Batch{ProductID: a.ID, Expiry: day(25), Units: 10})
			until := testNow.Add(-time.Hour)
			lapsed := f.offer(t, domain.SpecialOffer{
				ProductID:  a.ID,
				ValidUntil: &until,
				Deal:       discount.FlatNewPrice{NewPrice: decimal.NewFromInt(8)},
			})
			live := f.offer(t, domain.SpecialOffer{
				ProductID:        a.ID,
				ValidFrom:        until,
				LimitPerCustomer: limit(3),
				Deal:             discount.FlatNewPrice{NewPrice: decimal.NewFromInt(9)},
			})
			tt.arrange(f, c.ID, a, b)

			products := []int64{a.ID, b.ID}
			offers := []int64{lapsed.ID, live.ID}
			before := f.snapshot(t, c.ID, products, offers)

			var expected []int64
			if tt.expectLapsed {
				expected = []int64{lapsed.ID}
			}
			_, err := f.checkout.Checkout(ctx, c.ID, expected)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.snapshot(t, c.ID, products, offers))
		})
	}
}

// orderFailingStore lets the first ordersBeforeFailure orders of a
// transaction through and fails the next one, after every earlier step of
// the checkout has written.
type orderFailingStore struct {
	*memstore.Store
	ordersBeforeFailure int
	writes              []string
}

var errOrderWrite = errors.New("order log unavailable")

func (s *orderFailingStore) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	return s.Store.ExecTx(ctx, func(q repository.Querier) error {
		return fn(&orderFailingQuerier{Querier: q, store: s, left: s.ordersBeforeFailure})
	})
}

type orderFailingQuerier struct {
	repository.Querier
	store *orderFailingStore
	left  int
}

func (q *orderFailingQuerier) AddUsage(ctx context.Context, customerID, offerID int64, n int) error {
	q.store.writes = append(q.store.writes, "usage")
	return q.Querier.AddUsage(ctx, customerID, offerID, n)
}

func (q *orderFailingQuerier) DeleteBatch(ctx context.Context, batchID int64) error {
	q.store.writes = append(q.store.writes, "batch")
	return q.Querier.DeleteBatch(ctx, batchID)
}

func (q *orderFailingQuerier) UpdateBatchUnits(ctx context.Context, batchID int64, units int) error {
	q.store.writes = append(q.store.writes, "batch")
	return q.Querier.UpdateBatchUnits(ctx, batchID, units)
}

func (q *orderFailingQuerier) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if q.left == 0 {
		return domain.Order{}, errOrderWrite
	}
	q.left--
	q.store.writes = append(q.store.writes, "order")
	return q.Querier.InsertOrder(ctx, o)
}

func TestCheckout_FailedOrderWriteRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	failing := &orderFailingStore{Store: f.store, ordersBeforeFailure: 1}
	svc := NewCheckoutService(failing, zap.NewNop())
	svc.now = func() time.Time { return testNow }

	c := f.store.PutCustomer(domain.Customer{})
	a := f.product(t, 10, 10)
	b := f.product(t, 4, 5)
	f.store.PutBatch(domain.Batch{ProductID: a.ID, Expiry: day(20), Units: 2})
	f.store.PutBatch(domain.Batch{ProductID: a.ID, Expiry: day(25), Units: 6})
	f.store.PutBatch(domain.Batch{ProductID: b.ID, Expiry: day(22), Units: 5})
	o := f.offer(t, domain.SpecialOffer{
		ProductID:        a.ID,
		LimitPerCustomer: limit(2),
		Deal:             discount.TakeNPayM{Take: 2, Pay: 1},
	})
	f.store.AddToCart(c.ID, a.ID, 4)
	f.store.AddToCart(c.ID, b.ID, 2)

	products := []int64{a.ID, b.ID}
	before := f.snapshot(t, c.ID, products, []int64{o.ID})

	_, err := svc.Checkout(ctx, c.ID, []int64{o.ID})
	require.ErrorIs(t, err, errOrderWrite)

	assert.Contains(t, failing.writes, "batch")
	assert.Contains(t, failing.writes, "usage")
	assert.Contains(t, failing.writes, "order")
	assert.Equal(t, before, f.snapshot(t, c.ID, products, []int64{o.ID}))
	assert.Len(t, f.store.Cart(c.ID), 2)
	assert.Zero(t, f.store.Usage(c.ID, o.ID))
}

func TestCheckout_DeletedProductInCart(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 5, 5)
	f.store.AddToCart(c.ID, p.ID, 1)
	f.store.DeleteProduct(p.ID)

	_, err := f.checkout.Checkout(context.Background(), c.ID, nil)
	assert.ErrorIs(t, err, domain.ErrUnavailableProduct)
	assert.Len(t, f.store.Cart(c.ID), 1)
}

func TestCheckout_QuotaSharedAcrossLines(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 10, 20)
	o := f.offer(t, domain.SpecialOffer{
		ProductID:        p.ID,
		LimitPerCustomer: limit(1),
		Deal:             discount.TakeNPayM{Take: 3, Pay: 2},
	})
	f.store.AddToCart(c.ID, p.ID, 3)
	f.store.AddToCart(c.ID, p.ID, 3)

	orders, err := f.checkout.Checkout(context.Background(), c.ID, nil)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(20)))
	assert.True(t, orders[0].PromotionApplied)
	assert.True(t, orders[1].PricePaid.Equal(decimal.NewFromInt(30)))
	assert.False(t, orders[1].PromotionApplied)
	assert.Equal(t, orders[0].CheckoutID, orders[1].CheckoutID)
	assert.Equal(t, 1, f.store.Usage(c.ID, o.ID))
}

func TestCheckout_QuotaExhaustedAcrossCheckouts(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 10, 20)
	o := f.offer(t, domain.SpecialOffer{
		ProductID:        p.ID,
		LimitPerCustomer: limit(2),
		Deal:             discount.FlatNewPrice{NewPrice: decimal.NewFromInt(6)},
	})

	f.store.AddToCart(c.ID, p.ID, 3)
	orders, err := f.checkout.Checkout(context.Background(), c.ID, nil)
	require.NoError(t, err)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(22)), "got %s", orders[0].PricePaid)

	f.store.AddToCart(c.ID, p.ID, 3)
	orders, err = f.checkout.Checkout(context.Background(), c.ID, nil)
	require.NoError(t, err)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(30)))
	assert.False(t, orders[0].PromotionApplied)
	assert.Equal(t, 2, f.store.Usage(c.ID, o.ID))
}

func TestCheckout_MembersOnly(t *testing.T) {
	f := newFixture(t)
	guest := f.store.PutCustomer(domain.Customer{})
	member := f.store.PutCustomer(domain.Customer{IsMember: true})
	p := f.product(t, 10, 20)
	o := f.offer(t, domain.SpecialOffer{
		ProductID:   p.ID,
		MembersOnly: true,
		Deal:        discount.BulkFlatPrice{Take: 2, NewPrice: decimal.NewFromInt(15)},
	})

	f.store.AddToCart(guest.ID, p.ID, 4)
	orders, err := f.checkout.Checkout(context.Background(), guest.ID, nil)
	require.NoError(t, err)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(40)))
	assert.Zero(t, f.store.Usage(guest.ID, o.ID))

	f.store.AddToCart(member.ID, p.ID, 5)
	orders, err = f.checkout.Checkout(context.Background(), member.ID, nil)
	require.NoError(t, err)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(40)), "got %s", orders[0].PricePaid)
	assert.Equal(t, 2, f.store.Usage(member.ID, o.ID))
}

func TestCheckout_OfferThatNoLongerDiscountsIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 10, 20)
	o := f.offer(t, domain.SpecialOffer{
		ProductID: p.ID,
		Deal:      discount.FlatNewPrice{NewPrice: decimal.NewFromInt(8)},
	})
	p.Price = decimal.NewFromInt(7)
	f.store.PutProduct(p)
	f.store.AddToCart(c.ID, p.ID, 2)

	orders, err := f.checkout.Checkout(context.Background(), c.ID, nil)
	require.NoError(t, err)
	assert.True(t, orders[0].PricePaid.Equal(decimal.NewFromInt(14)))
	assert.False(t, orders[0].PromotionApplied)
	assert.Zero(t, f.store.Usage(c.ID, o.ID))

	f.store.AddToCart(c.ID, p.ID, 1)
	_, err = f.checkout.Checkout(context.Background(), c.ID, []int64{o.ID})
	assert.ErrorIs(t, err, domain.ErrOfferLapsed)
}

func TestCheckout_LastUnitHasOneWinner(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 10, 1)
	customers := make([]domain.Customer, 8)
	for i := range customers {
		customers[i] = f.store.PutCustomer(domain.Customer{})
		f.store.AddToCart(customers[i].ID, p.ID, 1)
	}

	errs := make([]error, len(customers))
	var g errgroup.Group
	for i, c := range customers {
		g.Go(func() error {
			_, errs[i] = f.checkout.Checkout(context.Background(), c.ID, nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 1, winners)

	got, err := f.store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)
}

func TestHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.store.PutCustomer(domain.Customer{})
	p := f.product(t, 2, 10)

	for i := range 3 {
		f.checkout.now = func() time.Time { return testNow.Add(time.Duration(i) * time.Minute) }
		f.store.AddToCart(c.ID, p.ID, i+1)
		_, err := f.checkout.Checkout(ctx, c.ID, nil)
		require.NoError(t, err)
	}

	orders, err := f.checkout.History(ctx, c.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 3, orders[0].Units)
	assert.Equal(t, 2, orders[1].Units)

	page, err := f.checkout.History(ctx, c.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].Units)

	past, err := f.checkout.History(ctx, c.ID, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, past)
}
