package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/repository/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(store *memstore.Store) *app {
	return &app{
		logger: zap.NewNop(),
		open: func(ctx context.Context) (repository.Store, func(), error) {
			return store, func() {}, nil
		},
		now: func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) },
	}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRestockThenSweep(t *testing.T) {
	store := memstore.New()
	p := store.PutProduct(domain.Product{Price: decimal.NewFromInt(2), Visible: true, Stock: 1})
	a := newTestApp(store)

	out, err := execute(t, a, "restock", id(p.ID), "4", "--expiry", "2026-03-10")
	require.NoError(t, err)
	var restock struct {
		Stock int `json:"stock"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &restock))
	assert.Equal(t, 5, restock.Stock)

	out, err = execute(t, a, "sweep")
	require.NoError(t, err)
	var sweep struct {
		Expired map[int64]int `json:"expired"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sweep))
	assert.Equal(t, map[int64]int{p.ID: 4}, sweep.Expired)

	_, err = execute(t, a, "restock", id(p.ID), "0")
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = execute(t, a, "sweep", "--now", "yesterday")
	assert.Error(t, err)
}

func TestCheckoutCommand(t *testing.T) {
	store := memstore.New()
	c := store.PutCustomer(domain.Customer{})
	p := store.PutProduct(domain.Product{Price: decimal.NewFromInt(4), Visible: true, Stock: 3})
	store.AddToCart(c.ID, p.ID, 2)
	a := newTestApp(store)

	_, err := execute(t, a, "checkout", "abc")
	assert.Error(t, err)

	out, err := execute(t, a, "checkout", id(c.ID))
	require.NoError(t, err)
	var orders []domain.Order
	require.NoError(t, json.Unmarshal([]byte(out), &orders))
	require.Len(t, orders, 1)
	assert.True(t, decimal.NewFromInt(8).Equal(orders[0].PricePaid))

	store.AddToCart(c.ID, p.ID, 1)
	_, err = execute(t, a, "checkout", id(c.ID), "--expect-offer", "77")
	assert.ErrorIs(t, err, domain.ErrOfferLapsed)
}

func TestValidateOfferCommand(t *testing.T) {
	store := memstore.New()
	p := store.PutProduct(domain.Product{Price: decimal.NewFromInt(10), Visible: true})
	a := newTestApp(store)

	out, err := execute(t, a, "validate-offer", id(p.ID), "--take", "3", "--pay", "2")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	_, err = execute(t, a, "validate-offer", id(p.ID), "--new-price", "10")
	assert.ErrorIs(t, err, domain.ErrInvalidVariant)

	_, err = execute(t, a, "validate-offer", id(p.ID), "--new-price", "10", "--base-price", "12")
	assert.NoError(t, err)

	_, err = execute(t, a, "validate-offer", id(p.ID), "--pay", "2")
	assert.ErrorIs(t, err, domain.ErrInvalidVariant)
}

func id(v int64) string { return strconv.FormatInt(v, 10) }
