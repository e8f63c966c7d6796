// Package memstore is an in-process implementation of repository.Store.
// Transactions roll back through an undo log, so a failed ExecTx leaves no
// trace.
//
// Every transaction runs under one store-wide mutex. Checkouts on disjoint
// products therefore run one after another, not in parallel as they do on
// Postgres; the store suits tests and single-node development, not load.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/ledger"
	"github.com/azizikri/offer-checkout/internal/repository"
)

type usageKey struct {
	customer int64
	offer    int64
}

type Store struct {
	mu sync.RWMutex

	products   map[int64]domain.Product
	customers  map[int64]domain.Customer
	offers     map[int64]domain.SpecialOffer
	usage      map[usageKey]int
	cart       []domain.CartLine
	batches    map[int64][]domain.Batch
	orders     []domain.Order
	categories map[int64]domain.Category
	comments   map[int64]domain.Comment

	seq int64
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:   make(map[int64]domain.Product),
		customers:  make(map[int64]domain.Customer),
		offers:     make(map[int64]domain.SpecialOffer),
		usage:      make(map[usageKey]int),
		batches:    make(map[int64][]domain.Batch),
		categories: make(map[int64]domain.Category),
		comments:   make(map[int64]domain.Comment),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

// ListOrders pages through the customer's orders, newest first. A limit of
// zero returns every order from offset on.
func (s *Store) ListOrders(ctx context.Context, customerID int64, limit, offset int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Seeding and inspection helpers used by tests and the development server.

func (s *Store) PutProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.products[p.ID] = p
	return p
}

// DeleteProduct removes a product the way the catalog schema cascades:
// offers and batches go, cart lines and orders lose the reference.
func (s *Store) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	delete(s.batches, id)
	for oid, o := range s.offers {
		if o.ProductID == id {
			delete(s.offers, oid)
		}
	}
	for i := range s.cart {
		if s.cart[i].ProductID == id {
			s.cart[i].ProductID = 0
		}
	}
	for i := range s.orders {
		if p := s.orders[i].ProductID; p != nil && *p == id {
			s.orders[i].ProductID = nil
		}
	}
}

func (s *Store) PutCustomer(c domain.Customer) domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	s.customers[c.ID] = c
	return c
}

func (s *Store) AddToCart(customerID, productID int64, units int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = append(s.cart, domain.CartLine{CustomerID: customerID, ProductID: productID, Units: units})
}

func (s *Store) Cart(customerID int64) []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CartLine
	for _, l := range s.cart {
		if l.CustomerID == customerID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) PutCategory(c domain.Category) domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	s.categories[c.ID] = c
	return c
}

func (s *Store) PutComment(c domain.Comment) domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	s.comments[c.ID] = c
	return c
}

func (s *Store) Usage(customerID, offerID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[usageKey{customerID, offerID}]
}

// Batches returns every batch of productID, processed ones included.
func (s *Store) Batches(productID int64) []domain.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.batches[productID])
	ledger.SortFIFO(out)
	return out
}

func (s *Store) PutBatch(b domain.Batch) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.nextID()
	}
	b.Expiry = domain.Date(b.Expiry)
	s.batches[b.ProductID] = append(s.batches[b.ProductID], b)
	return b
}

func (s *Store) Offer(id int64) (domain.SpecialOffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	return o, ok
}

func (s *Store) Category(id int64) (domain.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	return c, ok
}

func (s *Store) Comment(id int64) (domain.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	return c, ok
}

// tx implements repository.Querier over the locked store. Every mutation
// pushes its inverse onto undo.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) DrainCart(ctx context.Context, customerID int64) ([]domain.CartLine, error) {
	prev := t.s.cart
	var kept, drained []domain.CartLine
	for _, l := range prev {
		if l.CustomerID == customerID {
			drained = append(drained, l)
			continue
		}
		kept = append(kept, l)
	}
	t.s.cart = kept
	t.record(func() { t.s.cart = prev })
	return drained, nil
}

func (t *tx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *tx) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *tx) ActiveOffer(ctx context.Context, productID int64, at time.Time) (*domain.SpecialOffer, error) {
	var found *domain.SpecialOffer
	for _, o := range t.s.offers {
		if o.ProductID != productID || !o.ActiveAt(at) {
			continue
		}
		if found == nil || o.ValidFrom.After(found.ValidFrom) {
			found = &o
		}
	}
	return found, nil
}

func (t *tx) GetOffer(ctx context.Context, id int64) (domain.SpecialOffer, error) {
	o, ok := t.s.offers[id]
	if !ok {
		return domain.SpecialOffer{}, domain.ErrNotFound
	}
	return o, nil
}

func (t *tx) checkOffer(o domain.SpecialOffer) error {
	if _, ok := t.s.products[o.ProductID]; !ok {
		return domain.ErrNotFound
	}
	for id, other := range t.s.offers {
		if id != o.ID && other.ProductID == o.ProductID && other.Overlaps(o) {
			return domain.ErrOverlappingOffer
		}
	}
	return nil
}

func (t *tx) InsertOffer(ctx context.Context, o domain.SpecialOffer) (domain.SpecialOffer, error) {
	if err := t.checkOffer(o); err != nil {
		return domain.SpecialOffer{}, err
	}
	o.ID = t.s.nextID()
	t.s.offers[o.ID] = o
	t.record(func() { delete(t.s.offers, o.ID) })
	return o, nil
}

func (t *tx) UpdateOffer(ctx context.Context, o domain.SpecialOffer) error {
	prev, ok := t.s.offers[o.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := t.checkOffer(o); err != nil {
		return err
	}
	t.s.offers[o.ID] = o
	t.record(func() { t.s.offers[o.ID] = prev })
	return nil
}

func (t *tx) DeleteOffer(ctx context.Context, id int64) error {
	prev, ok := t.s.offers[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(t.s.offers, id)
	usage := make(map[usageKey]int)
	for k, n := range t.s.usage {
		if k.offer == id {
			usage[k] = n
			delete(t.s.usage, k)
		}
	}
	t.record(func() {
		t.s.offers[id] = prev
		for k, n := range usage {
			t.s.usage[k] = n
		}
	})
	return nil
}

func (t *tx) LockUsage(ctx context.Context, customerID, offerID int64) (int, error) {
	return t.s.usage[usageKey{customerID, offerID}], nil
}

func (t *tx) AddUsage(ctx context.Context, customerID, offerID int64, n int) error {
	k := usageKey{customerID, offerID}
	prev, had := t.s.usage[k]
	t.s.usage[k] = prev + n
	t.record(func() {
		if had {
			t.s.usage[k] = prev
			return
		}
		delete(t.s.usage, k)
	})
	return nil
}

func (t *tx) setStock(productID int64, stock int) {
	p := t.s.products[productID]
	prev := p.Stock
	p.Stock = stock
	t.s.products[productID] = p
	t.record(func() {
		p := t.s.products[productID]
		p.Stock = prev
		t.s.products[productID] = p
	})
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, units int) (int, error) {
	p, ok := t.s.products[productID]
	if !ok || p.Stock < units {
		return 0, fmt.Errorf("%w: product %d", domain.ErrInsufficientStock, productID)
	}
	t.setStock(productID, p.Stock-units)
	return p.Stock - units, nil
}

func (t *tx) IncrementStock(ctx context.Context, productID int64, units int) (int, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	t.setStock(productID, p.Stock+units)
	return p.Stock + units, nil
}

func (t *tx) FloorDecrementStock(ctx context.Context, productID int64, units int) (int, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	stock := ledger.FloorSub(p.Stock, units)
	t.setStock(productID, stock)
	return stock, nil
}

func (t *tx) setBatches(productID int64, batches []domain.Batch) {
	prev := t.s.batches[productID]
	t.s.batches[productID] = batches
	t.record(func() { t.s.batches[productID] = prev })
}

func (t *tx) PendingBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	var out []domain.Batch
	for _, b := range t.s.batches[productID] {
		if !b.Processed {
			out = append(out, b)
		}
	}
	ledger.SortFIFO(out)
	return out, nil
}

func (t *tx) AddBatch(ctx context.Context, productID int64, expiry time.Time, units int) (domain.Batch, error) {
	if _, ok := t.s.products[productID]; !ok {
		return domain.Batch{}, domain.ErrNotFound
	}
	id := t.s.seq + 1
	merged, b := ledger.Merge(slices.Clone(t.s.batches[productID]), productID, expiry, units, id)
	if b.ID == id {
		t.s.nextID()
	}
	t.setBatches(productID, merged)
	return b, nil
}

// applyPlan applies a depletion step to the product that owns batchID.
func (t *tx) applyPlan(batchID int64, plan func(domain.Batch) ledger.Plan) {
	for pid, bs := range t.s.batches {
		for _, b := range bs {
			if b.ID == batchID {
				t.setBatches(pid, ledger.Apply(bs, plan(b)))
				return
			}
		}
	}
}

func (t *tx) UpdateBatchUnits(ctx context.Context, batchID int64, units int) error {
	t.applyPlan(batchID, func(b domain.Batch) ledger.Plan {
		b.Units = units
		return ledger.Plan{Updated: []domain.Batch{b}}
	})
	return nil
}

func (t *tx) DeleteBatch(ctx context.Context, batchID int64) error {
	t.applyPlan(batchID, func(b domain.Batch) ledger.Plan {
		return ledger.Plan{Deleted: []int64{b.ID}}
	})
	return nil
}

// AcquireSweepLock is satisfied by the store-wide transaction lock.
func (t *tx) AcquireSweepLock(ctx context.Context) error {
	return nil
}

func (t *tx) LockExpiringProducts(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for pid, bs := range t.s.batches {
		if _, ok := t.s.products[pid]; !ok {
			continue
		}
		if slices.ContainsFunc(bs, func(b domain.Batch) bool { return !b.Processed && domain.Elapsed(b.Expiry, now) }) {
			ids = append(ids, pid)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) ExpireBatches(ctx context.Context, now time.Time, productIDs []int64) ([]domain.Batch, error) {
	var expired []domain.Batch
	for _, pid := range productIDs {
		next := slices.Clone(t.s.batches[pid])
		marked := ledger.Expire(next, now)
		if len(marked) == 0 {
			continue
		}
		t.setBatches(pid, next)
		expired = append(expired, marked...)
	}
	ledger.SortFIFO(expired)
	return expired, nil
}

func (t *tx) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if _, ok := t.s.customers[o.CustomerID]; !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	o.ID = t.s.nextID()
	prev := t.s.orders
	t.s.orders = append(slices.Clone(prev), o)
	t.record(func() { t.s.orders = prev })
	return o, nil
}

func (t *tx) SetCategoryParent(ctx context.Context, id int64, parent *int64) error {
	prev, ok := t.s.categories[id]
	if !ok {
		return domain.ErrNodeNotFound
	}
	if parent != nil {
		if _, ok := t.s.categories[*parent]; !ok {
			return domain.ErrNodeNotFound
		}
	}
	next := prev
	next.Parent = parent
	t.s.categories[id] = next
	t.record(func() { t.s.categories[id] = prev })
	return nil
}

func (t *tx) Categories(ctx context.Context) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(t.s.categories))
	for _, c := range t.s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) SetCommentParent(ctx context.Context, id int64, parent *int64) error {
	prev, ok := t.s.comments[id]
	if !ok {
		return domain.ErrNodeNotFound
	}
	if parent != nil {
		if _, ok := t.s.comments[*parent]; !ok {
			return domain.ErrNodeNotFound
		}
	}
	next := prev
	next.Parent = parent
	t.s.comments[id] = next
	t.record(func() { t.s.comments[id] = prev })
	return nil
}

func (t *tx) GetComment(ctx context.Context, id int64) (domain.Comment, error) {
	c, ok := t.s.comments[id]
	if !ok {
		return domain.Comment{}, domain.ErrNodeNotFound
	}
	return c, nil
}

func (t *tx) ThreadComments(ctx context.Context, thread int64) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, c := range t.s.comments {
		if c.Thread == thread {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Comment) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
