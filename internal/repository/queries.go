package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// sweepLockKey identifies the transaction-scoped advisory lock held by the
// expiry sweep.
const sweepLockKey int64 = 0x5357454550

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func notFound(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const drainCart = `
DELETE FROM shopping_cart_items
WHERE customer = $1
RETURNING customer, COALESCE(product, 0), units`

func (q *Queries) DrainCart(ctx context.Context, customerID int64) ([]domain.CartLine, error) {
	rows, err := q.db.Query(ctx, drainCart, customerID)
	if err != nil {
		return nil, fmt.Errorf("drain cart: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartLine, error) {
		var l domain.CartLine
		err := row.Scan(&l.CustomerID, &l.ProductID, &l.Units)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("drain cart: %w", err)
	}
	return lines, nil
}

const getProducts = `
SELECT id, price, visible, stock
FROM products
WHERE id = ANY($1)`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Price, &p.Visible, &p.Stock)
	return p, err
}

func (q *Queries) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	rows, err := q.db.Query(ctx, getProducts, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	out := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

const getProduct = `
SELECT id, price, visible, stock
FROM products
WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx, getProduct, id))
	if err != nil {
		return domain.Product{}, notFound(err, domain.ErrNotFound)
	}
	return p, nil
}

const getCustomer = `
SELECT id, is_member
FROM customers
WHERE id = $1`

func (q *Queries) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	var c domain.Customer
	if err := q.db.QueryRow(ctx, getCustomer, id).Scan(&c.ID, &c.IsMember); err != nil {
		return domain.Customer{}, notFound(err, domain.ErrNotFound)
	}
	return c, nil
}

const offerColumns = `id, product, valid_from, valid_until, members_only, limit_per_customer, new_price, quantity1, quantity2`

func scanOffer(row pgx.Row) (domain.SpecialOffer, error) {
	var (
		o        domain.SpecialOffer
		newPrice decimal.NullDecimal
		q1, q2   *int
	)
	err := row.Scan(&o.ID, &o.ProductID, &o.ValidFrom, &o.ValidUntil, &o.MembersOnly, &o.LimitPerCustomer, &newPrice, &q1, &q2)
	if err != nil {
		return domain.SpecialOffer{}, err
	}
	var np *decimal.Decimal
	if newPrice.Valid {
		np = &newPrice.Decimal
	}
	deal, err := discount.FromColumns(np, q1, q2)
	if err != nil {
		return domain.SpecialOffer{}, fmt.Errorf("offer %d: %w", o.ID, err)
	}
	o.Deal = deal
	return o, nil
}

const activeOffer = `
SELECT ` + offerColumns + `
FROM special_offers
WHERE product = $1
  AND valid_from <= $2
  AND (valid_until IS NULL OR valid_until > $2)
ORDER BY valid_from DESC
LIMIT 1`

// ActiveOffer returns the offer of productID whose window contains at, or
// nil when there is none.
func (q *Queries) ActiveOffer(ctx context.Context, productID int64, at time.Time) (*domain.SpecialOffer, error) {
	o, err := scanOffer(q.db.QueryRow(ctx, activeOffer, productID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active offer for product %d: %w", productID, err)
	}
	return &o, nil
}

const getOffer = `
SELECT ` + offerColumns + `
FROM special_offers
WHERE id = $1
FOR UPDATE`

func (q *Queries) GetOffer(ctx context.Context, id int64) (domain.SpecialOffer, error) {
	o, err := scanOffer(q.db.QueryRow(ctx, getOffer, id))
	if err != nil {
		return domain.SpecialOffer{}, notFound(err, domain.ErrNotFound)
	}
	return o, nil
}

func offerWriteError(err error) error {
	switch pgCode(err) {
	case pgExclusionViolation:
		return domain.ErrOverlappingOffer
	case pgForeignKeyViolation:
		return domain.ErrNotFound
	}
	return err
}

const insertOffer = `
INSERT INTO special_offers (product, valid_from, valid_until, members_only, limit_per_customer, new_price, quantity1, quantity2)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

func (q *Queries) InsertOffer(ctx context.Context, o domain.SpecialOffer) (domain.SpecialOffer, error) {
	newPrice, q1, q2 := discount.Columns(o.Deal)
	err := q.db.QueryRow(ctx, insertOffer,
		o.ProductID, o.ValidFrom, o.ValidUntil, o.MembersOnly, o.LimitPerCustomer, newPrice, q1, q2,
	).Scan(&o.ID)
	if err != nil {
		return domain.SpecialOffer{}, offerWriteError(err)
	}
	return o, nil
}

const updateOffer = `
UPDATE special_offers
SET valid_from = $2,
    valid_until = $3,
    members_only = $4,
    limit_per_customer = $5,
    new_price = $6,
    quantity1 = $7,
    quantity2 = $8
WHERE id = $1`

func (q *Queries) UpdateOffer(ctx context.Context, o domain.SpecialOffer) error {
	newPrice, q1, q2 := discount.Columns(o.Deal)
	tag, err := q.db.Exec(ctx, updateOffer,
		o.ID, o.ValidFrom, o.ValidUntil, o.MembersOnly, o.LimitPerCustomer, newPrice, q1, q2,
	)
	if err != nil {
		return offerWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const deleteOffer = `DELETE FROM special_offers WHERE id = $1`

func (q *Queries) DeleteOffer(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, deleteOffer, id)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const ensureUsage = `
INSERT INTO offer_usage (customer, offer, used)
VALUES ($1, $2, 0)
ON CONFLICT (customer, offer) DO NOTHING`

const lockUsage = `
SELECT used
FROM offer_usage
WHERE customer = $1 AND offer = $2
FOR UPDATE`

// LockUsage returns how many promotion uses customerID has spent on offerID
// and holds the usage row until the transaction ends.
func (q *Queries) LockUsage(ctx context.Context, customerID, offerID int64) (int, error) {
	if _, err := q.db.Exec(ctx, ensureUsage, customerID, offerID); err != nil {
		return 0, fmt.Errorf("ensure usage row: %w", err)
	}
	var used int
	if err := q.db.QueryRow(ctx, lockUsage, customerID, offerID).Scan(&used); err != nil {
		return 0, fmt.Errorf("lock usage row: %w", err)
	}
	return used, nil
}

const addUsage = `
INSERT INTO offer_usage (customer, offer, used)
VALUES ($1, $2, $3)
ON CONFLICT (customer, offer) DO UPDATE SET used = offer_usage.used + EXCLUDED.used`

func (q *Queries) AddUsage(ctx context.Context, customerID, offerID int64, n int) error {
	if _, err := q.db.Exec(ctx, addUsage, customerID, offerID, n); err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

const decrementStock = `
UPDATE products
SET stock = stock - $2
WHERE id = $1 AND stock >= $2
RETURNING stock`

// DecrementStock takes units from the product's stock. It fails with
// ErrInsufficientStock instead of letting stock go negative.
func (q *Queries) DecrementStock(ctx context.Context, productID int64, units int) (int, error) {
	var stock int
	err := q.db.QueryRow(ctx, decrementStock, productID, units).Scan(&stock)
	if err != nil {
		return 0, notFound(err, fmt.Errorf("%w: product %d", domain.ErrInsufficientStock, productID))
	}
	return stock, nil
}

const incrementStock = `
UPDATE products
SET stock = stock + $2
WHERE id = $1
RETURNING stock`

func (q *Queries) IncrementStock(ctx context.Context, productID int64, units int) (int, error) {
	var stock int
	if err := q.db.QueryRow(ctx, incrementStock, productID, units).Scan(&stock); err != nil {
		return 0, notFound(err, domain.ErrNotFound)
	}
	return stock, nil
}

const floorDecrementStock = `
UPDATE products
SET stock = GREATEST(stock - $2, 0)
WHERE id = $1
RETURNING stock`

func (q *Queries) FloorDecrementStock(ctx context.Context, productID int64, units int) (int, error) {
	var stock int
	if err := q.db.QueryRow(ctx, floorDecrementStock, productID, units).Scan(&stock); err != nil {
		return 0, notFound(err, domain.ErrNotFound)
	}
	return stock, nil
}

const batchColumns = `id, product, expiry, units, processed`

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var b domain.Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.Expiry, &b.Units, &b.Processed)
	b.Expiry = domain.Date(b.Expiry)
	return b, err
}

func collectBatches(rows pgx.Rows) ([]domain.Batch, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Batch, error) {
		return scanBatch(row)
	})
}

const pendingBatches = `
SELECT ` + batchColumns + `
FROM stock_batches
WHERE product = $1 AND NOT processed
ORDER BY expiry, id
FOR UPDATE`

func (q *Queries) PendingBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	rows, err := q.db.Query(ctx, pendingBatches, productID)
	if err != nil {
		return nil, fmt.Errorf("pending batches: %w", err)
	}
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, fmt.Errorf("pending batches: %w", err)
	}
	return batches, nil
}

const addBatch = `
INSERT INTO stock_batches (product, expiry, units)
VALUES ($1, $2, $3)
ON CONFLICT (product, expiry) WHERE NOT processed
DO UPDATE SET units = stock_batches.units + EXCLUDED.units
RETURNING ` + batchColumns

// AddBatch records units expiring on expiry, merging into the pending batch
// of the same date when one exists.
func (q *Queries) AddBatch(ctx context.Context, productID int64, expiry time.Time, units int) (domain.Batch, error) {
	b, err := scanBatch(q.db.QueryRow(ctx, addBatch, productID, domain.Date(expiry), units))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return domain.Batch{}, domain.ErrNotFound
		}
		return domain.Batch{}, fmt.Errorf("add batch: %w", err)
	}
	return b, nil
}

const updateBatchUnits = `UPDATE stock_batches SET units = $2 WHERE id = $1`

func (q *Queries) UpdateBatchUnits(ctx context.Context, batchID int64, units int) error {
	if _, err := q.db.Exec(ctx, updateBatchUnits, batchID, units); err != nil {
		return fmt.Errorf("update batch %d: %w", batchID, err)
	}
	return nil
}

const deleteBatch = `DELETE FROM stock_batches WHERE id = $1`

func (q *Queries) DeleteBatch(ctx context.Context, batchID int64) error {
	if _, err := q.db.Exec(ctx, deleteBatch, batchID); err != nil {
		return fmt.Errorf("delete batch %d: %w", batchID, err)
	}
	return nil
}

const acquireSweepLock = `SELECT pg_advisory_xact_lock($1)`

// AcquireSweepLock blocks until no other sweep holds the lock. The lock is
// released when the transaction ends.
func (q *Queries) AcquireSweepLock(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, acquireSweepLock, sweepLockKey); err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	return nil
}

const lockExpiringProducts = `
SELECT id
FROM products
WHERE id IN (
    SELECT product FROM stock_batches
    WHERE NOT processed AND expiry < $1
)
ORDER BY id
FOR UPDATE`

// LockExpiringProducts locks, in ascending id order, the products that own
// a pending batch elapsed at now. Checkout locks the product row before its
// batches, so the sweep must do the same.
func (q *Queries) LockExpiringProducts(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := q.db.Query(ctx, lockExpiringProducts, domain.Date(now))
	if err != nil {
		return nil, fmt.Errorf("lock expiring products: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("lock expiring products: %w", err)
	}
	return ids, nil
}

const expireBatches = `
UPDATE stock_batches
SET processed = TRUE
WHERE NOT processed AND expiry < $1 AND product = ANY($2)
RETURNING ` + batchColumns

// ExpireBatches marks the elapsed pending batches of productIDs processed.
func (q *Queries) ExpireBatches(ctx context.Context, now time.Time, productIDs []int64) ([]domain.Batch, error) {
	rows, err := q.db.Query(ctx, expireBatches, domain.Date(now), productIDs)
	if err != nil {
		return nil, fmt.Errorf("expire batches: %w", err)
	}
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, fmt.Errorf("expire batches: %w", err)
	}
	return batches, nil
}

const insertOrder = `
INSERT INTO orders (checkout_id, customer, product, units, price_paid, promotion_applied, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

func (q *Queries) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	err := q.db.QueryRow(ctx, insertOrder,
		o.CheckoutID, o.CustomerID, o.ProductID, o.Units, o.PricePaid, o.PromotionApplied, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

const listOrders = `
SELECT id, checkout_id, customer, product, units, price_paid, promotion_applied, created_at
FROM orders
WHERE customer = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListOrders(ctx context.Context, customerID int64, limit, offset int) ([]domain.Order, error) {
	rows, err := q.db.Query(ctx, listOrders, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var o domain.Order
		err := row.Scan(&o.ID, &o.CheckoutID, &o.CustomerID, &o.ProductID, &o.Units, &o.PricePaid, &o.PromotionApplied, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Re-parenting is serialized per table so that two concurrent moves, each
// acyclic on its own, cannot close a cycle together.
const lockCategories = `LOCK TABLE categories IN SHARE ROW EXCLUSIVE MODE`

const setCategoryParent = `UPDATE categories SET parent = $2 WHERE id = $1`

func (q *Queries) SetCategoryParent(ctx context.Context, id int64, parent *int64) error {
	if _, err := q.db.Exec(ctx, lockCategories); err != nil {
		return fmt.Errorf("lock categories: %w", err)
	}
	tag, err := q.db.Exec(ctx, setCategoryParent, id, parent)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return domain.ErrNodeNotFound
		}
		return fmt.Errorf("set category parent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNodeNotFound
	}
	return nil
}

const listCategories = `SELECT id, parent, name FROM categories ORDER BY id`

func (q *Queries) Categories(ctx context.Context) ([]domain.Category, error) {
	rows, err := q.db.Query(ctx, listCategories)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Category, error) {
		var c domain.Category
		err := row.Scan(&c.ID, &c.Parent, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

const lockComments = `LOCK TABLE comments IN SHARE ROW EXCLUSIVE MODE`

const setCommentParent = `UPDATE comments SET parent = $2 WHERE id = $1`

func (q *Queries) SetCommentParent(ctx context.Context, id int64, parent *int64) error {
	if _, err := q.db.Exec(ctx, lockComments); err != nil {
		return fmt.Errorf("lock comments: %w", err)
	}
	tag, err := q.db.Exec(ctx, setCommentParent, id, parent)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return domain.ErrNodeNotFound
		}
		return fmt.Errorf("set comment parent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNodeNotFound
	}
	return nil
}

const getComment = `SELECT id, parent, thread FROM comments WHERE id = $1`

func (q *Queries) GetComment(ctx context.Context, id int64) (domain.Comment, error) {
	var c domain.Comment
	if err := q.db.QueryRow(ctx, getComment, id).Scan(&c.ID, &c.Parent, &c.Thread); err != nil {
		return domain.Comment{}, notFound(err, domain.ErrNodeNotFound)
	}
	return c, nil
}

const threadComments = `SELECT id, parent, thread FROM comments WHERE thread = $1 ORDER BY id`

func (q *Queries) ThreadComments(ctx context.Context, thread int64) ([]domain.Comment, error) {
	rows, err := q.db.Query(ctx, threadComments, thread)
	if err != nil {
		return nil, fmt.Errorf("thread comments: %w", err)
	}
	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Comment, error) {
		var c domain.Comment
		err := row.Scan(&c.ID, &c.Parent, &c.Thread)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("thread comments: %w", err)
	}
	return comments, nil
}
