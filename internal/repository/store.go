package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence boundary of the checkout engine. Every mutation
// runs through ExecTx; the remaining methods are single-statement reads.
type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListOrders(ctx context.Context, customerID int64, limit, offset int) ([]domain.Order, error)
}

// Querier is the set of operations available inside a transaction. Reads
// that precede a write on the same row take the row lock.
type Querier interface {
	DrainCart(ctx context.Context, customerID int64) ([]domain.CartLine, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	GetCustomer(ctx context.Context, id int64) (domain.Customer, error)

	ActiveOffer(ctx context.Context, productID int64, at time.Time) (*domain.SpecialOffer, error)
	GetOffer(ctx context.Context, id int64) (domain.SpecialOffer, error)
	InsertOffer(ctx context.Context, offer domain.SpecialOffer) (domain.SpecialOffer, error)
	UpdateOffer(ctx context.Context, offer domain.SpecialOffer) error
	DeleteOffer(ctx context.Context, id int64) error
	LockUsage(ctx context.Context, customerID, offerID int64) (int, error)
	AddUsage(ctx context.Context, customerID, offerID int64, n int) error

	DecrementStock(ctx context.Context, productID int64, units int) (int, error)
	IncrementStock(ctx context.Context, productID int64, units int) (int, error)
	FloorDecrementStock(ctx context.Context, productID int64, units int) (int, error)

	PendingBatches(ctx context.Context, productID int64) ([]domain.Batch, error)
	AddBatch(ctx context.Context, productID int64, expiry time.Time, units int) (domain.Batch, error)
	UpdateBatchUnits(ctx context.Context, batchID int64, units int) error
	DeleteBatch(ctx context.Context, batchID int64) error
	AcquireSweepLock(ctx context.Context) error
	LockExpiringProducts(ctx context.Context, now time.Time) ([]int64, error)
	ExpireBatches(ctx context.Context, now time.Time, productIDs []int64) ([]domain.Batch, error)

	InsertOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	SetCategoryParent(ctx context.Context, id int64, parent *int64) error
	Categories(ctx context.Context) ([]domain.Category, error)
	SetCommentParent(ctx context.Context, id int64, parent *int64) error
	GetComment(ctx context.Context, id int64) (domain.Comment, error)
	ThreadComments(ctx context.Context, thread int64) ([]domain.Comment, error)
}

type store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

func New(pool *pgxpool.Pool) Store {
	return &store{
		pool:    pool,
		queries: NewQueries(pool),
	}
}

// ExecTx runs fn in a READ COMMITTED transaction. Isolation of the rows a
// checkout touches comes from the explicit row locks the queries take, so
// two checkouts racing for the last unit see a deterministic winner rather
// than a serialization failure.
func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := s.queries.WithTx(tx)
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.queries.GetProduct(ctx, id)
}

func (s *store) ListOrders(ctx context.Context, customerID int64, limit, offset int) ([]domain.Order, error) {
	return s.queries.ListOrders(ctx, customerID, limit, offset)
}
