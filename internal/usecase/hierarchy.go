package usecase

import (
	"context"
	"fmt"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/treeguard"
	"go.uber.org/zap"
)

// HierarchyService keeps the category tree and comment threads acyclic.
// Every re-parent is checked against the resulting state inside the same
// transaction and rolled back when it would close a loop.
type HierarchyService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewHierarchyService(store repository.Store, logger *zap.Logger) *HierarchyService {
	return &HierarchyService{store: store, logger: logger}
}

func categoryHierarchy(cats []domain.Category) *treeguard.Hierarchy[int64] {
	nodes := make([]treeguard.Node[int64], len(cats))
	for i, c := range cats {
		nodes[i] = treeguard.Node[int64]{ID: c.ID, Parent: c.Parent}
	}
	return treeguard.New(nodes)
}

func checkCategory(ctx context.Context, q repository.Querier, id int64) error {
	cats, err := q.Categories(ctx)
	if err != nil {
		return err
	}
	_, err = categoryHierarchy(cats).PathToRoot(id)
	return err
}

// ValidateCategory reports whether the category reaches a root without
// revisiting a node.
func (s *HierarchyService) ValidateCategory(ctx context.Context, id int64) error {
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		return checkCategory(ctx, q, id)
	})
}

func (s *HierarchyService) ReparentCategory(ctx context.Context, id int64, parent *int64) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := q.SetCategoryParent(ctx, id, parent); err != nil {
			return fmt.Errorf("category %d: %w", id, err)
		}
		return checkCategory(ctx, q, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("category moved", zap.Int64("category_id", id), zap.Int64p("parent_id", parent))
	return nil
}

// CategoryForest renders the category hierarchy as trees sorted by name.
func (s *HierarchyService) CategoryForest(ctx context.Context) ([]treeguard.Tree[int64], error) {
	var forest []treeguard.Tree[int64]
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		cats, err := q.Categories(ctx)
		if err != nil {
			return err
		}
		if err := categoryHierarchy(cats).Validate(); err != nil {
			return err
		}
		labeled := make([]treeguard.Labeled[int64], len(cats))
		for i, c := range cats {
			labeled[i] = treeguard.Labeled[int64]{
				Node: treeguard.Node[int64]{ID: c.ID, Parent: c.Parent},
				Name: c.Name,
			}
		}
		forest = treeguard.Forest(labeled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return forest, nil
}

// checkComment walks the thread of comment id. Parents outside the thread
// are loaded so that they surface as ErrThreadMismatch.
func checkComment(ctx context.Context, q repository.Querier, id int64) error {
	c, err := q.GetComment(ctx, id)
	if err != nil {
		return fmt.Errorf("comment %d: %w", id, err)
	}
	thread, err := q.ThreadComments(ctx, c.Thread)
	if err != nil {
		return err
	}

	threadOf := make(map[int64]int64, len(thread))
	for _, n := range thread {
		threadOf[n.ID] = n.Thread
	}
	nodes := make([]treeguard.Node[int64], 0, len(thread))
	for _, n := range thread {
		nodes = append(nodes, treeguard.Node[int64]{ID: n.ID, Parent: n.Parent})
	}
	for _, n := range thread {
		if n.Parent == nil {
			continue
		}
		if _, ok := threadOf[*n.Parent]; ok {
			continue
		}
		outside, err := q.GetComment(ctx, *n.Parent)
		if err != nil {
			return fmt.Errorf("parent of comment %d: %w", n.ID, err)
		}
		threadOf[outside.ID] = outside.Thread
		nodes = append(nodes, treeguard.Node[int64]{ID: outside.ID, Parent: outside.Parent})
	}

	h := treeguard.New(nodes)
	if err := treeguard.CheckThread(h, threadOf); err != nil {
		return err
	}
	_, err = h.PathToRoot(id)
	return err
}

func (s *HierarchyService) ValidateComment(ctx context.Context, id int64) error {
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		return checkComment(ctx, q, id)
	})
}

func (s *HierarchyService) ReparentComment(ctx context.Context, id int64, parent *int64) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := q.SetCommentParent(ctx, id, parent); err != nil {
			return fmt.Errorf("comment %d: %w", id, err)
		}
		return checkComment(ctx, q, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("comment moved", zap.Int64("comment_id", id), zap.Int64p("parent_id", parent))
	return nil
}
