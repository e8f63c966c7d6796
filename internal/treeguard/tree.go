// Package treeguard validates parent-pointer hierarchies such as product
// categories and comment threads.
package treeguard

import (
	"errors"
	"fmt"
)

var (
	ErrCycleDetected  = errors.New("hierarchy contains a cycle")
	ErrNodeNotFound   = errors.New("hierarchy node not found")
	ErrThreadMismatch = errors.New("node belongs to a different thread than its parent")
)

// Node is any element with an identity and an optional parent.
type Node[ID comparable] struct {
	ID     ID
	Parent *ID
}

// Hierarchy indexes a set of nodes into an arena so walks run over slice
// indices instead of repeated map lookups.
type Hierarchy[ID comparable] struct {
	ids    []ID
	parent []int
	index  map[ID]int
}

const noParent = -1

// missingParent marks a parent reference to a node outside the set.
const missingParent = -2

func New[ID comparable](nodes []Node[ID]) *Hierarchy[ID] {
	h := &Hierarchy[ID]{
		ids:    make([]ID, len(nodes)),
		parent: make([]int, len(nodes)),
		index:  make(map[ID]int, len(nodes)),
	}
	for i, n := range nodes {
		h.ids[i] = n.ID
		h.index[n.ID] = i
	}
	for i, n := range nodes {
		switch {
		case n.Parent == nil:
			h.parent[i] = noParent
		default:
			p, ok := h.index[*n.Parent]
			if !ok {
				p = missingParent
			}
			h.parent[i] = p
		}
	}
	return h
}

func (h *Hierarchy[ID]) Len() int { return len(h.ids) }

// PathToRoot returns the ancestors of id, root first and id itself last.
func (h *Hierarchy[ID]) PathToRoot(id ID) ([]ID, error) {
	i, ok := h.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotFound, id)
	}

	seen := make(map[int]struct{})
	var walk []int
	for i != noParent {
		if i == missingParent {
			return nil, fmt.Errorf("%w: parent of %v", ErrNodeNotFound, h.ids[walk[len(walk)-1]])
		}
		if _, dup := seen[i]; dup {
			return nil, fmt.Errorf("%w: %v repeats on the path from %v", ErrCycleDetected, h.ids[i], id)
		}
		seen[i] = struct{}{}
		walk = append(walk, i)
		i = h.parent[i]
	}

	path := make([]ID, len(walk))
	for k, idx := range walk {
		path[len(walk)-1-k] = h.ids[idx]
	}
	return path, nil
}

// Validate checks that no node of the hierarchy lies on a cycle.
func (h *Hierarchy[ID]) Validate() error {
	// 0 unvisited, 1 on current walk, 2 known to reach a root
	state := make([]uint8, len(h.ids))
	for start := range h.ids {
		var walk []int
		i := start
		for i >= 0 && state[i] == 0 {
			state[i] = 1
			walk = append(walk, i)
			i = h.parent[i]
		}
		if i == missingParent {
			return fmt.Errorf("%w: parent of %v", ErrNodeNotFound, h.ids[walk[len(walk)-1]])
		}
		if i >= 0 && state[i] == 1 {
			return fmt.Errorf("%w: through %v", ErrCycleDetected, h.ids[i])
		}
		for _, w := range walk {
			state[w] = 2
		}
	}
	return nil
}

// CheckThread verifies that every node carries the same thread as its parent.
func CheckThread[ID comparable, T comparable](h *Hierarchy[ID], threadOf map[ID]T) error {
	for i, p := range h.parent {
		if p < 0 {
			continue
		}
		child, parent := h.ids[i], h.ids[p]
		if threadOf[child] != threadOf[parent] {
			return fmt.Errorf("%w: %v (thread %v) under %v (thread %v)",
				ErrThreadMismatch, child, threadOf[child], parent, threadOf[parent])
		}
	}
	return nil
}
