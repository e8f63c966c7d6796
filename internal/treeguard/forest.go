package treeguard

import (
	"cmp"
	"slices"
)

// Labeled is a node carrying a display name.
type Labeled[ID comparable] struct {
	Node[ID]
	Name string
}

// Tree is a node with its direct children.
type Tree[ID comparable] struct {
	ID       ID         `json:"id"`
	Name     string     `json:"name"`
	Children []Tree[ID] `json:"children"`
}

// Forest arranges nodes into trees, roots and each level sorted by name.
// The hierarchy must already be acyclic; nodes whose parent is absent are
// treated as roots.
func Forest[ID comparable](nodes []Labeled[ID]) []Tree[ID] {
	known := make(map[ID]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	byParent := make(map[ID][]Labeled[ID])
	var roots []Labeled[ID]
	for _, n := range nodes {
		if n.Parent == nil {
			roots = append(roots, n)
			continue
		}
		if _, ok := known[*n.Parent]; !ok {
			roots = append(roots, n)
			continue
		}
		byParent[*n.Parent] = append(byParent[*n.Parent], n)
	}

	return buildLevel(roots, byParent)
}

func buildLevel[ID comparable](level []Labeled[ID], byParent map[ID][]Labeled[ID]) []Tree[ID] {
	slices.SortFunc(level, func(a, b Labeled[ID]) int { return cmp.Compare(a.Name, b.Name) })
	out := make([]Tree[ID], 0, len(level))
	for _, n := range level {
		children := byParent[n.ID]
		delete(byParent, n.ID)
		out = append(out, Tree[ID]{ID: n.ID, Name: n.Name, Children: buildLevel(children, byParent)})
	}
	return out
}
