package sampler

import "github.com/oscillo/scopewatch/model"

// VariableTreeSnapshot is the concrete payload of the RequestVariableTree /
// VariableTreeSnapshot messages: variables nested under the variable
// their ParentID names. PointerParentID is not consulted.
type VariableTreeSnapshot struct {
	Variable model.Variable
	Children []VariableTreeSnapshot
}

// BuildVariableTree nests every registered variable whose ParentID names
// another registered variable under that parent, in SortedIDs order at
// every level; top-level variables (ParentID < 0, or naming an id not
// present) are returned as the roots.
func (s *Sampler) BuildVariableTree() []VariableTreeSnapshot {
	childrenOf := make(map[int][]int)
	ids := s.SortedIDs()
	present := make(map[int]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for _, id := range ids {
		v := s.variables[id]
		if v.ParentID >= 0 && present[v.ParentID] {
			childrenOf[v.ParentID] = append(childrenOf[v.ParentID], id)
		}
	}

	var build func(id int) VariableTreeSnapshot
	build = func(id int) VariableTreeSnapshot {
		node := VariableTreeSnapshot{Variable: *s.variables[id]}
		for _, childID := range childrenOf[id] {
			node.Children = append(node.Children, build(childID))
		}
		return node
	}

	var roots []VariableTreeSnapshot
	for _, id := range ids {
		v := s.variables[id]
		if v.ParentID < 0 || !present[v.ParentID] {
			roots = append(roots, build(id))
		}
	}
	return roots
}
