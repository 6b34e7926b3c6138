package sampler

import (
	"testing"

	"github.com/oscillo/scopewatch/model"
)

func TestBuildVariableTreeNestsChildrenUnderParent(t *testing.T) {
	s := New(connectedMock(t))
	s.AddVariable(&model.Variable{ID: 1, Address: 0x2000, Type: model.U32, ParentID: -1})
	s.AddVariable(&model.Variable{ID: 2, Address: 0x3000, Type: model.U32, ParentID: 1})
	s.AddVariable(&model.Variable{ID: 3, Address: 0x4000, Type: model.U32, ParentID: 1})
	s.AddVariable(&model.Variable{ID: 4, Address: 0x5000, Type: model.U32, ParentID: -1})

	tree := s.BuildVariableTree()
	if len(tree) != 2 {
		t.Fatalf("want 2 roots, have %d", len(tree))
	}
	if tree[0].Variable.ID != 1 || len(tree[0].Children) != 2 {
		t.Fatalf("want root 1 with 2 children, have id=%d children=%d", tree[0].Variable.ID, len(tree[0].Children))
	}
	if tree[0].Children[0].Variable.ID != 2 || tree[0].Children[1].Variable.ID != 3 {
		t.Errorf("want children in sorted id order, got %+v", tree[0].Children)
	}
	if tree[1].Variable.ID != 4 || len(tree[1].Children) != 0 {
		t.Errorf("want second root id 4 with no children, got %+v", tree[1])
	}
}

func TestBuildVariableTreeTreatsDanglingParentAsRoot(t *testing.T) {
	s := New(connectedMock(t))
	s.AddVariable(&model.Variable{ID: 1, Address: 0x2000, Type: model.U32, ParentID: 99})

	tree := s.BuildVariableTree()
	if len(tree) != 1 || tree[0].Variable.ID != 1 {
		t.Fatalf("want variable with a missing parent treated as root, got %+v", tree)
	}
}
