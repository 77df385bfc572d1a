package depgraph

import (
	"testing"

	"github.com/flowcast/forecaster/internal/apperr"
)

func TestTopoOrder_RespectsDependencies(t *testing.T) {
	g := New()
	g.AddNode(1, 10)
	g.AddNode(2, 20)
	g.AddNode(3, 5)
	g.AddDependency(3, 1) // 3 depends on 1
	g.AddDependency(3, 2) // 3 depends on 2

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder() error = %v", err)
	}
	pos := map[int64]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[1] >= pos[3] || pos[2] >= pos[3] {
		t.Fatalf("dependency ordering violated: %v", order)
	}
}

func TestTopoOrder_BreaksTiesByDescendingWSJF(t *testing.T) {
	g := New()
	g.AddNode(1, 5)
	g.AddNode(2, 50)
	g.AddNode(3, 20)

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder() error = %v", err)
	}
	want := []int64{2, 3, 1}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTopoOrder_DetectsCycle(t *testing.T) {
	g := New()
	g.AddNode(1, 1)
	g.AddNode(2, 1)
	g.AddDependency(1, 2)
	g.AddDependency(2, 1)

	_, err := g.TopoOrder()
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.CyclicDependency {
		t.Fatalf("err = %v, want CyclicDependency", err)
	}
}

func TestHasCycle_FalseForAcyclicGraph(t *testing.T) {
	g := New()
	g.AddNode(1, 1)
	g.AddNode(2, 1)
	g.AddDependency(2, 1)
	if g.HasCycle() {
		t.Fatal("expected acyclic graph")
	}
}
