// Package depgraph builds the PortfolioProject dependency graph and
// produces a WSJF-tie-broken topological order, used by both the
// Portfolio Simulator and persistence's cycle rejection.
package depgraph

import (
	"container/heap"

	"github.com/flowcast/forecaster/internal/apperr"
)

// Graph holds the adjacency list of a dependency relation: Adj[p] is the
// set of projects p depends on (must complete before p starts).
type Graph struct {
	Adj  map[int64][]int64
	WSJF map[int64]float64
}

// New builds an empty Graph.
func New() *Graph {
	return &Graph{Adj: make(map[int64][]int64), WSJF: make(map[int64]float64)}
}

// AddNode registers a project with its WSJF score, used as the topological
// tie-breaker.
func (g *Graph) AddNode(projectID int64, wsjf float64) {
	if _, ok := g.Adj[projectID]; !ok {
		g.Adj[projectID] = nil
	}
	g.WSJF[projectID] = wsjf
}

// AddDependency records that projectID depends on dependsOn.
func (g *Graph) AddDependency(projectID, dependsOn int64) {
	g.AddNode(projectID, g.WSJF[projectID])
	g.AddNode(dependsOn, g.WSJF[dependsOn])
	g.Adj[projectID] = append(g.Adj[projectID], dependsOn)
}

// TopoOrder returns a cycle-free execution order: dependencies before
// dependents, ties among simultaneously-eligible projects broken by
// descending WSJF (Kahn's algorithm with a max-heap frontier). Returns
// apperr.CyclicDependency if the graph has a cycle.
func (g *Graph) TopoOrder() ([]int64, error) {
	inDegree := make(map[int64]int, len(g.Adj))
	dependents := make(map[int64][]int64, len(g.Adj))
	for node := range g.Adj {
		if _, ok := inDegree[node]; !ok {
			inDegree[node] = 0
		}
	}
	for node, deps := range g.Adj {
		for _, dep := range deps {
			inDegree[node]++
			dependents[dep] = append(dependents[dep], node)
		}
	}

	frontier := &wsjfHeap{}
	heap.Init(frontier)
	for node, deg := range inDegree {
		if deg == 0 {
			heap.Push(frontier, wsjfNode{id: node, wsjf: g.WSJF[node]})
		}
	}

	order := make([]int64, 0, len(inDegree))
	for frontier.Len() > 0 {
		top := heap.Pop(frontier).(wsjfNode)
		order = append(order, top.id)
		for _, dependent := range dependents[top.id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(frontier, wsjfNode{id: dependent, wsjf: g.WSJF[dependent]})
			}
		}
	}

	if len(order) != len(inDegree) {
		return nil, apperr.New(apperr.CyclicDependency, "dependency graph contains a cycle")
	}
	return order, nil
}

// HasCycle reports whether the graph currently contains a cycle, without
// returning the order, used at persistence time to reject a write before
// it corrupts the stored graph.
func (g *Graph) HasCycle() bool {
	_, err := g.TopoOrder()
	return err != nil
}

type wsjfNode struct {
	id   int64
	wsjf float64
}

// wsjfHeap is a max-heap on wsjf, ties broken by ascending id for a
// deterministic order among equal-priority projects.
type wsjfHeap []wsjfNode

func (h wsjfHeap) Len() int { return len(h) }
func (h wsjfHeap) Less(i, j int) bool {
	if h[i].wsjf != h[j].wsjf {
		return h[i].wsjf > h[j].wsjf
	}
	return h[i].id < h[j].id
}
func (h wsjfHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *wsjfHeap) Push(x any)   { *h = append(*h, x.(wsjfNode)) }
func (h *wsjfHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
