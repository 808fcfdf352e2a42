package lineage

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/reportflow/internal/ir"
)

var (
	// ErrNotDAG is returned when edges form a cycle.
	ErrNotDAG = errors.New("lineage graph is not a DAG")

	// ErrUnknownNode is returned when an edge or lookup names a node that is
	// not part of the graph.
	ErrUnknownNode = errors.New("unknown report node")
)

// Graph is an arena of report nodes indexed by id with parent/child adjacency.
type Graph struct {
	nodes    map[string]ir.ReportNode
	order    []string
	children map[string][]string
	parents  map[string][]string
	edges    []ir.LineageEdge
}

// New builds a graph from nodes and edges.
// Duplicate edges are collapsed. Edges naming unknown nodes fail with
// ErrUnknownNode and cycles fail with ErrNotDAG.
func New(nodes []ir.ReportNode, edges []ir.LineageEdge) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]ir.ReportNode, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		edges:    make([]ir.LineageEdge, 0, len(edges)),
	}

	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	slices.SortFunc(g.order, func(a, b string) int {
		return compareNodes(g.nodes[a], g.nodes[b])
	})

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if _, ok := g.nodes[e.ParentID]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: parent: %w", e.ParentID, e.ChildID, ErrUnknownNode)
		}
		if _, ok := g.nodes[e.ChildID]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: child: %w", e.ParentID, e.ChildID, ErrUnknownNode)
		}
		key := [2]string{e.ParentID, e.ChildID}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.children[e.ParentID] = append(g.children[e.ParentID], e.ChildID)
		g.parents[e.ChildID] = append(g.parents[e.ChildID], e.ParentID)
		g.edges = append(g.edges, e)
	}

	byOrder := func(a, b string) int { return compareNodes(g.nodes[a], g.nodes[b]) }
	for id := range g.children {
		slices.SortFunc(g.children[id], byOrder)
	}
	for id := range g.parents {
		slices.SortFunc(g.parents[id], byOrder)
	}
	slices.SortFunc(g.edges, func(a, b ir.LineageEdge) int {
		if c := strings.Compare(a.ParentID, b.ParentID); c != 0 {
			return c
		}
		return strings.Compare(a.ChildID, b.ChildID)
	})

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// compareNodes orders nodes by creation time, then id.
func compareNodes(a, b ir.ReportNode) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// checkAcyclic runs Kahn's algorithm over the adjacency lists.
func (g *Graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.nodes))
	for child, ps := range g.parents {
		indegree[child] = len(ps)
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range g.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(g.nodes) {
		return fmt.Errorf("%d of %d nodes are on a cycle: %w", len(g.nodes)-visited, len(g.nodes), ErrNotDAG)
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (ir.ReportNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node ordered by created_at, then id.
func (g *Graph) Nodes() []ir.ReportNode {
	return g.collect(g.order)
}

// Edges returns every edge ordered by parent id, then child id.
func (g *Graph) Edges() []ir.LineageEdge {
	return slices.Clone(g.edges)
}

// Children returns the direct children of id.
func (g *Graph) Children(id string) []ir.ReportNode {
	return g.collect(g.children[id])
}

// Parents returns the direct parents of id.
func (g *Graph) Parents(id string) []ir.ReportNode {
	return g.collect(g.parents[id])
}

// Roots returns nodes without parents.
func (g *Graph) Roots() []ir.ReportNode {
	var ids []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			ids = append(ids, id)
		}
	}
	return g.collect(ids)
}

// Leaves returns nodes without children.
func (g *Graph) Leaves() []ir.ReportNode {
	var ids []string
	for _, id := range g.order {
		if len(g.children[id]) == 0 {
			ids = append(ids, id)
		}
	}
	return g.collect(ids)
}

// Descendants returns the subgraph reachable from rootID, root included.
func (g *Graph) Descendants(rootID string) (*Graph, error) {
	if _, ok := g.nodes[rootID]; !ok {
		return nil, fmt.Errorf("descendants of %s: %w", rootID, ErrUnknownNode)
	}

	reached := map[string]bool{rootID: true}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range g.children[id] {
			if !reached[child] {
				reached[child] = true
				stack = append(stack, child)
			}
		}
	}

	nodes := make([]ir.ReportNode, 0, len(reached))
	for _, id := range g.order {
		if reached[id] {
			nodes = append(nodes, g.nodes[id])
		}
	}
	var edges []ir.LineageEdge
	for _, e := range g.edges {
		if reached[e.ParentID] && reached[e.ChildID] {
			edges = append(edges, e)
		}
	}
	return New(nodes, edges)
}

func (g *Graph) collect(ids []string) []ir.ReportNode {
	out := make([]ir.ReportNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}
