// Package flow indexes automation graphs and resolves traversal between nodes.
package flow

import (
	"fmt"

	"github.com/ogabrielsv/creatye/pkg/models"
)

// Graph is a read-only index over the nodes and edges of one version.
type Graph struct {
	nodes    map[string]*models.Node
	outgoing map[string][]*models.Edge
	start    *models.Node
}

// New indexes nodes and edges. It only fails on structure it cannot index
// (missing or repeated start node, duplicated node IDs); use Validate for publish checks.
func New(nodes []*models.Node, edges []*models.Edge) (*Graph, error) {
	graph := &Graph{
		nodes:    make(map[string]*models.Node, len(nodes)),
		outgoing: make(map[string][]*models.Edge),
	}

	for _, node := range nodes {
		if _, exists := graph.nodes[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		graph.nodes[node.ID] = node

		if node.Type == models.NodeTypeStart {
			if graph.start != nil {
				return nil, ErrMultipleStartNodes
			}

			graph.start = node
		}
	}

	if graph.start == nil {
		return nil, ErrStartNodeRequired
	}

	for _, edge := range edges {
		graph.outgoing[edge.Source] = append(graph.outgoing[edge.Source], edge)
	}

	return graph, nil
}

// FromVersion indexes a published version.
func FromVersion(version *models.Version) (*Graph, error) {
	graph, err := New(version.Nodes, version.Edges)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", version.ID, err)
	}

	return graph, nil
}

func (g *Graph) Start() *models.Node {
	return g.start
}

func (g *Graph) Node(id string) (*models.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Outgoing returns the edges leaving the node, in declaration order.
func (g *Graph) Outgoing(id string) []*models.Edge {
	return g.outgoing[id]
}

// Next resolves the successor of a node.
//
// With a handle, only an edge carrying that exact source handle is followed.
// Without one, an unlabelled edge is preferred and a lone outgoing edge is
// accepted whatever its label. A nil node means the path ends here.
func (g *Graph) Next(id, handle string) *models.Node {
	edges := g.outgoing[id]

	if handle != "" {
		for _, edge := range edges {
			if edge.SourceHandle == handle {
				return g.nodes[edge.Target]
			}
		}

		return nil
	}

	for _, edge := range edges {
		if edge.SourceHandle == "" {
			return g.nodes[edge.Target]
		}
	}

	if len(edges) == 1 {
		return g.nodes[edges[0].Target]
	}

	return nil
}

// HasHandle reports whether any edge leaves the node with the given handle.
func (g *Graph) HasHandle(id, handle string) bool {
	for _, edge := range g.outgoing[id] {
		if edge.SourceHandle == handle {
			return true
		}
	}

	return false
}
