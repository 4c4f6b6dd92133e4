// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/models"
)

// Node builds a node with the given payload and panics on marshal errors.
func Node(id string, data models.NodeData) *models.Node {
	node, err := models.NewNode(id, data)
	if err != nil {
		panic(fmt.Sprintf("testutil: build node %s: %v", id, err))
	}

	return node
}

func Edge(source, target string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target}
}

func HandleEdge(source, handle, target string) *models.Edge {
	return &models.Edge{ID: source + ":" + handle + "->" + target, Source: source, Target: target, SourceHandle: handle}
}

// Graph collects nodes and edges for a test flow.
type Graph struct {
	Nodes []*models.Node
	Edges []*models.Edge
}

// Chain builds a linear graph start -> n1 -> n2 ..., naming nodes after their position.
func Chain(steps ...models.NodeData) *Graph {
	graph := &Graph{Nodes: []*models.Node{Node("start", models.StartData{})}}

	prev := "start"

	for i, step := range steps {
		id := fmt.Sprintf("%s-%d", step.NodeType(), i+1)
		graph.Nodes = append(graph.Nodes, Node(id, step))
		graph.Edges = append(graph.Edges, Edge(prev, id))
		prev = id
	}

	return graph
}

// CreateTestAutomation creates a published, active DM automation with a
// case-insensitive "contains" trigger on "oi" and the given graph as its draft.
func CreateTestAutomation(graph *Graph, overrides ...func(*models.Automation)) *models.Automation {
	now := time.Now().UTC()

	automation := &models.Automation{
		ID:       uuid.New().String(),
		OwnerID:  "owner-1",
		Name:     "Test Automation",
		Status:   models.AutomationStatusPublished,
		IsActive: true,
		Triggers: []models.Trigger{
			{Type: models.TriggerTypeKeyword, Keyword: "oi", MatchMode: models.MatchModeContains},
		},
		Channels:  []models.Channel{models.ChannelDM},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if graph != nil {
		automation.Nodes = graph.Nodes
		automation.Edges = graph.Edges
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// WithTrigger replaces the automation triggers.
func WithTrigger(triggers ...models.Trigger) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Triggers = triggers
	}
}

// WithChannels replaces the automation channels.
func WithChannels(channels ...models.Channel) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Channels = channels
	}
}

// WithStatus sets the automation status.
func WithStatus(status models.AutomationStatus) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Status = status
	}
}

// WithUpdatedAt sets the automation update time.
func WithUpdatedAt(at time.Time) func(*models.Automation) {
	return func(a *models.Automation) {
		a.UpdatedAt = at
	}
}

// WithOwner sets the automation owner.
func WithOwner(ownerID string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.OwnerID = ownerID
	}
}
