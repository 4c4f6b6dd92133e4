package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/flow"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// Publishing freezes draft graphs into immutable versions.
type Publishing struct {
	persistence persistence.Persistence
}

// NewPublishing creates a new publishing service.
func NewPublishing(persistence persistence.Persistence) *Publishing {
	return &Publishing{
		persistence: persistence,
	}
}

// Publish validates the draft graph, snapshots it as the next version and points the
// automation at it. Executions already running keep their own version.
func (p *Publishing) Publish(ctx context.Context, automationID string) (*models.Automation, *models.Version, error) {
	automation, err := p.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, nil, err
	}

	err = flow.Validate(automation.Nodes, automation.Edges)
	if err != nil {
		return nil, nil, &ServiceError{Op: "Publish", Code: "INVALID_GRAPH", Err: err}
	}

	version := &models.Version{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		Nodes:        copyNodes(automation.Nodes),
		Edges:        copyEdges(automation.Edges),
		CreatedAt:    time.Now().UTC(),
	}

	err = p.persistence.PublishVersion(ctx, version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to publish version: %w", err)
	}

	automation, err = p.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, nil, err
	}

	return automation, version, nil
}

// PublishedVersion returns the version new executions of the automation start on.
func (p *Publishing) PublishedVersion(ctx context.Context, automationID string) (*models.Version, error) {
	automation, err := p.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	if automation.PublishedVersionID == "" {
		return nil, &ServiceError{Op: "PublishedVersion", Err: ErrNotPublished}
	}

	return p.persistence.VersionByID(ctx, automation.PublishedVersionID)
}

func copyNodes(nodes []*models.Node) []*models.Node {
	copied := make([]*models.Node, 0, len(nodes))

	for _, node := range nodes {
		n := *node
		n.Data = append([]byte(nil), node.Data...)
		copied = append(copied, &n)
	}

	return copied
}

func copyEdges(edges []*models.Edge) []*models.Edge {
	copied := make([]*models.Edge, 0, len(edges))

	for _, edge := range edges {
		e := *edge
		copied = append(copied, &e)
	}

	return copied
}
