// Package web provides HTTP request and response types for the automation API.
package web

import "github.com/ogabrielsv/creatye/pkg/models"

// CreateAutomationRequest represents the request body for creating a draft automation.
type CreateAutomationRequest struct {
	OwnerID  string           `json:"owner_id" validate:"required"`
	Name     string           `json:"name"     validate:"required,min=1,max=255"`
	Triggers []models.Trigger `json:"triggers" validate:"dive"`
	Channels []models.Channel `json:"channels"`
	Nodes    []*models.Node   `json:"nodes"    validate:"dive"`
	Edges    []*models.Edge   `json:"edges"    validate:"dive"`
}

// UpdateGraphRequest replaces the draft graph of an automation.
type UpdateGraphRequest struct {
	Nodes []*models.Node `json:"nodes" validate:"required,dive"`
	Edges []*models.Edge `json:"edges" validate:"dive"`
}

type UpdateTriggersRequest struct {
	Triggers []models.Trigger `json:"triggers" validate:"required,min=1,dive"`
	Channels []models.Channel `json:"channels" validate:"required,min=1"`
}

// PublishResponse is returned by the publish endpoint.
type PublishResponse struct {
	Automation *models.Automation `json:"automation"`
	Version    *models.Version    `json:"version"`
}
