package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

const (
	defaultExecutionsLimit = 20
	maxExecutionsLimit     = 100
)

type Automation struct {
	persistence persistence.Persistence
}

// NewAutomation creates a new automation service.
func NewAutomation(persistence persistence.Persistence) *Automation {
	return &Automation{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (a *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new draft automation.
func (a *Automation) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	automation.OwnerID = strings.TrimSpace(automation.OwnerID)
	if automation.OwnerID == "" {
		return nil, ErrEmptyOwnerID
	}

	if strings.TrimSpace(automation.Name) == "" {
		return nil, ErrNameRequired
	}

	err := validateTriggers(automation.Triggers, automation.Channels)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	automation.ID = uuid.New().String()
	automation.Status = models.AutomationStatusDraft
	automation.IsActive = true
	automation.PublishedVersionID = ""
	automation.CreatedAt = now
	automation.UpdatedAt = now
	automation.DeletedAt = nil

	err = a.persistence.SaveAutomation(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	return automation, nil
}

// FetchByID retrieves a live automation by its ID.
func (a *Automation) FetchByID(ctx context.Context, id string) (*models.Automation, error) {
	return a.persistence.AutomationByID(ctx, id)
}

func (a *Automation) ListByOwner(ctx context.Context, ownerID string) ([]*models.Automation, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}

	return a.persistence.AutomationsByOwner(ctx, ownerID)
}

// UpdateGraph replaces the draft graph. Published versions are untouched until the next publish.
func (a *Automation) UpdateGraph(ctx context.Context, id string, nodes []*models.Node, edges []*models.Edge) (*models.Automation, error) {
	return a.modify(ctx, "UpdateGraph", id, func(automation *models.Automation) error {
		automation.Nodes = nodes
		automation.Edges = edges

		return nil
	})
}

func (a *Automation) UpdateTriggers(ctx context.Context, id string, triggers []models.Trigger, channels []models.Channel) (*models.Automation, error) {
	err := validateTriggers(triggers, channels)
	if err != nil {
		return nil, err
	}

	return a.modify(ctx, "UpdateTriggers", id, func(automation *models.Automation) error {
		automation.Triggers = triggers
		automation.Channels = channels

		return nil
	})
}

// Pause stops matching a published automation. Running executions are fenced at their next job.
func (a *Automation) Pause(ctx context.Context, id string) (*models.Automation, error) {
	return a.modify(ctx, "Pause", id, func(automation *models.Automation) error {
		if automation.Status != models.AutomationStatusPublished {
			return ErrNotPublished
		}

		automation.Status = models.AutomationStatusPaused

		return nil
	})
}

func (a *Automation) Resume(ctx context.Context, id string) (*models.Automation, error) {
	return a.modify(ctx, "Resume", id, func(automation *models.Automation) error {
		if automation.Status != models.AutomationStatusPaused || automation.PublishedVersionID == "" {
			return ErrNotPaused
		}

		automation.Status = models.AutomationStatusPublished

		return nil
	})
}

// Delete soft deletes an automation.
func (a *Automation) Delete(ctx context.Context, id string) error {
	err := a.persistence.DeleteAutomation(ctx, id, time.Now().UTC())
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete automation: %w", err)
	}

	return nil
}

// Versions lists the published versions of an automation, newest first.
func (a *Automation) Versions(ctx context.Context, id string) ([]*models.Version, error) {
	_, err := a.persistence.AutomationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return a.persistence.Versions(ctx, id)
}

func (a *Automation) Executions(ctx context.Context, id string, limit int) ([]*models.Execution, error) {
	_, err := a.persistence.AutomationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultExecutionsLimit
	}

	limit = min(limit, maxExecutionsLimit)

	return a.persistence.Executions(ctx, id, limit)
}

func (a *Automation) Execution(ctx context.Context, id string) (*models.Execution, error) {
	return a.persistence.ExecutionByID(ctx, id)
}

func (a *Automation) modify(ctx context.Context, op, id string, change func(*models.Automation) error) (*models.Automation, error) {
	automation, err := a.persistence.AutomationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = change(automation)
	if err != nil {
		return nil, &ServiceError{Op: op, Err: err}
	}

	automation.UpdatedAt = time.Now().UTC()

	err = a.persistence.SaveAutomation(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return automation, nil
}

func validateTriggers(triggers []models.Trigger, channels []models.Channel) error {
	for _, channel := range channels {
		if !channel.Valid() {
			return NewValidationError("validateTriggers", "INVALID_CHANNEL",
				fmt.Sprintf("invalid channel '%s'", channel), ErrInvalidChannel)
		}
	}

	for i, trigger := range triggers {
		if trigger.Type != models.TriggerTypeKeyword {
			return NewValidationError("validateTriggers", "INVALID_TRIGGER",
				fmt.Sprintf("trigger %d: unsupported type '%s'", i, trigger.Type), ErrInvalidTrigger)
		}

		if strings.TrimSpace(trigger.Keyword) == "" {
			return NewValidationError("validateTriggers", "INVALID_TRIGGER",
				fmt.Sprintf("trigger %d: keyword is required", i), ErrInvalidTrigger)
		}
	}

	return nil
}
