package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ogabrielsv/creatye/pkg/flow"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/persistence/memory"
	"github.com/ogabrielsv/creatye/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDraft() *models.Automation {
	graph := testutil.Chain(models.MessageData{Text: "aprovado"})

	return &models.Automation{
		OwnerID:  "owner-1",
		Name:     "Boas-vindas",
		Triggers: []models.Trigger{{Type: models.TriggerTypeKeyword, Keyword: "oi", MatchMode: models.MatchModeContains}},
		Channels: []models.Channel{models.ChannelDM},
		Nodes:    graph.Nodes,
		Edges:    graph.Edges,
	}
}

func TestAutomation_Create(t *testing.T) {
	ctx := context.Background()
	service := NewAutomation(memory.NewPersistence())

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.AutomationStatusDraft, created.Status)
	assert.True(t, created.IsActive)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := service.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
}

func TestAutomation_Create_Validation(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*models.Automation)
		expected error
	}{
		{"missing owner", func(a *models.Automation) { a.OwnerID = "  " }, ErrEmptyOwnerID},
		{"missing name", func(a *models.Automation) { a.Name = "" }, ErrNameRequired},
		{"unknown channel", func(a *models.Automation) { a.Channels = []models.Channel{"sms"} }, ErrInvalidChannel},
		{"unsupported trigger", func(a *models.Automation) { a.Triggers[0].Type = "regex" }, ErrInvalidTrigger},
		{"empty keyword", func(a *models.Automation) { a.Triggers[0].Keyword = " " }, ErrInvalidTrigger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			automation := newDraft()
			tt.modify(automation)

			_, err := NewAutomation(memory.NewPersistence()).Create(context.Background(), automation)
			require.ErrorIs(t, err, tt.expected)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestAutomation_PauseResume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewAutomation(store)
	publishing := NewPublishing(store)

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	_, err = service.Pause(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotPublished)
	assert.True(t, IsConflictError(err))

	_, _, err = publishing.Publish(ctx, created.ID)
	require.NoError(t, err)

	paused, err := service.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusPaused, paused.Status)
	assert.False(t, paused.Runnable())

	resumed, err := service.Resume(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusPublished, resumed.Status)

	_, err = service.Resume(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestAutomation_Delete(t *testing.T) {
	ctx := context.Background()
	service := NewAutomation(memory.NewPersistence())

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.FetchByID(ctx, created.ID)
	assert.True(t, IsNotFoundError(err))

	err = service.Delete(ctx, created.ID)
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func TestAutomation_UpdateTriggersRejectsInvalidChannel(t *testing.T) {
	ctx := context.Background()
	service := NewAutomation(memory.NewPersistence())

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	_, err = service.UpdateTriggers(ctx, created.ID, created.Triggers, []models.Channel{"fax"})
	require.ErrorIs(t, err, ErrInvalidChannel)

	updated, err := service.UpdateTriggers(ctx, created.ID,
		[]models.Trigger{{Type: models.TriggerTypeKeyword, Keyword: "preço", MatchMode: models.MatchModeExact}},
		[]models.Channel{models.ChannelComment})
	require.NoError(t, err)
	assert.Equal(t, "preço", updated.Triggers[0].Keyword)
}

func TestPublishing_Publish(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewAutomation(store)
	publishing := NewPublishing(store)

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	automation, version, err := publishing.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, version.Version)
	assert.Equal(t, version.ID, automation.PublishedVersionID)
	assert.Equal(t, models.AutomationStatusPublished, automation.Status)

	// Later draft edits do not leak into the frozen version.
	graph := testutil.Chain(models.MessageData{Text: "outra"}, models.MessageData{Text: "coisa"})
	_, err = service.UpdateGraph(ctx, created.ID, graph.Nodes, graph.Edges)
	require.NoError(t, err)

	published, err := publishing.PublishedVersion(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, published.Nodes, 2)

	_, second, err := publishing.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	versions, err := service.Versions(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestPublishing_Publish_RejectsInvalidGraph(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewAutomation(store)
	publishing := NewPublishing(store)

	draft := newDraft()
	draft.Nodes = []*models.Node{testutil.Node("m", models.MessageData{Text: "sem início"})}
	draft.Edges = nil

	created, err := service.Create(ctx, draft)
	require.NoError(t, err)

	_, _, err = publishing.Publish(ctx, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartNodeRequired)
	assert.True(t, IsValidationError(err))

	var graphErr *flow.ValidationError
	assert.True(t, errors.As(err, &graphErr))

	_, err = publishing.PublishedVersion(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(ErrInvalidRequest))
	assert.True(t, IsValidationError(NewValidationError("op", "CODE", "msg", ErrInvalidChannel)))
	assert.False(t, IsValidationError(ErrNotPaused))
	assert.False(t, IsValidationError(errors.New("boom")))
	assert.True(t, IsConflictError(&ServiceError{Op: "Pause", Err: ErrNotPublished}))
}
