package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/dedup"
	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/engine"
	"github.com/ogabrielsv/creatye/pkg/events"
	"github.com/ogabrielsv/creatye/pkg/ingest"
	"github.com/ogabrielsv/creatye/pkg/mocks"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence/memory"
	"github.com/ogabrielsv/creatye/pkg/testutil"
	"github.com/ogabrielsv/creatye/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const webhook = `{"object":"instagram","entry":[{"id":"ig-account-1","messaging":[{"sender":{"id":"recipient-1"},"recipient":{"id":"ig-account-1"},"message":{"mid":"m1","text":"oi, tudo bem?"}}]}]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupWorker(t *testing.T) (*Worker, *memory.Persistence, *mocks.MockAdapter) {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCredential(ctx, &models.Credential{
		ID:               uuid.New().String(),
		OwnerID:          "owner-1",
		ChannelAccountID: "ig-account-1",
		AccessToken:      "token",
		ExpiresAt:        now.Add(60 * 24 * time.Hour),
		UpdatedAt:        now,
	}))

	graph := testutil.Chain(models.MessageData{Text: "aprovado"})
	automation := testutil.CreateTestAutomation(graph)
	require.NoError(t, store.SaveAutomation(ctx, automation))
	require.NoError(t, store.PublishVersion(ctx, &models.Version{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		Nodes:        graph.Nodes,
		Edges:        graph.Edges,
		CreatedAt:    now,
	}))

	adapter := &mocks.MockAdapter{}
	manager := token.NewManager(store, &mocks.MockRefresher{}, testLogger())
	e := engine.New(store, manager, adapter, testLogger())

	worker := NewWorker(
		"worker-test",
		ingest.NewDispatcher(store, e, dedup.NewHistoryGuard(store, dedup.DefaultWindow, testLogger()), testLogger()),
		engine.NewScheduler(e),
		&mocks.MockEventBus{},
		testLogger(),
	)

	return worker, store, adapter
}

func TestWorker_CycleDispatchesAndTicks(t *testing.T) {
	worker, store, adapter := setupWorker(t)
	ctx := context.Background()

	adapter.On("Send", mock.Anything, mock.Anything, "recipient-1", delivery.Text("aprovado")).
		Return(&delivery.Result{RecipientID: "recipient-1", MessageID: "mid.1"}, nil).Once()

	_, err := store.AppendInboundEvent(ctx, []byte(webhook), time.Now().UTC())
	require.NoError(t, err)

	dispatched, ticked, err := worker.Cycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, dispatched.Processed)
	assert.Equal(t, 1, dispatched.Started)
	assert.Equal(t, 2, ticked.Claimed)
	assert.Equal(t, 1, ticked.Finished)

	adapter.AssertExpectations(t)

	// Nothing left to do on the next cycle.
	dispatched, ticked, err = worker.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, dispatched.Processed)
	assert.Zero(t, ticked.Claimed)
}

func TestWorker_HandleInboundReceived(t *testing.T) {
	worker, store, adapter := setupWorker(t)
	ctx := context.Background()

	adapter.On("Send", mock.Anything, mock.Anything, "recipient-1", delivery.Text("aprovado")).
		Return(&delivery.Result{RecipientID: "recipient-1", MessageID: "mid.1"}, nil).Once()

	require.NoError(t, worker.handleInboundReceived(ctx, "not an event"))

	id, err := store.AppendInboundEvent(ctx, []byte(webhook), time.Now().UTC())
	require.NoError(t, err)

	err = worker.handleInboundReceived(ctx, &events.InboundReceived{
		BaseEvent:      events.NewBaseEvent(events.InboundReceivedEvent, ""),
		InboundEventID: id,
	})
	require.NoError(t, err)

	pending, err := store.UnprocessedInboundEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	adapter.AssertExpectations(t)
}
