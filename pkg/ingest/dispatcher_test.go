package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/dedup"
	"github.com/ogabrielsv/creatye/pkg/engine"
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

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func directMessage(account, sender, text string) []byte {
	return fmt.Appendf(nil, `{"object":"instagram","entry":[{"id":%q,"messaging":[{"sender":{"id":%q},"recipient":{"id":%q},"message":{"mid":"mid","text":%q}}]}]}`,
		account, sender, account, text)
}

type dispatchFixture struct {
	store      *memory.Persistence
	clock      *clock
	dispatcher *ingest.Dispatcher
	automation *models.Automation
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()
	clk := &clock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}

	require.NoError(t, store.SaveCredential(ctx, &models.Credential{
		ID:               uuid.New().String(),
		OwnerID:          "owner-1",
		ChannelAccountID: "ig-account-1",
		AccessToken:      "token",
		ExpiresAt:        clk.Now().Add(30 * 24 * time.Hour),
	}))

	graph := testutil.Chain(models.MessageData{Text: "aprovado"})
	automation := testutil.CreateTestAutomation(graph)
	require.NoError(t, store.SaveAutomation(ctx, automation))
	require.NoError(t, store.PublishVersion(ctx, &models.Version{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		Nodes:        graph.Nodes,
		Edges:        graph.Edges,
		CreatedAt:    clk.Now(),
	}))

	logger := testLogger()
	manager := token.NewManager(store, &mocks.MockRefresher{}, logger, token.WithClock(clk.Now))
	eng := engine.New(store, manager, &mocks.MockAdapter{}, logger, engine.WithClock(clk.Now))
	guard := dedup.NewHistoryGuard(store, dedup.DefaultWindow, logger)

	return &dispatchFixture{
		store:      store,
		clock:      clk,
		dispatcher: ingest.NewDispatcher(store, eng, guard, logger, ingest.WithClock(clk.Now)),
		automation: automation,
	}
}

func (f *dispatchFixture) receive(t *testing.T, payload []byte) int64 {
	t.Helper()

	id, err := f.store.AppendInboundEvent(context.Background(), payload, f.clock.Now())
	require.NoError(t, err)

	return id
}

func (f *dispatchFixture) executions(t *testing.T) []*models.Execution {
	t.Helper()

	executions, err := f.store.Executions(context.Background(), f.automation.ID, 100)
	require.NoError(t, err)

	return executions
}

func TestDispatcher_StartsMatchingAutomation(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.receive(t, directMessage("ig-account-1", "sender-1", "Oi!"))

	result, err := f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.DispatchResult{Processed: 1, Started: 1}, result)

	executions := f.executions(t)
	require.Len(t, executions, 1)
	assert.Equal(t, "sender-1", executions[0].RecipientID)
	assert.Equal(t, "Oi!", executions[0].Context["text"])
	assert.Equal(t, "dm", executions[0].Context["channel"])

	pending, err := f.store.UnprocessedInboundEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_DedupWindow(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))
	_, err := f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	f.receive(t, directMessage("ig-account-1", "sender-1", "oi de novo"))

	result, err := f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deduplicated)
	assert.Len(t, f.executions(t), 1)

	f.receive(t, directMessage("ig-account-1", "sender-2", "oi"))

	result, err = f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Started, "other senders are not suppressed")

	f.clock.Advance(80 * time.Second)
	f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))

	result, err = f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Started)
	assert.Len(t, f.executions(t), 3)
}

func TestDispatcher_DedupUsesReceiveTime(t *testing.T) {
	t.Run("close messages split across dispatches", func(t *testing.T) {
		ctx := context.Background()
		f := newDispatchFixture(t)

		f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))
		_, err := f.dispatcher.Dispatch(ctx)
		require.NoError(t, err)

		f.clock.Advance(4 * time.Second)
		f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))
		f.clock.Advance(60 * time.Second)

		result, err := f.dispatcher.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Deduplicated)
		assert.Len(t, f.executions(t), 1)
	})

	t.Run("distant messages drained in one batch", func(t *testing.T) {
		ctx := context.Background()
		f := newDispatchFixture(t)

		first := f.clock.Now()
		f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))
		f.clock.Advance(90 * time.Second)
		f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))
		f.clock.Advance(30 * time.Second)

		result, err := f.dispatcher.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Started)

		executions := f.executions(t)
		require.Len(t, executions, 2)

		triggered := []time.Time{executions[0].TriggeredAt, executions[1].TriggeredAt}
		assert.ElementsMatch(t, []time.Time{first, first.Add(90 * time.Second)}, triggered)
	})
}

func TestDispatcher_FailedStartReleasesDedupClaim(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	eng := &mocks.MockEngine{}
	guard := &claimGuard{claimed: map[string]bool{}}

	eng.On("Start", mock.Anything, mock.Anything, "sender-1", mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable")).Once()
	eng.On("Start", mock.Anything, mock.Anything, "sender-1", mock.Anything, mock.Anything).
		Return(&models.Execution{ID: "execution-1"}, nil).Once()

	dispatcher := ingest.NewDispatcher(f.store, eng, guard, testLogger(), ingest.WithClock(f.clock.Now))

	f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))

	result, err := dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.DispatchResult{Processed: 1}, result)
	assert.Equal(t, 1, guard.released)

	f.clock.Advance(time.Second)
	f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))

	result, err = dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Started)
	assert.Equal(t, 0, result.Deduplicated)
	eng.AssertExpectations(t)
}

func TestDispatcher_UnmatchedEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"keyword absent", directMessage("ig-account-1", "sender-1", "bom dia")},
		{"unknown account", directMessage("ig-account-9", "sender-1", "oi")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t)
			f.receive(t, tt.payload)

			result, err := f.dispatcher.Dispatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ingest.DispatchResult{Processed: 1, Unmatched: 1}, result)
			assert.Empty(t, f.executions(t))
		})
	}
}

func TestDispatcher_InvalidPayloadIsMarkedProcessed(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.receive(t, []byte(`{"object":"instagram"}`))
	f.receive(t, directMessage("ig-account-1", "sender-1", "oi"))

	result, err := f.dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.DispatchResult{Processed: 2, Invalid: 1, Started: 1}, result)

	pending, err := f.store.UnprocessedInboundEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_DrainsInBatches(t *testing.T) {
	f := newDispatchFixture(t)
	store := f.store
	logger := testLogger()
	eng := &mocks.MockEngine{}

	eng.On("Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.Execution{ID: "execution"}, nil)

	dispatcher := ingest.NewDispatcher(store, eng, alwaysAllow{}, logger, ingest.WithBatchSize(2))

	for i := range 5 {
		f.receive(t, directMessage("ig-account-1", fmt.Sprintf("sender-%d", i), "oi"))
	}

	result, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 5, result.Started)
	eng.AssertNumberOfCalls(t, "Start", 5)
}

func TestDispatcher_ButtonPressResumesExecution(t *testing.T) {
	f := newDispatchFixture(t)
	eng := &mocks.MockEngine{}

	eng.On("Resume", mock.Anything, "execution-1", "sender-1", "quero").Return(nil).Once()
	eng.On("Resume", mock.Anything, "execution-2", "sender-2", "nao").Return(engine.ErrNotWaiting).Once()

	dispatcher := ingest.NewDispatcher(f.store, eng, alwaysAllow{}, testLogger())

	f.receive(t, []byte(`{"object":"instagram","entry":[{"id":"ig-account-1","messaging":[
		{"sender":{"id":"sender-1"},"recipient":{"id":"ig-account-1"},"postback":{"title":"Quero","payload":"flow:execution-1:quero"}},
		{"sender":{"id":"sender-2"},"recipient":{"id":"ig-account-1"},"postback":{"title":"Não","payload":"flow:execution-2:nao"}}
	]}]}`))

	result, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resumed)
	eng.AssertExpectations(t)
	eng.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type alwaysAllow struct{}

func (alwaysAllow) Allow(context.Context, string, string, time.Time) (bool, error) {
	return true, nil
}

func (alwaysAllow) Release(context.Context, string, string, time.Time) error {
	return nil
}

// claimGuard claims a pair until released, like a key that never expires.
type claimGuard struct {
	claimed  map[string]bool
	released int
}

func (g *claimGuard) Allow(_ context.Context, automationID, senderID string, _ time.Time) (bool, error) {
	key := automationID + ":" + senderID
	if g.claimed[key] {
		return false, nil
	}

	g.claimed[key] = true

	return true, nil
}

func (g *claimGuard) Release(_ context.Context, automationID, senderID string, _ time.Time) error {
	delete(g.claimed, automationID+":"+senderID)
	g.released++

	return nil
}
