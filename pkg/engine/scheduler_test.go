package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/engine"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestScheduler_KeywordMessageFinishesInOneTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}))

	f.adapter.On("Send", mock.Anything, mock.MatchedBy(func(c *models.Credential) bool {
		return c.AccessToken == "token"
	}), recipient, delivery.Text("aprovado")).Return(&delivery.Result{MessageID: "mid.1"}, nil).Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), map[string]any{"text": "oi"})
	require.NoError(t, err)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, 1, result.Advanced)
	assert.Equal(t, 1, result.Finished)
	assert.False(t, result.Truncated)

	finished := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFinished, finished.Status)
	assert.Equal(t, "message-1", finished.CurrentNodeID)
	assert.NotNil(t, finished.FinishedAt)

	jobs, err := f.store.JobsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	for _, job := range jobs {
		assert.Equal(t, models.JobStatusDone, job.Status)
	}

	f.adapter.AssertExpectations(t)
}

func TestScheduler_TerminatesWithinNodeCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	graph := testutil.Chain(
		models.AddTagData{Tag: "lead"},
		models.MessageData{Text: "Olá {{ .recipient_id }}"},
		models.MessageData{Text: "Você disse {{ .context.text }}"},
		models.RemoveTagData{Tag: "lead"},
	)
	automation := f.publish(t, graph)

	f.expectText("Olá recipient-1").Once()
	f.expectText("Você disse oi").Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), map[string]any{"text": "oi"})
	require.NoError(t, err)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Claimed, len(graph.Nodes))
	assert.Equal(t, 1, result.Finished)

	assert.Equal(t, models.ExecutionStatusFinished, f.execution(t, execution.ID).Status)

	tags, err := f.store.Tags(ctx, "owner-1", recipient)
	require.NoError(t, err)
	assert.Empty(t, tags)

	f.adapter.AssertExpectations(t)
}

func TestScheduler_CollapsesConsecutiveWaits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	graph := testutil.Chain(
		models.MessageData{Text: "a"},
		models.WaitData{Duration: 5},
		models.WaitData{Amount: 1, Unit: "minutes"},
		models.MessageData{Text: "b"},
	)
	automation := f.publish(t, graph)
	started := f.clock.Now()

	f.expectText("a").Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	_, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)

	jobs, err := f.store.JobsByExecution(ctx, execution.ID)
	require.NoError(t, err)

	for _, job := range jobs {
		assert.False(t, strings.HasPrefix(job.Payload.NodeID, "wait"), "job %s targets a wait node", job.ID)
	}

	queued := f.queued(t, execution.ID)
	require.Len(t, queued, 1)
	assert.Equal(t, "message-4", queued[0].Payload.NodeID)
	assert.Equal(t, started.Add(65*time.Second), queued[0].RunAt)

	running := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, running.Status)
	assert.Equal(t, "message-4", running.CurrentNodeID)

	f.clock.Advance(30 * time.Second)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Claimed)

	f.expectText("b").Once()
	f.clock.Advance(35 * time.Second)

	result, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)

	f.adapter.AssertExpectations(t)
}

func TestScheduler_ConditionTagRouting(t *testing.T) {
	tests := []struct {
		name     string
		tagged   bool
		expected string
	}{
		{"recipient holds tag", true, "vip"},
		{"recipient lacks tag", false, "comum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			graph := &testutil.Graph{
				Nodes: []*models.Node{
					testutil.Node("start", models.StartData{}),
					testutil.Node("cond", models.ConditionTagData{Tag: "vip"}),
					testutil.Node("yes", models.MessageData{Text: "vip"}),
					testutil.Node("no", models.MessageData{Text: "comum"}),
				},
				Edges: []*models.Edge{
					testutil.Edge("start", "cond"),
					testutil.HandleEdge("cond", models.HandleTrue, "yes"),
					testutil.HandleEdge("cond", models.HandleFalse, "no"),
				},
			}
			automation := f.publish(t, graph)

			if tt.tagged {
				require.NoError(t, f.store.AddTag(ctx, "owner-1", recipient, "vip"))
			}

			f.expectText(tt.expected).Once()

			_, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
			require.NoError(t, err)

			result, err := f.scheduler.Tick(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Finished)

			f.adapter.AssertExpectations(t)
		})
	}
}

func TestScheduler_AddTagFeedsCondition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	graph := &testutil.Graph{
		Nodes: []*models.Node{
			testutil.Node("start", models.StartData{}),
			testutil.Node("tag", models.AddTagData{Tag: "cliente"}),
			testutil.Node("cond", models.ConditionTagData{Tag: "cliente"}),
			testutil.Node("yes", models.MessageData{Text: "bem-vindo de volta"}),
		},
		Edges: []*models.Edge{
			testutil.Edge("start", "tag"),
			testutil.Edge("tag", "cond"),
			testutil.HandleEdge("cond", models.HandleTrue, "yes"),
		},
	}
	automation := f.publish(t, graph)

	f.expectText("bem-vindo de volta").Once()

	_, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	_, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)

	has, err := f.store.HasTag(ctx, "owner-1", recipient, "cliente")
	require.NoError(t, err)
	assert.True(t, has)

	f.adapter.AssertExpectations(t)
}

func TestScheduler_AuthErrorFlagsCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}))

	f.adapter.On("Send", mock.Anything, mock.Anything, recipient, mock.Anything).
		Return(nil, &delivery.Error{Kind: delivery.KindAuth, StatusCode: 401, Code: 190, Message: "Error validating access token"}).
		Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "Error validating access token")

	credential, err := f.store.CredentialByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, credential.NeedsReconnect)

	second, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	_, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)

	assert.Contains(t, f.execution(t, second.ID).Error, "reconnect")
	f.adapter.AssertNumberOfCalls(t, "Send", 1)
}

func TestScheduler_TransientDeliveryErrorFailsExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}, models.MessageData{Text: "depois"}))

	f.adapter.On("Send", mock.Anything, mock.Anything, recipient, delivery.Text("aprovado")).
		Return(nil, &delivery.Error{Kind: delivery.KindTransient, StatusCode: 503, Message: "Service temporarily unavailable"}).
		Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Finished)

	failed := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "Service temporarily unavailable")

	jobs, err := f.store.JobsByExecution(ctx, execution.ID)
	require.NoError(t, err)

	var failedJobs int

	for _, job := range jobs {
		assert.NotEqual(t, models.JobStatusQueued, job.Status, "no successor job is queued")

		if job.Status == models.JobStatusFailed {
			failedJobs++

			assert.Equal(t, "message-1", job.Payload.NodeID)
			assert.Contains(t, job.Error, "Service temporarily unavailable")
		}
	}

	assert.Equal(t, 1, failedJobs)

	credential, err := f.store.CredentialByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, credential.NeedsReconnect)

	f.adapter.AssertExpectations(t)
}

func TestScheduler_FencesPausedAutomation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}))

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	automation.Status = models.AutomationStatusPaused
	require.NoError(t, f.store.SaveAutomation(ctx, automation))

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, engine.ErrNotRunnable.Error(), failed.Error)

	f.adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduler_MissingNodeFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}))
	now := f.clock.Now()

	execution := &models.Execution{
		ID:            uuid.New().String(),
		AutomationID:  automation.ID,
		VersionID:     automation.PublishedVersionID,
		OwnerID:       automation.OwnerID,
		RecipientID:   recipient,
		CurrentNodeID: "ghost",
		Status:        models.ExecutionStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job := &models.Job{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		RunAt:       now,
		Status:      models.JobStatusQueued,
		Payload:     models.JobPayload{NodeID: "ghost"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.store.CreateExecution(ctx, execution, job))

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "node not found")

	jobs, err := f.store.JobsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "ghost")
}

func TestScheduler_RequeuesExpiredClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "aprovado"}))

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	queued := f.queued(t, execution.ID)
	require.Len(t, queued, 1)

	claimed, err := f.store.ClaimJob(ctx, queued[0].ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Requeued)
	assert.Zero(t, result.Claimed)

	f.expectText("aprovado").Once()
	f.clock.Advance(engine.DefaultLease + time.Second)

	result, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)
	assert.Equal(t, 1, result.Finished)

	f.adapter.AssertExpectations(t)
}

func TestScheduler_CapsJobsPerTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scheduler := engine.NewScheduler(f.engine, engine.WithMaxJobs(2), engine.WithBatchSize(1))
	automation := f.publish(t, testutil.Chain(models.MessageData{Text: "a"}, models.MessageData{Text: "b"}))

	f.expectText("a").Once()
	f.expectText("b").Once()

	execution, err := f.engine.Start(ctx, automation, recipient, f.clock.Now(), nil)
	require.NoError(t, err)

	result, err := scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.True(t, result.Truncated)
	assert.Equal(t, models.ExecutionStatusRunning, f.execution(t, execution.ID).Status)

	result, err = scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, models.ExecutionStatusFinished, f.execution(t, execution.ID).Status)

	f.adapter.AssertExpectations(t)
}
