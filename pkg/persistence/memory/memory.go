// Package memory provides an in-process persistence implementation for tests and local runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// Persistence keeps every entity in maps guarded by one mutex, so each method is atomic
// the same way a single SQL transaction is.
type Persistence struct {
	mu sync.Mutex

	automations map[string]*models.Automation
	versions    map[string]*models.Version
	executions  map[string]*models.Execution
	jobs        map[string]*models.Job
	credentials map[string]*models.Credential
	events      map[int64]*models.InboundEvent
	tags        map[tagKey]struct{}

	lastEventID int64
	seq         int64
	order       map[string]int64
}

type tagKey struct {
	ownerID, recipientID, tag string
}

var _ persistence.Persistence = (*Persistence)(nil)

func NewPersistence() *Persistence {
	return &Persistence{
		automations: make(map[string]*models.Automation),
		versions:    make(map[string]*models.Version),
		executions:  make(map[string]*models.Execution),
		jobs:        make(map[string]*models.Job),
		credentials: make(map[string]*models.Credential),
		events:      make(map[int64]*models.InboundEvent),
		tags:        make(map[tagKey]struct{}),
		order:       make(map[string]int64),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// insertion order breaks timestamp ties the way a serial column would.
func (p *Persistence) track(id string) {
	if _, ok := p.order[id]; !ok {
		p.seq++
		p.order[id] = p.seq
	}
}

func copyAutomation(a *models.Automation) *models.Automation {
	c := *a
	c.Triggers = slices.Clone(a.Triggers)
	c.Channels = slices.Clone(a.Channels)
	c.Nodes = slices.Clone(a.Nodes)
	c.Edges = slices.Clone(a.Edges)

	return &c
}

func copyVersion(v *models.Version) *models.Version {
	c := *v
	c.Nodes = slices.Clone(v.Nodes)
	c.Edges = slices.Clone(v.Edges)

	return &c
}

func copyExecution(e *models.Execution) *models.Execution {
	c := *e
	c.Context = maps.Clone(e.Context)

	return &c
}

func copyJob(j *models.Job) *models.Job {
	c := *j

	return &c
}

func copyCredential(cr *models.Credential) *models.Credential {
	c := *cr

	return &c
}

// Automations

func (p *Persistence) SaveAutomation(_ context.Context, automation *models.Automation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track(automation.ID)
	p.automations[automation.ID] = copyAutomation(automation)

	return nil
}

func (p *Persistence) AutomationByID(_ context.Context, id string) (*models.Automation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	automation, ok := p.automations[id]
	if !ok || automation.IsDeleted() {
		return nil, persistence.NewEntityError("AutomationByID", "automation", id, persistence.ErrAutomationNotFound)
	}

	return copyAutomation(automation), nil
}

func (p *Persistence) AutomationsByOwner(_ context.Context, ownerID string) ([]*models.Automation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.Automation{}

	for _, automation := range p.automations {
		if automation.OwnerID == ownerID && !automation.IsDeleted() {
			result = append(result, copyAutomation(automation))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return p.order[result[i].ID] < p.order[result[j].ID]
	})

	return result, nil
}

func (p *Persistence) DeleteAutomation(_ context.Context, id string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	automation, ok := p.automations[id]
	if !ok || automation.IsDeleted() {
		return persistence.NewEntityError("DeleteAutomation", "automation", id, persistence.ErrAutomationNotFound)
	}

	automation.DeletedAt = &at
	automation.IsActive = false
	automation.UpdatedAt = at

	return nil
}

// Versions

func (p *Persistence) PublishVersion(_ context.Context, version *models.Version) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	automation, ok := p.automations[version.AutomationID]
	if !ok || automation.IsDeleted() {
		return persistence.NewEntityError("PublishVersion", "automation", version.AutomationID, persistence.ErrAutomationNotFound)
	}

	latest := 0

	for _, v := range p.versions {
		if v.AutomationID != version.AutomationID {
			continue
		}

		latest = max(latest, v.Version)
		v.IsPublished = false
	}

	version.Version = latest + 1
	version.IsPublished = true

	p.track(version.ID)
	p.versions[version.ID] = copyVersion(version)

	automation.PublishedVersionID = version.ID
	automation.Status = models.AutomationStatusPublished
	automation.UpdatedAt = version.CreatedAt

	return nil
}

func (p *Persistence) VersionByID(_ context.Context, id string) (*models.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	version, ok := p.versions[id]
	if !ok {
		return nil, persistence.NewEntityError("VersionByID", "version", id, persistence.ErrVersionNotFound)
	}

	return copyVersion(version), nil
}

func (p *Persistence) Versions(_ context.Context, automationID string) ([]*models.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.Version{}

	for _, v := range p.versions {
		if v.AutomationID == automationID {
			result = append(result, copyVersion(v))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Version > result[j].Version })

	return result, nil
}

// Executions

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution, first *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track(execution.ID)
	p.executions[execution.ID] = copyExecution(execution)

	if first != nil {
		p.track(first.ID)
		p.jobs[first.ID] = copyJob(first)
	}

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewEntityError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	return copyExecution(execution), nil
}

func (p *Persistence) newestFirst(executions []*models.Execution) {
	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].CreatedAt.After(executions[j].CreatedAt)
		}

		return p.order[executions[i].ID] > p.order[executions[j].ID]
	})
}

func (p *Persistence) Executions(_ context.Context, automationID string, limit int) ([]*models.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.Execution{}

	for _, e := range p.executions {
		if e.AutomationID == automationID {
			result = append(result, copyExecution(e))
		}
	}

	p.newestFirst(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (p *Persistence) LatestExecution(_ context.Context, automationID, recipientID string) (*models.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := []*models.Execution{}

	for _, e := range p.executions {
		if e.AutomationID == automationID && e.RecipientID == recipientID {
			matches = append(matches, e)
		}
	}

	if len(matches) == 0 {
		return nil, persistence.NewEntityError("LatestExecution", "execution", "", persistence.ErrExecutionNotFound)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].TriggeredAt.Equal(matches[j].TriggeredAt) {
			return matches[i].TriggeredAt.After(matches[j].TriggeredAt)
		}

		return p.order[matches[i].ID] > p.order[matches[j].ID]
	})

	return copyExecution(matches[0]), nil
}

func (p *Persistence) UpdateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.executions[execution.ID]; !ok {
		return persistence.NewEntityError("UpdateExecution", "execution", execution.ID, persistence.ErrExecutionNotFound)
	}

	p.executions[execution.ID] = copyExecution(execution)

	return nil
}

// Jobs

func (p *Persistence) DueJobs(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.Job{}

	for _, j := range p.jobs {
		if j.Status == models.JobStatusQueued && !j.RunAt.After(now) {
			result = append(result, copyJob(j))
		}
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].RunAt.Equal(result[k].RunAt) {
			return result[i].RunAt.Before(result[k].RunAt)
		}

		return p.order[result[i].ID] < p.order[result[k].ID]
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (p *Persistence) ClaimJob(_ context.Context, id string, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[id]
	if !ok {
		return false, persistence.NewEntityError("ClaimJob", "job", id, persistence.ErrJobNotFound)
	}

	if job.Status != models.JobStatusQueued {
		return false, nil
	}

	job.Status = models.JobStatusProcessing
	job.ClaimedAt = &now
	job.UpdatedAt = now

	return true, nil
}

func (p *Persistence) CompleteJob(_ context.Context, job *models.Job, execution *models.Execution, next *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.jobs[job.ID]
	if !ok {
		return persistence.NewEntityError("CompleteJob", "job", job.ID, persistence.ErrJobNotFound)
	}

	if stored.Status != models.JobStatusProcessing {
		return persistence.NewEntityError("CompleteJob", "job", job.ID, persistence.ErrJobNotClaimed)
	}

	job.Status = models.JobStatusDone
	*stored = *job

	if execution != nil {
		p.executions[execution.ID] = copyExecution(execution)
	}

	if next != nil {
		p.track(next.ID)
		p.jobs[next.ID] = copyJob(next)
	}

	return nil
}

func (p *Persistence) FailJob(_ context.Context, job *models.Job, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.jobs[job.ID]
	if !ok {
		return persistence.NewEntityError("FailJob", "job", job.ID, persistence.ErrJobNotFound)
	}

	if stored.Status != models.JobStatusProcessing {
		return persistence.NewEntityError("FailJob", "job", job.ID, persistence.ErrJobNotClaimed)
	}

	job.Status = models.JobStatusFailed
	*stored = *job

	if execution != nil {
		p.executions[execution.ID] = copyExecution(execution)
	}

	return nil
}

func (p *Persistence) EnqueueJob(_ context.Context, execution *models.Execution, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.executions[execution.ID]; !ok {
		return persistence.NewEntityError("EnqueueJob", "execution", execution.ID, persistence.ErrExecutionNotFound)
	}

	p.executions[execution.ID] = copyExecution(execution)
	p.track(job.ID)
	p.jobs[job.ID] = copyJob(job)

	return nil
}

func (p *Persistence) RequeueStaleJobs(_ context.Context, claimedBefore time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0

	for _, j := range p.jobs {
		if j.Status == models.JobStatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			j.Status = models.JobStatusQueued
			j.ClaimedAt = nil
			count++
		}
	}

	return count, nil
}

func (p *Persistence) JobsByExecution(_ context.Context, executionID string) ([]*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.Job{}

	for _, j := range p.jobs {
		if j.ExecutionID == executionID {
			result = append(result, copyJob(j))
		}
	}

	sort.Slice(result, func(i, k int) bool { return p.order[result[i].ID] < p.order[result[k].ID] })

	return result, nil
}

// Credentials

func (p *Persistence) SaveCredential(_ context.Context, credential *models.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.credentials[credential.ID] = copyCredential(credential)

	return nil
}

func (p *Persistence) findCredential(match func(*models.Credential) bool) *models.Credential {
	var found *models.Credential

	for _, c := range p.credentials {
		if match(c) && (found == nil || c.UpdatedAt.After(found.UpdatedAt)) {
			found = c
		}
	}

	return found
}

func (p *Persistence) CredentialByOwner(_ context.Context, ownerID string) (*models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := p.findCredential(func(c *models.Credential) bool { return c.OwnerID == ownerID })
	if found == nil {
		return nil, persistence.NewEntityError("CredentialByOwner", "credential", ownerID, persistence.ErrCredentialNotFound)
	}

	return copyCredential(found), nil
}

func (p *Persistence) CredentialByChannelAccount(_ context.Context, channelAccountID string) (*models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := p.findCredential(func(c *models.Credential) bool { return c.ChannelAccountID == channelAccountID })
	if found == nil {
		return nil, persistence.NewEntityError("CredentialByChannelAccount", "credential", channelAccountID, persistence.ErrCredentialNotFound)
	}

	return copyCredential(found), nil
}

func (p *Persistence) SwapCredentialToken(_ context.Context, id, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	credential, ok := p.credentials[id]
	if !ok {
		return false, persistence.NewEntityError("SwapCredentialToken", "credential", id, persistence.ErrCredentialNotFound)
	}

	if credential.AccessToken != oldToken {
		return false, nil
	}

	credential.AccessToken = newToken
	credential.ExpiresAt = expiresAt
	credential.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (p *Persistence) MarkCredentialReconnect(_ context.Context, id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	credential, ok := p.credentials[id]
	if !ok {
		return persistence.NewEntityError("MarkCredentialReconnect", "credential", id, persistence.ErrCredentialNotFound)
	}

	credential.NeedsReconnect = true
	credential.ReconnectReason = reason
	credential.UpdatedAt = time.Now().UTC()

	return nil
}

// Inbound events

func (p *Persistence) AppendInboundEvent(_ context.Context, payload []byte, receivedAt time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastEventID++
	p.events[p.lastEventID] = &models.InboundEvent{
		ID:         p.lastEventID,
		Payload:    slices.Clone(payload),
		ReceivedAt: receivedAt,
	}

	return p.lastEventID, nil
}

func (p *Persistence) UnprocessedInboundEvents(_ context.Context, limit int) ([]*models.InboundEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []*models.InboundEvent{}

	for _, e := range p.events {
		if e.ProcessedAt == nil {
			c := *e
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (p *Persistence) MarkInboundEventProcessed(_ context.Context, id int64, at time.Time, processingErr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event, ok := p.events[id]
	if !ok {
		return persistence.NewEntityError("MarkInboundEventProcessed", "inbound event", "", persistence.ErrInboundEventNotFound)
	}

	event.ProcessedAt = &at
	event.Error = processingErr

	return nil
}

// Tags

func (p *Persistence) AddTag(_ context.Context, ownerID, recipientID, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tags[tagKey{ownerID, recipientID, tag}] = struct{}{}

	return nil
}

func (p *Persistence) RemoveTag(_ context.Context, ownerID, recipientID, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tags, tagKey{ownerID, recipientID, tag})

	return nil
}

func (p *Persistence) HasTag(_ context.Context, ownerID, recipientID, tag string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.tags[tagKey{ownerID, recipientID, tag}]

	return ok, nil
}

func (p *Persistence) Tags(_ context.Context, ownerID, recipientID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := []string{}

	for key := range p.tags {
		if key.ownerID == ownerID && key.recipientID == recipientID {
			result = append(result, key.tag)
		}
	}

	sort.Strings(result)

	return result, nil
}
