// Package models defines the core domain models for keyword-triggered messaging automations
package models

import (
	"slices"
	"time"
)

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft     AutomationStatus = "draft"     // Editable, never matched
	AutomationStatusPublished AutomationStatus = "published" // Has a published version, matched by triggers
	AutomationStatusPaused    AutomationStatus = "paused"    // Keeps its versions, not matched
)

// Channel is the inbound surface an event arrived on.
type Channel string

const (
	ChannelDM           Channel = "dm"
	ChannelComment      Channel = "comment"
	ChannelStoryMention Channel = "story_mention"
	ChannelStoryReply   Channel = "story_reply"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelDM, ChannelComment, ChannelStoryMention, ChannelStoryReply:
		return true
	}

	return false
}

const TriggerTypeKeyword = "keyword"

// MatchMode selects how a keyword trigger compares against inbound text.
type MatchMode string

const (
	MatchModeContains MatchMode = "contains"
	MatchModeExact    MatchMode = "exact"
	MatchModeEquals   MatchMode = "equals"
)

// Trigger fires an automation. Only keyword triggers are evaluated.
type Trigger struct {
	Type          string    `json:"type"           validate:"required"`
	Keyword       string    `json:"keyword"        validate:"required_if=Type keyword"`
	MatchMode     MatchMode `json:"match_mode"`
	CaseSensitive bool      `json:"case_sensitive"`
}

// Automation is a user-owned rule binding triggers to a message flow.
// Nodes and Edges hold the editable draft graph; executions always run a Version.
type Automation struct {
	ID                 string           `json:"id"`
	OwnerID            string           `json:"owner_id"   validate:"required"`
	Name               string           `json:"name"       validate:"required,min=1"`
	Status             AutomationStatus `json:"status"     validate:"required,oneof=draft published paused"`
	IsActive           bool             `json:"is_active"`
	Triggers           []Trigger        `json:"triggers"   validate:"dive"`
	Channels           []Channel        `json:"channels"`
	Nodes              []*Node          `json:"nodes"`
	Edges              []*Edge          `json:"edges"`
	PublishedVersionID string           `json:"published_version_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	DeletedAt          *time.Time       `json:"deleted_at,omitempty"`
}

func (a *Automation) ListensOn(channel Channel) bool {
	return slices.Contains(a.Channels, channel)
}

func (a *Automation) IsDeleted() bool {
	return a.DeletedAt != nil
}

// Runnable reports whether new executions may be started or advanced for the automation.
func (a *Automation) Runnable() bool {
	return a.Status == AutomationStatusPublished && a.IsActive && !a.IsDeleted()
}
