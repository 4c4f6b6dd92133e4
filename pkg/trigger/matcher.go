// Package trigger selects which published automation, if any, an inbound message fires.
package trigger

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/ogabrielsv/creatye/pkg/models"
)

// Event is the matcher input extracted from one inbound webhook event.
type Event struct {
	RecipientExternalID string
	SenderExternalID    string
	Text                string
	Channel             models.Channel
}

// MatchResult names the automation that fired and the trigger that matched.
type MatchResult struct {
	Automation *models.Automation
	Trigger    models.Trigger
}

// Matcher is pure: the result depends only on the event and the candidates.
type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Match returns the first automation whose triggers match the event text, trying the
// most recently updated candidates first. Candidates must belong to the account the
// event was addressed to.
func (m *Matcher) Match(event Event, candidates []*models.Automation) (*MatchResult, bool) {
	ordered := make([]*models.Automation, 0, len(candidates))

	for _, automation := range candidates {
		if automation.Runnable() && automation.PublishedVersionID != "" && automation.ListensOn(event.Channel) {
			ordered = append(ordered, automation)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].UpdatedAt.Equal(ordered[j].UpdatedAt) {
			return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
		}

		return ordered[i].ID < ordered[j].ID
	})

	for _, automation := range ordered {
		for _, trigger := range automation.Triggers {
			if Matches(trigger, event.Text) {
				m.logger.Debug("Automation matched",
					"automation_id", automation.ID,
					"keyword", trigger.Keyword,
					"match_mode", trigger.MatchMode,
					"channel", event.Channel)

				return &MatchResult{Automation: automation, Trigger: trigger}, true
			}
		}
	}

	m.logger.Debug("No automation matched",
		"channel", event.Channel,
		"candidates", len(candidates),
		"eligible", len(ordered))

	return nil, false
}

// Matches evaluates a single trigger against inbound text.
func Matches(trigger models.Trigger, text string) bool {
	if trigger.Type != models.TriggerTypeKeyword {
		return false
	}

	keyword := strings.TrimSpace(trigger.Keyword)
	if keyword == "" {
		return false
	}

	text = strings.TrimSpace(text)

	if !trigger.CaseSensitive {
		keyword = strings.ToLower(keyword)
		text = strings.ToLower(text)
	}

	switch trigger.MatchMode {
	case models.MatchModeContains:
		return strings.Contains(text, keyword)
	default:
		return text == keyword
	}
}
