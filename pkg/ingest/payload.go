// Package ingest turns queued webhook deliveries into executions.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/trigger"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

const payloadSchema = `{
	"type": "object",
	"required": ["object", "entry"],
	"properties": {
		"object": {"type": "string", "minLength": 1},
		"entry": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"messaging": {"type": "array", "items": {"type": "object"}},
					"changes": {"type": "array", "items": {"type": "object"}}
				}
			}
		}
	}
}`

var schema = mustSchema(payloadSchema)

func mustSchema(source string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("ingest: invalid payload schema: %v", err))
	}

	return s
}

// Webhook is the envelope the provider posts for every subscription field.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
	Changes   []Change    `json:"changes"`
}

type Party struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type Messaging struct {
	Sender    Party     `json:"sender"`
	Recipient Party     `json:"recipient"`
	Timestamp int64     `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
}

type Message struct {
	Mid         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	ReplyTo     *ReplyTo     `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type ReplyTo struct {
	Mid   string `json:"mid,omitempty"`
	Story *Story `json:"story,omitempty"`
}

type Story struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type Postback struct {
	Mid     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Change is a feed notification; comments arrive as field "comments" or "live_comments".
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	From  Party  `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

// ButtonPress is a flow button postback addressed to a waiting execution.
type ButtonPress struct {
	ExecutionID string
	ButtonID    string
	SenderID    string
}

// Extracted holds what one webhook delivery asks the engine to do.
type Extracted struct {
	Messages []trigger.Event
	Presses  []ButtonPress
}

// Parse validates a raw delivery and extracts text events and flow button presses.
// Echoes of messages sent by the account itself are dropped.
func Parse(raw []byte) (*Extracted, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}

	var webhook Webhook

	err = json.Unmarshal(raw, &webhook)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	extracted := &Extracted{}

	for _, entry := range webhook.Entry {
		for _, messaging := range entry.Messaging {
			extractMessaging(extracted, entry, messaging)
		}

		for _, change := range entry.Changes {
			if change.Field != "comments" && change.Field != "live_comments" {
				continue
			}

			if change.Value.From.ID == "" || change.Value.From.ID == entry.ID {
				continue
			}

			extracted.Messages = append(extracted.Messages, trigger.Event{
				RecipientExternalID: entry.ID,
				SenderExternalID:    change.Value.From.ID,
				Text:                change.Value.Text,
				Channel:             models.ChannelComment,
			})
		}
	}

	return extracted, nil
}

func extractMessaging(extracted *Extracted, entry Entry, messaging Messaging) {
	recipient := messaging.Recipient.ID
	if recipient == "" {
		recipient = entry.ID
	}

	if messaging.Postback != nil {
		executionID, buttonID, ok := delivery.ParseFlowPayload(messaging.Postback.Payload)
		if ok {
			extracted.Presses = append(extracted.Presses, ButtonPress{
				ExecutionID: executionID,
				ButtonID:    buttonID,
				SenderID:    messaging.Sender.ID,
			})
		}

		return
	}

	message := messaging.Message
	if message == nil || message.IsEcho || messaging.Sender.ID == "" || messaging.Sender.ID == entry.ID {
		return
	}

	channel := models.ChannelDM

	switch {
	case message.ReplyTo != nil && message.ReplyTo.Story != nil:
		channel = models.ChannelStoryReply
	case hasAttachment(message, "story_mention"):
		channel = models.ChannelStoryMention
	}

	extracted.Messages = append(extracted.Messages, trigger.Event{
		RecipientExternalID: recipient,
		SenderExternalID:    messaging.Sender.ID,
		Text:                message.Text,
		Channel:             channel,
	})
}

func hasAttachment(message *Message, kind string) bool {
	for _, attachment := range message.Attachments {
		if attachment.Type == kind {
			return true
		}
	}

	return false
}
