// Package delivery sends rendered node payloads to the messaging channel.
package delivery

import (
	"strings"

	"github.com/ogabrielsv/creatye/pkg/models"
)

type Kind string

const (
	KindText     Kind = "text"
	KindButtons  Kind = "buttons"
	KindCarousel Kind = "carousel"
)

const (
	ButtonWebURL   = "web_url"
	ButtonPostback = "postback"
)

const flowPayloadPrefix = "flow:"

// Payload is the channel-neutral envelope handed to an Adapter.
type Payload struct {
	Kind    Kind
	Text    string
	Buttons []Button
	Cards   []Card
}

type Button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Result identifies the message accepted by the provider.
type Result struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func Text(text string) Payload {
	return Payload{Kind: KindText, Text: text}
}

// FromButtons renders a buttons node. Flow buttons become postbacks that resume the execution.
func FromButtons(executionID, text string, data models.ButtonsData) Payload {
	return Payload{
		Kind:    KindButtons,
		Text:    text,
		Buttons: convertButtons(executionID, data.Buttons),
	}
}

func FromCards(executionID string, data models.CardsData) Payload {
	cards := make([]Card, 0, len(data.Cards))

	for _, card := range data.Cards {
		cards = append(cards, Card{
			Title:    card.Title,
			Subtitle: card.Subtitle,
			ImageURL: card.ImageURL,
			Buttons:  convertButtons(executionID, card.Buttons),
		})
	}

	return Payload{Kind: KindCarousel, Cards: cards}
}

func convertButtons(executionID string, buttons []models.Button) []Button {
	converted := make([]Button, 0, len(buttons))

	for _, button := range buttons {
		if button.Type == models.ButtonTypeURL {
			converted = append(converted, Button{Type: ButtonWebURL, Title: button.Title, URL: button.URL})

			continue
		}

		converted = append(converted, Button{
			Type:    ButtonPostback,
			Title:   button.Title,
			Payload: FlowPayload(executionID, button.ID),
		})
	}

	return converted
}

// FlowPayload is the postback payload of a flow button: flow:<execution_id>:<button_id>.
func FlowPayload(executionID, buttonID string) string {
	return flowPayloadPrefix + executionID + ":" + buttonID
}

// ParseFlowPayload reverses FlowPayload.
func ParseFlowPayload(payload string) (executionID, buttonID string, ok bool) {
	rest, found := strings.CutPrefix(payload, flowPayloadPrefix)
	if !found {
		return "", "", false
	}

	executionID, buttonID, found = strings.Cut(rest, ":")
	if !found || executionID == "" || buttonID == "" {
		return "", "", false
	}

	return executionID, buttonID, true
}
