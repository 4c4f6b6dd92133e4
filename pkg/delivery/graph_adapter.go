package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Adapter sends one rendered payload to one recipient.
type Adapter interface {
	Send(ctx context.Context, credential *models.Credential, recipientID string, payload Payload) (*Result, error)
}

// Graph API error code for an invalid or expired access token.
const graphCodeInvalidToken = 190

// GraphAdapter delivers messages through the Instagram Graph API send endpoint.
type GraphAdapter struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewGraphAdapter(baseURL string, logger *slog.Logger) *GraphAdapter {
	return &GraphAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "graph_adapter"),
	}
}

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type attachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string   `json:"template_type"`
	Text         string   `json:"text,omitempty"`
	Buttons      []Button `json:"buttons,omitempty"`
	Elements     []Card   `json:"elements,omitempty"`
}

type graphError struct {
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Envelope builds the Graph API request body for a payload.
func Envelope(recipientID string, payload Payload) (any, error) {
	req := sendRequest{Recipient: recipient{ID: recipientID}}

	switch payload.Kind {
	case KindText:
		req.Message.Text = payload.Text
	case KindButtons:
		req.Message.Attachment = &attachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "button",
				Text:         payload.Text,
				Buttons:      payload.Buttons,
			},
		}
	case KindCarousel:
		req.Message.Attachment = &attachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "generic",
				Elements:     payload.Cards,
			},
		}
	default:
		return nil, &Error{Kind: KindPermanent, Message: fmt.Sprintf("unsupported payload kind %q", payload.Kind)}
	}

	return req, nil
}

func (a *GraphAdapter) Send(ctx context.Context, credential *models.Credential, recipientID string, payload Payload) (*Result, error) {
	envelope, err := Envelope(recipientID, payload)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	endpoint := a.baseURL + "/" + credential.ChannelAccountID + "/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classify(resp.StatusCode, respBody)
	}

	var result Result

	err = json.Unmarshal(respBody, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}

	a.logger.DebugContext(ctx, "message delivered",
		"recipient_id", recipientID,
		"message_id", result.MessageID,
		"kind", payload.Kind)

	return &result, nil
}

func classify(statusCode int, body []byte) *Error {
	deliveryErr := &Error{StatusCode: statusCode}

	var decoded graphError
	if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
		deliveryErr.Code = decoded.Error.Code
		deliveryErr.Message = decoded.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || deliveryErr.Code == graphCodeInvalidToken:
		deliveryErr.Kind = KindAuth
	case statusCode >= http.StatusInternalServerError:
		deliveryErr.Kind = KindTransient
	default:
		deliveryErr.Kind = KindPermanent
	}

	return deliveryErr
}
