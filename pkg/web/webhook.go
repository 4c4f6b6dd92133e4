package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/events"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// WebhookHandlers serve the provider subscription endpoint.
type WebhookHandlers struct {
	inbound     persistence.InboundEventRepository
	publisher   eventbus.EventPublisher
	verifyToken string
	logger      *slog.Logger
}

// NewWebhookHandlers creates the webhook handlers. publisher may be nil.
func NewWebhookHandlers(
	inbound persistence.InboundEventRepository,
	publisher eventbus.EventPublisher,
	verifyToken string,
	logger *slog.Logger,
) *WebhookHandlers {
	return &WebhookHandlers{
		inbound:     inbound,
		publisher:   publisher,
		verifyToken: verifyToken,
		logger:      logger.With("module", "webhook"),
	}
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WebhookHandlers) Verify(c fiber.Ctx) error {
	if c.Query("hub.mode") != "subscribe" || h.verifyToken == "" || c.Query("hub.verify_token") != h.verifyToken {
		h.logger.WarnContext(c.Context(), "Webhook verification rejected", "mode", c.Query("hub.mode"))

		return forbidden(c, "Verification token mismatch")
	}

	return c.Status(fiber.StatusOK).SendString(c.Query("hub.challenge"))
}

// Receive stores the raw delivery before acknowledging it. Processing happens later,
// so the response never depends on whether the event matches anything.
func (h *WebhookHandlers) Receive(c fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)

	id, err := h.inbound.AppendInboundEvent(c.Context(), payload, time.Now().UTC())
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to enqueue webhook delivery", "error", err)

		return internalError(c, err)
	}

	if h.publisher != nil {
		err = h.publisher.Publish(c.Context(), "inbound", events.InboundReceived{
			BaseEvent:      events.NewBaseEvent(events.InboundReceivedEvent, ""),
			InboundEventID: id,
		})
		if err != nil {
			h.logger.WarnContext(c.Context(), "Failed to announce inbound event", "inbound_event_id", id, "error", err)
		}
	}

	return c.Status(fiber.StatusOK).SendString("EVENT_RECEIVED")
}
