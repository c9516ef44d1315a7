package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
	"github.com/schoolpay/backend/internal/services"
)

// EventsHandler streams payment events to dashboard clients over SSE, backed
// by the Redis pub/sub channel the notifier publishes to. Each connected
// client holds its own subscription.
type EventsHandler struct {
	redis *redis.Client
	cfg   *config.PipelineConfig
}

func NewEventsHandler(redisClient *redis.Client, cfg *config.PipelineConfig) *EventsHandler {
	return &EventsHandler{
		redis: redisClient,
		cfg:   cfg,
	}
}

// Stream subscribes the client to live payment events
// @Summary Live payment event stream
// @Description Server-sent events stream of the school's payment_matched and payment_suspense events
// @Tags events
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "event stream"
// @Failure 503 {object} services.ErrorResponse
// @Router /events [get]
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenant, ok := services.TenantFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	if h.redis == nil {
		services.SendErrorResponse(w, "Event stream unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		services.SendErrorResponse(w, "Streaming not supported", http.StatusInternalServerError, nil)
		return
	}

	sub := h.redis.Subscribe(r.Context(), h.cfg.EventChannel)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log.Printf("[EVENTS] Client connected for tenant %d from %s", tenant.ID, r.RemoteAddr)

	ch := sub.Channel()
	for {
		select {
		case <-r.Context().Done():
			log.Printf("[EVENTS] Client disconnected for tenant %d", tenant.ID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event models.PaymentEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if !visibleTo(&event, tenant.ID) {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, msg.Payload)
			flusher.Flush()
		}
	}
}

// visibleTo scopes the shared channel per client: a school sees its own
// events plus the global suspense stream.
func visibleTo(event *models.PaymentEvent, tenantID int) bool {
	if event.TenantID == nil {
		return event.Kind == models.EventPaymentSuspense
	}
	return *event.TenantID == tenantID
}
