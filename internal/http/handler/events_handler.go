package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/straye-as/lead-engine/internal/events"
	"go.uber.org/zap"
)

// DefaultKeepAlive is the interval of comment frames that keep idle streams open through proxies
const DefaultKeepAlive = 25 * time.Second

// EventsHandler streams lead events of the caller's tenant as server-sent events
type EventsHandler struct {
	bus       *events.InMemoryBus
	buffer    int
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewEventsHandler(bus *events.InMemoryBus, buffer int, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		bus:       bus,
		buffer:    buffer,
		keepAlive: DefaultKeepAlive,
		logger:    logger,
	}
}

// Stream godoc
// @Summary Stream lead events
// @Description Server-sent events for lead.created, lead.updated and lead.deleted. Events published before the connection are not replayed.
// @Tags Events
// @Produce text/event-stream
// @Security BearerAuth
// @Router /events [get]
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.bus.Subscribe(tenantID, h.buffer)
	defer sub.Close()

	fmt.Fprintf(w, "event: connected\ndata: {\"tenantId\":%q}\n\n", tenantID.String())
	flusher.Flush()

	h.logger.Debug("event stream opened", zap.String("tenant_id", tenantID.String()))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed", zap.String("tenant_id", tenantID.String()))
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := events.Encode(event)
			if err != nil {
				h.logger.Error("failed to encode event", zap.String("event", event.EventName()), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventName(), data)
			flusher.Flush()
		}
	}
}
