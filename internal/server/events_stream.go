package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/utils"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
)

// streamMessage is the JSON frame sent to websocket clients
type streamMessage struct {
	Type      string      `json:"type"`
	Module    string      `json:"module,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// EventsStreamHandler streams engine progress events over a websocket
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. ?types=RUN_STARTED,RUN_COMPLETED
// limits the stream to the listed event types.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	types := events.AllTypes()
	typesFilter := r.URL.Query().Get("types")
	if names := utils.ParseCSV(typesFilter); names != nil {
		types = make([]events.EventType, len(names))
		for i, name := range names {
			types[i] = events.EventType(name)
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx once they go away
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, streamBuffer)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
	for _, t := range types {
		unsubscribe := h.eventBus.Subscribe(t, handler)
		defer unsubscribe()
	}

	h.log.Info().Str("types_filter", typesFilter).Msg("Client connected to event stream")

	if err := h.send(ctx, conn, streamMessage{Type: "connected", Timestamp: time.Now()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			msg := streamMessage{
				Type:      string(event.Type),
				Module:    event.Module,
				Timestamp: event.Timestamp,
				Data:      event.Data,
			}
			if err := h.send(ctx, conn, msg); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := h.send(ctx, conn, streamMessage{Type: "heartbeat", Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) send(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal event")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			h.log.Warn().Err(err).Msg("Failed to write event")
		}
		return err
	}
	return nil
}
