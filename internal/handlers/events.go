package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/metrics"
)

const (
	eventsHeartbeat    = 20 * time.Second
	eventsBuffer       = 128
	websocketWriteWait = 10 * time.Second
)

// EventsHandler pushes hub events to UI sessions over SSE or WebSocket.
// conversation_id narrows the stream to one conversation.
type EventsHandler struct {
	events   event.Subscriber
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewEventsHandler(log *slog.Logger, events event.Subscriber, m *metrics.Metrics) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventsHandler{
		events:  events,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Sessions authenticate with the token query parameter.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "events")),
	}
}

func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/events", h.StreamSSE)
	e.GET("/events/ws", h.StreamWebSocket)
}

func (h *EventsHandler) subscribe(c echo.Context) (<-chan event.Event, func()) {
	_, stream, cancel := h.events.Subscribe(strings.TrimSpace(c.QueryParam("conversation_id")), eventsBuffer)
	h.metrics.SubscriberDelta(1)
	return stream, func() {
		cancel()
		h.metrics.SubscriberDelta(-1)
	}
}

// StreamSSE writes one "data:" frame per event and a ping every 20 seconds.
func (h *EventsHandler) StreamSSE(c echo.Context) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	stream, cancel := h.subscribe(c)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	writer := bufio.NewWriter(c.Response().Writer)
	if err := writeSSEJSON(writer, flusher, map[string]string{"type": "ready"}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-heartbeat.C:
			if err := writeSSEJSON(writer, flusher, map[string]string{"type": "ping"}); err != nil {
				return nil
			}
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, evt); err != nil {
				return nil
			}
		}
	}
}

// StreamWebSocket sends each event as a JSON text frame. Incoming frames are
// read only to notice the client going away.
func (h *EventsHandler) StreamWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	stream, cancel := h.subscribe(c)
	defer cancel()

	ctx, stop := context.WithCancel(c.Request().Context())
	defer stop()
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteWait)); err != nil {
				return nil
			}
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("websocket write failed", slog.Any("error", err))
				return nil
			}
		}
	}
}

func writeSSEData(writer *bufio.Writer, flusher http.Flusher, payload string) error {
	if _, err := writer.WriteString(fmt.Sprintf("data: %s\n\n", payload)); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEJSON(writer *bufio.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeSSEData(writer, flusher, string(data))
}
