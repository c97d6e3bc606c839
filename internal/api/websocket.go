package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsDefaultTail  = 100
	wsSubBuffer    = 256
)

// viewerEvent is the frame sent to the log viewer.
type viewerEvent struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Logger    string `json:"logger"`
	Message   string `json:"message"`
	JobID     string `json:"job_id,omitempty"`
}

func newUpgrader(corsOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || corsOrigin == "" || corsOrigin == "*" || origin == corsOrigin
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
	}
}

// viewerLevel maps zap level names to the names the viewer colors.
func viewerLevel(level string) string {
	switch strings.ToLower(level) {
	case "warn":
		return "WARNING"
	case "dpanic", "panic", "fatal":
		return "CRITICAL"
	default:
		return strings.ToUpper(level)
	}
}

func toViewerEvent(evt logging.LogEvent) viewerEvent {
	return viewerEvent{
		Timestamp: evt.Timestamp.UTC().Format(isoMillis),
		Level:     viewerLevel(evt.Level),
		Logger:    evt.Logger,
		Message:   evt.Message,
		JobID:     evt.JobID,
	}
}

// HandleLogSocket upgrades to a websocket, replays recent events and then
// streams new ones. A text "ping" is answered with "pong".
func (h *LogHandlerImpl) HandleLogSocket(c echo.Context) error {
	level := c.QueryParam("level")
	if err := checkLevel(level); err != nil {
		return NewValidationError(err.Error())
	}
	tail := wsDefaultTail
	if raw := c.QueryParam("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxLogLimit {
			return NewValidationError("tail must be between 0 and 1000")
		}
		tail = n
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("log socket upgrade failed", zap.Error(err))
		return nil
	}
	defer ws.Close()

	// subscribe before the replay so nothing published in between is lost
	events, unsubscribe := h.hub.Subscribe(wsSubBuffer)
	defer unsubscribe()

	var lastSeq uint64
	if tail > 0 {
		recent, _ := h.hub.Tail(tail)
		for _, evt := range logging.FilterLevel(recent, level) {
			if err := writeEvent(ws, evt); err != nil {
				return nil
			}
		}
		if len(recent) > 0 {
			lastSeq = recent[len(recent)-1].Sequence
		}
	}

	h.logger.Debug("log viewer connected", zap.String("remote", c.RealIP()))

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("log socket read failed", zap.Error(err))
				}
				return
			}
			if kind == websocket.TextMessage && strings.TrimSpace(string(msg)) == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	minRank, filtered := logging.LevelRank(level)
	for {
		select {
		case <-done:
			return nil
		case <-pings:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Sequence <= lastSeq {
				continue
			}
			if filtered {
				if rank, _ := logging.LevelRank(evt.Level); rank < minRank {
					continue
				}
			}
			if err := writeEvent(ws, evt); err != nil {
				return nil
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, evt logging.LogEvent) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(toViewerEvent(evt))
}
