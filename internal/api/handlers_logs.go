// handlers_logs.go - Log stream handlers
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
	longPollTimeout = 25 * time.Second
)

// LogHandlerImpl implements the LogHandler interface
type LogHandlerImpl struct {
	hub      *logging.StreamHub
	archive  LogArchive
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewLogHandler creates a new log handler. archive may be nil.
func NewLogHandler(hub *logging.StreamHub, archive LogArchive, corsOrigin string, logger *zap.Logger) LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandlerImpl{
		hub:      hub,
		archive:  archive,
		logger:   logger.Named("logs"),
		upgrader: newUpgrader(corsOrigin),
	}
}

var logQueryRules = []Rule{
	{Field: "since", Type: TypeNumber, Min: Bound(0), Custom: checkInteger("since")},
	{Field: "limit", Type: TypeNumber, Min: Bound(1), Max: Bound(maxLogLimit), Custom: checkInteger("limit")},
	{Field: "level", Type: TypeString, Custom: checkLevel},
	{Field: "wait", Type: TypeBoolean},
	{Field: "format", Type: TypeString, Custom: checkFormat},
}

func checkInteger(field string) func(v interface{}) error {
	return func(v interface{}) error {
		if f, ok := v.(float64); ok && f != math.Trunc(f) {
			return fmt.Errorf("%s must be a whole number", field)
		}
		return nil
	}
}

func checkLevel(v interface{}) error {
	s, _ := v.(string)
	if s == "" || s == "all" {
		return nil
	}
	if _, ok := logging.LevelRank(s); !ok {
		return errors.New("level must be one of debug, info, warning, error")
	}
	return nil
}

func checkFormat(v interface{}) error {
	switch v {
	case "", "json", "msgpack":
		return nil
	}
	return errors.New("format must be json or msgpack")
}

// queryNumber reads a value that already passed logQueryRules.
func queryNumber(raw string) float64 {
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

type logPage struct {
	Events []logging.LogEvent `json:"events" msgpack:"events"`
	Next   uint64             `json:"next" msgpack:"next"`
}

// HandleLogs returns buffered log events after ?since. With ?wait=true it
// long-polls until an event arrives.
func (h *LogHandlerImpl) HandleLogs(c echo.Context) error {
	q := c.QueryParams()
	if err := validateQuery(q, logQueryRules); err != nil {
		return err
	}

	limit := defaultLogLimit
	if raw := q.Get("limit"); raw != "" {
		limit = int(queryNumber(raw))
	}
	level := q.Get("level")
	wait, _ := strconv.ParseBool(q.Get("wait"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if raw := q.Get("since"); raw != "" {
		since := uint64(queryNumber(raw))
		ctx := c.Request().Context()
		if wait {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, longPollTimeout)
			defer cancel()
		}
		var err error
		events, next, err = h.hub.Fetch(ctx, since, limit, wait)
		if err != nil && c.Request().Context().Err() != nil {
			return nil
		}
	} else {
		events, next = h.hub.Tail(limit)
	}

	page := logPage{Events: logging.FilterLevel(events, level), Next: next}
	if page.Events == nil {
		page.Events = []logging.LogEvent{}
	}

	if q.Get("format") == "msgpack" {
		data, err := msgpack.Marshal(page)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, "application/msgpack", data)
	}
	return respondData(c, page)
}

var archivedLogRules = []Rule{
	{Field: "limit", Type: TypeNumber, Min: Bound(1), Max: Bound(maxLogLimit), Custom: checkInteger("limit")},
	{Field: "level", Type: TypeString, Custom: checkLevel},
}

// HandleArchivedLogs reads persisted log events
func (h *LogHandlerImpl) HandleArchivedLogs(c echo.Context) error {
	if h.archive == nil {
		return NewServiceUnavailableError("archive is disabled")
	}
	q := c.QueryParams()
	if err := validateQuery(q, archivedLogRules); err != nil {
		return err
	}
	limit := defaultLogLimit
	if raw := q.Get("limit"); raw != "" {
		limit = int(queryNumber(raw))
	}

	events, err := h.archive.RecentLogs(c.Request().Context(), q.Get("level"), limit)
	if err != nil {
		return NewInternalError("failed to read archived logs", err)
	}
	if events == nil {
		events = []logging.LogEvent{}
	}
	return respondData(c, events)
}
