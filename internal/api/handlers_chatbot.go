// handlers_chatbot.go - Chatbot forwarding handlers
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ChatbotHandlerImpl implements the ChatbotHandler interface
type ChatbotHandlerImpl struct {
	client ServiceClient
	logger *zap.Logger
}

// NewChatbotHandler creates a new chatbot handler
func NewChatbotHandler(client ServiceClient, logger *zap.Logger) ChatbotHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatbotHandlerImpl{
		client: client,
		logger: logger.Named("chatbot"),
	}
}

var chatRules = []Rule{
	{Field: "message", Required: true, Type: TypeString, MinLength: 1},
}

var conversationRules = []Rule{
	{Field: "enable_tools", Type: TypeBoolean},
}

// HandleChat forwards one message to the chatbot service
func (h *ChatbotHandlerImpl) HandleChat(c echo.Context) error {
	var req models.ChatRequest
	if err := bindValidated(c, chatRules, &req); err != nil {
		return err
	}

	h.logger.Info("Chatbot request received",
		zap.String("message", req.Message),
		zap.Bool("hasContext", len(req.Context) > 0 && string(req.Context) != "null"))

	resp := h.client.Post(c.Request().Context(), "/chat", req)
	if !resp.Success {
		h.logger.Error("Chatbot failed", zap.String("message", req.Message), zap.String("error", resp.Error))
		return NewChatbotError(resp.Error)
	}

	h.logger.Info("Chatbot response generated successfully")
	return c.JSON(http.StatusOK, models.ChatResponse{
		Success:  true,
		Response: resp.Data,
		Message:  chatMessage(resp.Data),
	})
}

// chatMessage takes the status line the chatbot put in its reply, if any.
func chatMessage(data json.RawMessage) string {
	var reply struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &reply); err == nil && reply.Message != "" {
		return reply.Message
	}
	return "Chatbot response generated successfully"
}

// HandleStatus relays the chatbot status
func (h *ChatbotHandlerImpl) HandleStatus(c echo.Context) error {
	return h.relay(c, h.client.Get(c.Request().Context(), "/chatbot/status", c.QueryParams()))
}

// HandleTools relays the available tool list
func (h *ChatbotHandlerImpl) HandleTools(c echo.Context) error {
	return h.relay(c, h.client.Get(c.Request().Context(), "/chatbot/tools", c.QueryParams()))
}

// HandleProject relays the active project description
func (h *ChatbotHandlerImpl) HandleProject(c echo.Context) error {
	return h.relay(c, h.client.Get(c.Request().Context(), "/chatbot/project", c.QueryParams()))
}

// HandleCreateConversation opens a new conversation
func (h *ChatbotHandlerImpl) HandleCreateConversation(c echo.Context) error {
	var body json.RawMessage
	if err := bindValidated(c, conversationRules, &body); err != nil {
		return err
	}
	return h.relay(c, h.client.Post(c.Request().Context(), "/chatbot/conversations", payload(body)))
}

// HandleConversationAction relays message, clear, restart and tools/toggle.
// The action is taken from the matched route.
func (h *ChatbotHandlerImpl) HandleConversationAction(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id is required")
	}
	action := conversationAction(c.Path())
	if action == "" {
		return NewRouteNotFoundError(c.Request().Method, c.Request().URL.RequestURI())
	}

	var rules []Rule
	if action == "message" {
		rules = chatRules
	}
	var body json.RawMessage
	if err := bindValidated(c, rules, &body); err != nil {
		return err
	}

	path := "/chatbot/conversations/" + url.PathEscape(id) + "/" + action
	return h.relay(c, h.client.Post(c.Request().Context(), path, payload(body)))
}

// HandleConversationStream relays a streamed reply chunk by chunk
func (h *ChatbotHandlerImpl) HandleConversationStream(c echo.Context) error {
	id := c.Param("id")
	var body json.RawMessage
	if err := bindValidated(c, chatRules, &body); err != nil {
		return err
	}

	path := "/chatbot/conversations/" + url.PathEscape(id) + "/message/stream"
	upstream, err := h.client.Forward(c.Request().Context(), http.MethodPost, path, bytes.NewReader(body), echo.MIMEApplicationJSON)
	if err != nil {
		return NewChatbotError(err.Error())
	}
	defer upstream.Body.Close()

	if upstream.StatusCode >= 400 {
		data, _ := io.ReadAll(upstream.Body)
		msg := pyservice.UpstreamMessage(data)
		if msg == "" {
			msg = http.StatusText(upstream.StatusCode)
		}
		return NewChatbotError(msg)
	}

	res := c.Response()
	contentType := upstream.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = "text/event-stream"
	}
	res.Header().Set(echo.HeaderContentType, contentType)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(upstream.StatusCode)

	buf := make([]byte, 4096)
	for {
		n, readErr := upstream.Body.Read(buf)
		if n > 0 {
			if _, err := res.Write(buf[:n]); err != nil {
				return nil
			}
			res.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				h.logger.Warn("chat stream interrupted", zap.String("conversation", id), zap.Error(readErr))
			}
			return nil
		}
	}
}

func (h *ChatbotHandlerImpl) relay(c echo.Context, resp pyservice.Response) error {
	if !resp.Success {
		apiErr := NewChatbotError(resp.Error)
		if resp.Status >= 400 && resp.Status < 500 {
			apiErr.Status = resp.Status
			apiErr.Message = resp.Error
		}
		return apiErr
	}
	if len(resp.Data) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(resp.Status, resp.Data)
}

func conversationAction(routePath string) string {
	const marker = "/:id/"
	i := strings.Index(routePath, marker)
	if i < 0 {
		return ""
	}
	return routePath[i+len(marker):]
}

func payload(body json.RawMessage) interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return body
}
