package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleChat(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/chatbot", `{"message":"cut the intro","context":{"project":"demo"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var body struct {
		Success  bool            `json:"success"`
		Response json.RawMessage `json:"response"`
		Message  string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.True(t, body.Success)
	assert.JSONEq(t, `{"reply":"echo: cut the intro"}`, string(body.Response))
	assert.Equal(t, "Chatbot response generated successfully", body.Message)

	chats := env.backend.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "cut the intro", chats[0].Message)
	assert.JSONEq(t, `{"project":"demo"}`, string(chats[0].Context))
}

func TestChatMessage(t *testing.T) {
	assert.Equal(t, "used 2 tools", chatMessage(json.RawMessage(`{"reply":"ok","message":"used 2 tools"}`)))
	assert.Equal(t, "Chatbot response generated successfully", chatMessage(json.RawMessage(`"plain text"`)))
	assert.Equal(t, "Chatbot response generated successfully", chatMessage(nil))
}

func TestHandleChatValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{}`, `{"message":""}`, `{"message":7}`} {
		resp, data := env.do(t, http.MethodPost, "/api/chatbot", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, data).Error.Code)
	}
	assert.Empty(t, env.backend.Chats())
}

func TestHandleChatUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/chatbot", `{"message":"fail"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeError(t, data)
	assert.Equal(t, "CHATBOT_ERROR", body.Error.Code)
	assert.Equal(t, "Chatbot service failed", body.Error.Message)
	assert.JSONEq(t, `"model offline"`, string(body.Error.Details))
}

func TestChatbotPassthrough(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   string
	}{
		{http.MethodGet, "/api/chatbot/status", "", `{"status":"ready","active_conversations":1}`},
		{http.MethodGet, "/api/chatbot/tools", "", `{"tools":["crop","trim"]}`},
		{http.MethodGet, "/api/chatbot/project", "", `{"name":"demo"}`},
		{http.MethodPost, "/api/chatbot/conversations", `{"enable_tools":true}`, `{"conversation_id":"conv-1"}`},
		{http.MethodPost, "/api/chatbot/conversations/c9/clear", "", `{"conversation_id":"c9","action":"clear","echo":""}`},
		{http.MethodPost, "/api/chatbot/conversations/c9/restart", "", `{"conversation_id":"c9","action":"restart","echo":""}`},
		{http.MethodPost, "/api/chatbot/conversations/c9/tools/toggle", `{"enabled":false}`, `{"conversation_id":"c9","action":"tools/toggle","echo":"{\"enabled\":false}"}`},
		{http.MethodPost, "/api/chatbot/conversations/c9/message", `{"message":"hi"}`, `{"conversation_id":"c9","action":"message","echo":"{\"message\":\"hi\"}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, data := env.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
			assert.JSONEq(t, tt.want, string(data))
		})
	}

	resp, _ := env.do(t, http.MethodPost, "/api/chatbot/conversations", `{"enable_tools":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/chatbot/conversations/c9/message", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleConversationStream(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/chatbot/conversations/c9/message/stream", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	frames := strings.Split(strings.TrimSpace(string(data)), "\n\n")
	require.Len(t, frames, 3)
	assert.Equal(t, `data: {"type":"start"}`, frames[0])
	assert.Equal(t, `data: {"type":"done"}`, frames[2])
}

func TestConversationAction(t *testing.T) {
	assert.Equal(t, "tools/toggle", conversationAction("/api/chatbot/conversations/:id/tools/toggle"))
	assert.Equal(t, "clear", conversationAction("/api/chatbot/conversations/:id/clear"))
	assert.Equal(t, "", conversationAction("/api/chatbot/status"))
}

func TestChatbotUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.backend.Server.Close()

	resp, data := env.do(t, http.MethodGet, "/api/chatbot/status", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "CHATBOT_ERROR", decodeError(t, data).Error.Code)

	resp, _ = env.do(t, http.MethodPost, "/api/chatbot/conversations/c9/message/stream", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
