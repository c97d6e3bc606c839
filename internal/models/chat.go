package models

import "encoding/json"

// ChatRequest is the body accepted by POST /api/chatbot.
type ChatRequest struct {
	Message string          `json:"message"`
	Context json.RawMessage `json:"context,omitempty"`
}

// ChatResponse is what the orchestrator returns for a chat message.
type ChatResponse struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message,omitempty"`
}
