package services

import "fmt"

const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

type MessageRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a single-turn request.
func UserMessage(model, content string) *MessageRequest {
	return &MessageRequest{
		Model:    model,
		Messages: []Message{{Role: RoleUser, Content: content}},
	}
}

type MessageResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   UsageInfo `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstContent returns the content of the first choice. A response without
// choices is reported as malformed.
func (r *MessageResponse) FirstContent() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", &CallError{Kind: KindMalformedResponse, Err: errNoChoices}
	}
	return r.Choices[0].Message.Content, nil
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorResponse is the body the web proxy writes for a failed request.
// Details carries the error kind when the failure came from a call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleSystem, RoleAssistant:
		return true
	}
	return false
}

func (r *MessageRequest) validate() error {
	if r == nil {
		return invalidRequest("request is required")
	}
	if len(r.Messages) == 0 {
		return invalidRequest("messages are required")
	}
	for i, msg := range r.Messages {
		if !validRole(msg.Role) {
			return invalidRequest(fmt.Sprintf("message %d has invalid role %q", i, msg.Role))
		}
	}
	return nil
}
