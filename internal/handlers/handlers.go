package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poevideo/poe-video/internal/config"
	"github.com/poevideo/poe-video/internal/logging"
	"github.com/poevideo/poe-video/internal/services"
)

const Version = "1.0.0"

// PoeClient is the part of *services.PoeService the handlers call.
type PoeClient interface {
	SendMessage(ctx context.Context, apiKey string, request *services.MessageRequest) (*services.MessageResponse, error)
	ListModels(ctx context.Context, apiKey string) (*services.ModelsResponse, error)
	ValidateAPIKey(apiKey string) bool
}

type APIHandlers struct {
	config *config.Config
	poe    PoeClient
	logger *slog.Logger
}

func NewAPIHandlers(cfg *config.Config, poe PoeClient, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = logging.Discard()
	}
	return &APIHandlers{
		config: cfg,
		poe:    poe,
		logger: logger,
	}
}

type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type GenerateResponse struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

func (h *APIHandlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	configData := map[string]interface{}{
		"providers": []map[string]string{
			{
				"name":        "poe",
				"displayName": "Poe",
			},
		},
		"api": map[string]interface{}{
			"defaultModel":  h.config.Poe.Model,
			"keyPrefix":     h.config.Poe.KeyPrefix,
			"serverKeySet":  !h.config.Poe.UsesPlaceholderKey(),
			"defaultPrompt": h.config.Poe.Prompt,
		},
		"validation": map[string]interface{}{
			"maxMessageLength": h.config.Validation.MaxMessageLength,
			"maxMessages":      h.config.Validation.MaxMessages,
			"minApiKeyLength":  h.config.Security.APIKeyMinLength,
		},
		"version": Version,
	}

	jsonData, err := json.Marshal(configData)
	if err != nil {
		http.Error(w, "Failed to generate config", http.StatusInternalServerError)
		return
	}

	configScript := fmt.Sprintf("window.PoeVideoConfig = %s;", string(jsonData))

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=300") // 5 minutes
	w.Write([]byte(configScript))
}

func (h *APIHandlers) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.resolveAPIKey(w, r)
	if !ok {
		return
	}

	models, err := h.poe.ListModels(r.Context(), apiKey)
	if err != nil {
		h.writeCallError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models)
}

func (h *APIHandlers) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.resolveAPIKey(w, r)
	if !ok {
		return
	}

	var messageRequest services.MessageRequest
	if !h.decodeBody(w, r, h.config.Validation.MaxMessages, &messageRequest) {
		return
	}

	if len(messageRequest.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "Messages are required", "")
		return
	}

	if limit := h.config.Validation.MaxMessages; len(messageRequest.Messages) > limit {
		writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Too many messages (max %d)", limit), "")
		return
	}

	maxLength := h.config.Validation.MaxMessageLength
	for _, msg := range messageRequest.Messages {
		if len(msg.Content) > maxLength {
			writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("Message too long (max %d characters)", maxLength), "")
			return
		}
	}

	response, err := h.poe.SendMessage(r.Context(), apiKey, &messageRequest)
	if err != nil {
		h.writeCallError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GenerateHandler takes a single prompt and answers with the first choice's
// content, the same extraction the command-line tool prints.
func (h *APIHandlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.resolveAPIKey(w, r)
	if !ok {
		return
	}

	var generateRequest GenerateRequest
	if !h.decodeBody(w, r, 1, &generateRequest) {
		return
	}

	prompt := generateRequest.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = h.config.Poe.Prompt
	}
	if len(prompt) > h.config.Validation.MaxMessageLength {
		writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Message too long (max %d characters)", h.config.Validation.MaxMessageLength), "")
		return
	}

	model := generateRequest.Model
	if model == "" {
		model = h.config.Poe.Model
	}

	response, err := h.poe.SendMessage(r.Context(), apiKey, services.UserMessage(model, prompt))
	if err != nil {
		h.writeCallError(w, r, err)
		return
	}

	content, err := response.FirstContent()
	if err != nil {
		h.writeCallError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{Model: model, Content: content})
}

// resolveAPIKey prefers the caller's key (x-api-key, then bearer token). The
// server's configured key is used only when POE_SHARE_SERVER_KEY is on. The
// placeholder counts as absent.
func (h *APIHandlers) resolveAPIKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			apiKey = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if apiKey == "" && h.config.Poe.ShareServerKey && !h.config.Poe.UsesPlaceholderKey() {
		apiKey = h.config.Poe.APIKey
	}

	if apiKey == "" || apiKey == config.PlaceholderAPIKey {
		writeJSONError(w, http.StatusBadRequest, "API key required", "")
		return "", false
	}
	if !h.poe.ValidateAPIKey(apiKey) {
		writeJSONError(w, http.StatusBadRequest, "Invalid API key format", "")
		return "", false
	}
	return apiKey, true
}

// bodyOverhead covers JSON framing, roles and model names around the
// message contents.
const bodyOverhead = 16 << 10

// decodeBody reads a JSON body no larger than messages full-length messages
// plus framing. It writes the error response itself and reports success.
func (h *APIHandlers) decodeBody(w http.ResponseWriter, r *http.Request, messages int, v any) bool {
	limit := int64(messages)*int64(h.config.Validation.MaxMessageLength) + bodyOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body too large (max %d bytes)", limit), "")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON format", "")
		return false
	}
	return true
}

func (h *APIHandlers) writeCallError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	kind := "unknown"
	var callErr *services.CallError
	if errors.As(err, &callErr) {
		status = callErr.HTTPStatus()
		kind = callErr.Kind.String()
	}

	h.logger.WarnContext(r.Context(), "poe call failed",
		"path", r.URL.Path,
		"kind", kind,
		"status", status,
		"error", err)

	writeJSONError(w, status, err.Error(), kind)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string, details string) {
	writeJSON(w, statusCode, services.ErrorResponse{
		Error:   message,
		Details: details,
	})
}
