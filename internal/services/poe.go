package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/poevideo/poe-video/internal/config"
	"github.com/poevideo/poe-video/internal/logging"
)

// ChatClient is the subset of the go-openai client the service relies on.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// ClientFactory builds a ChatClient bound to one credential.
type ClientFactory func(apiKey string) ChatClient

type PoeService struct {
	config     *config.Config
	httpClient *http.Client
	newClient  ClientFactory
	logger     *slog.Logger
}

func NewPoeService(cfg *config.Config, logger *slog.Logger) *PoeService {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &PoeService{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Poe.Timeout.Duration,
			Transport: &userAgentTransport{userAgent: cfg.Poe.UserAgent, next: http.DefaultTransport},
		},
		logger: logger,
	}
	s.newClient = s.sdkClient
	return s
}

// WithClientFactory replaces the SDK client constructor.
func (s *PoeService) WithClientFactory(f ClientFactory) *PoeService {
	s.newClient = f
	return s
}

func (s *PoeService) sdkClient(apiKey string) ChatClient {
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimRight(s.config.Poe.BaseURL, "/")
	clientCfg.HTTPClient = s.httpClient
	return openai.NewClientWithConfig(clientCfg)
}

// SendMessage performs one chat-completion call. An empty model falls back to
// the configured one. Every failure is a *CallError.
func (s *PoeService) SendMessage(ctx context.Context, apiKey string, request *MessageRequest) (*MessageResponse, error) {
	if err := request.validate(); err != nil {
		return nil, err
	}

	model := request.Model
	if model == "" {
		model = s.config.Poe.Model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(request.Messages)),
	}
	for _, msg := range request.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	s.logger.DebugContext(ctx, "sending chat completion",
		"model", model,
		"messages", len(chatReq.Messages),
		"base_url", s.config.Poe.BaseURL)

	resp, err := s.newClient(apiKey).CreateChatCompletion(ctx, chatReq)
	if err != nil {
		callErr := classify(err)
		s.logger.DebugContext(ctx, "chat completion failed",
			"model", model,
			"kind", callErr.Kind.String(),
			"status", callErr.StatusCode)
		return nil, callErr
	}

	out := &MessageResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]Choice, 0, len(resp.Choices)),
		Usage: UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Index:        c.Index,
			Message:      Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		})
	}

	s.logger.DebugContext(ctx, "chat completion received",
		"model", out.Model,
		"choices", len(out.Choices),
		"total_tokens", out.Usage.TotalTokens)

	return out, nil
}

func (s *PoeService) ListModels(ctx context.Context, apiKey string) (*ModelsResponse, error) {
	list, err := s.newClient(apiKey).ListModels(ctx)
	if err != nil {
		return nil, classify(err)
	}

	out := &ModelsResponse{Object: "list", Data: make([]ModelInfo, 0, len(list.Models))}
	for _, m := range list.Models {
		out.Data = append(out.Data, ModelInfo{
			ID:      m.ID,
			Object:  m.Object,
			Created: m.CreatedAt,
			OwnedBy: m.OwnedBy,
		})
	}
	return out, nil
}

// ValidateAPIKey checks the key shape only; the remote service decides
// whether it authenticates. The placeholder never passes.
func (s *PoeService) ValidateAPIKey(apiKey string) bool {
	if apiKey == config.PlaceholderAPIKey {
		return false
	}
	prefix := s.config.Poe.KeyPrefix
	minLength := s.config.Security.APIKeyMinLength

	return len(apiKey) >= minLength && strings.HasPrefix(apiKey, prefix)
}

type userAgentTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}
