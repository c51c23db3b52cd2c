package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/poevideo/poe-video/internal/config"
)

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Poe.APIKey = "test-key-1234567890"
	return cfg
}

// newFakePoe starts a stand-in for the chat-completion API and points the
// config at it.
func newFakePoe(t *testing.T, handler http.HandlerFunc) (*config.Config, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := createTestConfig()
	cfg.Poe.BaseURL = srv.URL + "/v1"
	return cfg, &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

const completionBody = `{
	"id": "chatcmpl-123",
	"object": "chat.completion",
	"created": 1677652288,
	"model": "Sora2-South-Park",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Generated video link: https://example.com/v.mp4"},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 3, "completion_tokens": 9, "total_tokens": 12}
}`

func TestSendMessageRequestShape(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotAuth   string
		gotAgent  string
		gotBody   struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
	)
	cfg, _ := newFakePoe(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		writeJSON(w, http.StatusOK, completionBody)
	})

	service := NewPoeService(cfg, nil)
	resp, err := service.SendMessage(context.Background(), "test-key-1234567890", UserMessage("Sora2-South-Park", "Hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("expected /v1/chat/completions, got %s", gotPath)
	}
	if gotAuth != "Bearer test-key-1234567890" {
		t.Errorf("expected bearer credential, got %q", gotAuth)
	}
	if gotAgent != "poe-video/1.0" {
		t.Errorf("expected configured user agent, got %q", gotAgent)
	}
	if gotBody.Model != "Sora2-South-Park" {
		t.Errorf("expected model Sora2-South-Park, got %s", gotBody.Model)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0] != (Message{Role: "user", Content: "Hello world"}) {
		t.Errorf("unexpected messages: %+v", gotBody.Messages)
	}

	if resp.ID != "chatcmpl-123" || resp.Model != "Sora2-South-Park" {
		t.Errorf("unexpected response metadata: %+v", resp)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("expected 12 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected choices: %+v", resp.Choices)
	}

	content, err := resp.FirstContent()
	if err != nil {
		t.Fatalf("unexpected error extracting content: %v", err)
	}
	if content != "Generated video link: https://example.com/v.mp4" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestSendMessageBehavior(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		request    *MessageRequest
		wantErr    error
		wantStatus int
		wantCalls  int32
		wantInErr  string
		validate   func(*testing.T, *MessageResponse)
	}{
		{
			name: "empty model falls back to configured model",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				if body["model"] != "Sora2-South-Park" {
					writeJSON(w, http.StatusBadRequest, `{"error":{"message":"wrong model","type":"invalid_request_error"}}`)
					return
				}
				writeJSON(w, http.StatusOK, completionBody)
			},
			request:   UserMessage("", "Hello world"),
			wantCalls: 1,
		},
		{
			name: "multi-turn messages keep their order",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var body MessageRequest
				json.NewDecoder(r.Body).Decode(&body)
				roles := make([]string, 0, len(body.Messages))
				for _, m := range body.Messages {
					roles = append(roles, m.Role)
				}
				if strings.Join(roles, ",") != "user,assistant,user" {
					writeJSON(w, http.StatusBadRequest, `{"error":{"message":"bad order","type":"invalid_request_error"}}`)
					return
				}
				writeJSON(w, http.StatusOK, completionBody)
			},
			request: &MessageRequest{
				Model: "cole-bennet-gpt",
				Messages: []Message{
					{Role: RoleUser, Content: "What are the key elements of videography?"},
					{Role: RoleAssistant, Content: "Key elements include lighting, framing, and storytelling."},
					{Role: RoleUser, Content: "Tell me more about lighting techniques"},
				},
			},
			wantCalls: 1,
		},
		{
			name: "empty choices decode without error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"id":"test","choices":[]}`)
			},
			request:   UserMessage("Sora2-South-Park", "Hello world"),
			wantCalls: 1,
			validate: func(t *testing.T, resp *MessageResponse) {
				_, err := resp.FirstContent()
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("expected malformed response error, got %v", err)
				}
			},
		},
		{
			name: "unauthorized is an auth error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"Invalid API key","type":"authentication_error","code":"invalid_api_key"}}`)
			},
			request:    UserMessage("Sora2-South-Park", "Hello world"),
			wantErr:    ErrAuth,
			wantStatus: http.StatusUnauthorized,
			wantCalls:  1,
			wantInErr:  "Invalid API key",
		},
		{
			name: "rate limit is an api error carrying the status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"Rate limit exceeded","type":"rate_limit_error"}}`)
			},
			request:    UserMessage("Sora2-South-Park", "Hello world"),
			wantErr:    ErrAPI,
			wantStatus: http.StatusTooManyRequests,
			wantCalls:  1,
			wantInErr:  "Rate limit exceeded",
		},
		{
			name: "non-json error body is an api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("upstream exploded"))
			},
			request:    UserMessage("Sora2-South-Park", "Hello world"),
			wantErr:    ErrAPI,
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
		{
			name: "undecodable success body is a malformed response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `<html>oops</html>`)
			},
			request:   UserMessage("Sora2-South-Park", "Hello world"),
			wantErr:   ErrMalformedResponse,
			wantCalls: 1,
		},
		{
			name:      "nil request is rejected locally",
			handler:   func(w http.ResponseWriter, r *http.Request) {},
			request:   nil,
			wantErr:   ErrInvalidRequest,
			wantCalls: 0,
		},
		{
			name:      "empty messages are rejected locally",
			handler:   func(w http.ResponseWriter, r *http.Request) {},
			request:   &MessageRequest{Model: "Sora2-South-Park"},
			wantErr:   ErrInvalidRequest,
			wantCalls: 0,
			wantInErr: "messages are required",
		},
		{
			name:    "unknown role is rejected locally",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			request: &MessageRequest{
				Model:    "Sora2-South-Park",
				Messages: []Message{{Role: "narrator", Content: "Hello world"}},
			},
			wantErr:   ErrInvalidRequest,
			wantCalls: 0,
			wantInErr: "narrator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, calls := newFakePoe(t, tt.handler)
			service := NewPoeService(cfg, nil)

			resp, err := service.SendMessage(context.Background(), cfg.Poe.APIKey, tt.request)

			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("expected %d upstream calls, got %d", tt.wantCalls, got)
			}

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tt.validate != nil {
					tt.validate(t, resp)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var callErr *CallError
			if !errors.As(err, &callErr) {
				t.Fatalf("expected *CallError, got %T", err)
			}
			if tt.wantStatus != 0 && callErr.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, callErr.StatusCode)
			}
			if tt.wantInErr != "" && !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantInErr, err.Error())
			}
		})
	}
}

func TestSendMessageTransportFailures(t *testing.T) {
	t.Run("connection refused is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		cfg := createTestConfig()
		cfg.Poe.BaseURL = srv.URL + "/v1"
		srv.Close()

		service := NewPoeService(cfg, nil)
		_, err := service.SendMessage(context.Background(), cfg.Poe.APIKey, UserMessage("Sora2-South-Park", "Hello world"))
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if err.Error() == "" {
			t.Error("transport error should describe the failure")
		}
	})

	t.Run("cancelled context is a transport error", func(t *testing.T) {
		cfg, _ := newFakePoe(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, completionBody)
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		service := NewPoeService(cfg, nil)
		_, err := service.SendMessage(ctx, cfg.Poe.APIKey, UserMessage("Sora2-South-Park", "Hello world"))
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
	})
}

func TestListModelsBehavior(t *testing.T) {
	t.Run("lists models from the remote service", func(t *testing.T) {
		cfg, _ := newFakePoe(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/models" {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, http.StatusOK, `{"object":"list","data":[
				{"id":"Sora2-South-Park","object":"model","created":1700000000,"owned_by":"poe"},
				{"id":"cole-bennet-gpt","object":"model","owned_by":"poe"}
			]}`)
		})

		service := NewPoeService(cfg, nil)
		models, err := service.ListModels(context.Background(), cfg.Poe.APIKey)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if models.Object != "list" || len(models.Data) != 2 {
			t.Fatalf("unexpected models: %+v", models)
		}
		if models.Data[0].ID != "Sora2-South-Park" || models.Data[0].Created != 1700000000 {
			t.Errorf("unexpected first model: %+v", models.Data[0])
		}
	})

	t.Run("forbidden is an auth error", func(t *testing.T) {
		cfg, _ := newFakePoe(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusForbidden, `{"error":{"message":"forbidden","type":"permission_error"}}`)
		})

		service := NewPoeService(cfg, nil)
		_, err := service.ListModels(context.Background(), cfg.Poe.APIKey)
		if !errors.Is(err, ErrAuth) {
			t.Fatalf("expected auth error, got %v", err)
		}
	})
}

type fakeChatClient struct {
	reply  openai.ChatCompletionResponse
	err    error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f.reply, f.err
}

func (f *fakeChatClient) ListModels(_ context.Context) (openai.ModelsList, error) {
	return openai.ModelsList{}, f.err
}

func TestClientFactoryBehavior(t *testing.T) {
	t.Run("credential is handed to the client factory", func(t *testing.T) {
		var seenKey string
		service := NewPoeService(createTestConfig(), nil).WithClientFactory(func(apiKey string) ChatClient {
			seenKey = apiKey
			return &fakeChatClient{reply: openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "ok"}}},
			}}
		})

		resp, err := service.SendMessage(context.Background(), "per-request-key-123", UserMessage("", "hi"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seenKey != "per-request-key-123" {
			t.Errorf("expected per-request key, got %q", seenKey)
		}
		if content, _ := resp.FirstContent(); content != "ok" {
			t.Errorf("expected content 'ok', got %q", content)
		}
	})

	t.Run("errors from the client are classified", func(t *testing.T) {
		service := NewPoeService(createTestConfig(), nil).WithClientFactory(func(apiKey string) ChatClient {
			return &fakeChatClient{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}}
		})

		_, err := service.SendMessage(context.Background(), "key-1234567890", UserMessage("", "hi"))
		if !errors.Is(err, ErrAuth) {
			t.Fatalf("expected auth error, got %v", err)
		}
	})
}

func TestAPIKeyValidationBehavior(t *testing.T) {
	cfg := createTestConfig()
	service := NewPoeService(cfg, nil)

	tests := []struct {
		name     string
		apiKey   string
		expected bool
	}{
		{name: "valid key meeting minimum length", apiKey: "poe-1234567890abcdef", expected: true},
		{name: "too short key", apiKey: "poe-12", expected: false},
		{name: "empty key", apiKey: "", expected: false},
		{name: "placeholder key is never valid", apiKey: config.PlaceholderAPIKey, expected: false},
		{name: "exactly minimum length", apiKey: "0123456789", expected: true},
		{name: "one character too short", apiKey: "012345678", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := service.ValidateAPIKey(tt.apiKey); result != tt.expected {
				t.Errorf("expected %v for key %s, got %v", tt.expected, tt.apiKey, result)
			}
		})
	}

	t.Run("service respects configured key prefix", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Poe.KeyPrefix = "poe-"
		service := NewPoeService(cfg, nil)

		if !service.ValidateAPIKey("poe-1234567890") {
			t.Error("should accept key with configured prefix")
		}
		if service.ValidateAPIKey("sk-1234567890abc") {
			t.Error("should reject key without configured prefix")
		}
	})
}

func TestCallErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *CallError
		want int
	}{
		{&CallError{Kind: KindInvalidRequest}, http.StatusBadRequest},
		{&CallError{Kind: KindAuth, StatusCode: http.StatusForbidden}, http.StatusUnauthorized},
		{&CallError{Kind: KindAPI, StatusCode: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{&CallError{Kind: KindAPI}, http.StatusBadGateway},
		{&CallError{Kind: KindTransport}, http.StatusBadGateway},
		{&CallError{Kind: KindMalformedResponse}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
