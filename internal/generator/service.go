package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// Service produces the next assistant reply for a conversation.
type Service interface {
	Complete(ctx context.Context, conv Conversation) (string, error)
}

// OpenAIConfig configures the chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// RequestsPerMinute throttles calls across all sites. Zero disables throttling.
	RequestsPerMinute float64
	Timeout           time.Duration
}

// OpenAIService calls the chat completions API one request at a time.
type OpenAIService struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter

	mu sync.Mutex
}

// NewOpenAIService builds the service. An empty API key is a configuration error.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("generator api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return &OpenAIService{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: cfg.Timeout,
		limiter: limiter,
	}, nil
}

// Complete sends the conversation and returns the first choice's content.
// API failures are reported as *tracker.ExternalServiceError.
func (s *OpenAIService) Complete(ctx context.Context, conv Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generator throttle: %w", err)
	}
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msgs := conv.Messages()
	req := openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := s.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		metrics.ObserveServiceCall("error")
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// Our own per-call timeout, not the caller giving up.
			return "", &tracker.ExternalServiceError{Op: "chat completion", Err: fmt.Errorf("no reply within %s", s.timeout)}
		}
		return "", serviceError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveServiceCall("empty")
		return "", &tracker.ExternalServiceError{Op: "chat completion", Err: errors.New("no choices returned")}
	}
	metrics.ObserveServiceCall("ok")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func serviceError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("chat completion: %w", err)
	}
	svcErr := &tracker.ExternalServiceError{Op: "chat completion", Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		svcErr.StatusCode = apiErr.HTTPStatusCode
		svcErr.Code, _ = apiErr.Code.(string)
		if svcErr.Code == "" {
			svcErr.Code = apiErr.Type
		}
	case errors.As(err, &reqErr):
		svcErr.StatusCode = reqErr.HTTPStatusCode
	}
	return svcErr
}
