package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"workbench/internal/chat"
)

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
}

// OpenAIProvider 使用 go-openai SDK 的 Provider 实现
// OpenAIProvider implements Provider against any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

var ErrNotConfigured = errors.New("provider is not configured")

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		config.BaseURL = base
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "openai"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), cfg: cfg}
}

// FromSettings builds a provider for session settings, falling back to base
// for fields the settings leave empty.
func FromSettings(s chat.ProviderSettings, base OpenAIConfig) *OpenAIProvider {
	cfg := base
	if s.Name != "" {
		cfg.Name = s.Name
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if s.APIKey != "" {
		cfg.APIKey = s.APIKey
	}
	if s.Model != "" {
		cfg.Model = s.Model
	}
	return NewOpenAIProvider(cfg)
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) CurrentModel() string { return p.cfg.Model }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest, onChunk func(string)) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if strings.TrimSpace(model) == "" {
		return ChatResponse{}, fmt.Errorf("%w: model is empty", ErrNotConfigured)
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := p.chatStream(ctx, buildSDKRequest(model, req), onChunk)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ChatResponse{}, err
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return ChatResponse{}, fmt.Errorf("provider chat: %w", err)
		}
	}
	return ChatResponse{}, fmt.Errorf("provider chat failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func (p *OpenAIProvider) chatStream(ctx context.Context, req openai.ChatCompletionRequest, onChunk func(string)) (ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}
	defer stream.Close()

	var out ChatResponse
	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatResponse{}, err
		}
		if chunk.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
			if text := choice.Delta.Content; text != "" {
				content.WriteString(text)
				if onChunk != nil {
					onChunk(text)
				}
			}
		}
	}
	out.Content = content.String()
	return out, nil
}

func buildSDKRequest(model string, req ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertMessages(req.Messages),
		Stream:    true,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
