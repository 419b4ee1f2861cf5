package provider

import (
	"context"

	"workbench/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Temperature *float32
	MaxTokens   int
	// JSONMode asks the backend for a JSON object response when supported.
	JSONMode bool
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider 模型提供方接口
// Provider is the model backend a planner calls.
type Provider interface {
	// Chat sends a request and returns the full response. onChunk, when set,
	// receives streamed text as it arrives.
	Chat(ctx context.Context, req ChatRequest, onChunk func(string)) (ChatResponse, error)
	Name() string
	CurrentModel() string
}
