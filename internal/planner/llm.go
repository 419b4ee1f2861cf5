package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/contextmgr"
	"workbench/internal/provider"
	"workbench/internal/tooling"
	"workbench/internal/workbench"
)

// ProviderFactory builds the model client for the settings on one request.
type ProviderFactory func(chat.ProviderSettings) provider.Provider

type LLMOptions struct {
	Snapshots   SnapshotSource
	NewProvider ProviderFactory
	// TokenLimit bounds the prompt; <= 0 sends the full history.
	TokenLimit int
	Now        func() time.Time
	Logger     *log.Logger
}

// LLMPlanner 基于模型的规划器
// LLMPlanner asks an OpenAI-compatible model for a reply and proposals.
type LLMPlanner struct {
	snapshots   SnapshotSource
	newProvider ProviderFactory
	tokenLimit  int
	now         func() time.Time
	logger      *log.Logger
}

func NewLLMPlanner(opts LLMOptions) *LLMPlanner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &LLMPlanner{
		snapshots:   opts.Snapshots,
		newProvider: opts.NewProvider,
		tokenLimit:  opts.TokenLimit,
		now:         now,
		logger:      logger.With("component", "llm-planner"),
	}
}

func (p *LLMPlanner) Plan(ctx context.Context, req Request) (Reply, error) {
	if p.newProvider == nil {
		return Reply{}, provider.ErrNotConfigured
	}
	var snap workbench.Snapshot
	if p.snapshots != nil {
		var err error
		snap, err = p.snapshots.Snapshot(ctx, today(p.now))
		if err != nil {
			return Reply{}, fmt.Errorf("build context snapshot: %w", err)
		}
	}

	prov := p.newProvider(req.Provider)
	messages := []chat.Message{{Role: chat.RoleSystem, Content: BuildSystemPrompt(snap, req.Capabilities)}}
	for _, m := range req.Messages {
		if m.Role == chat.RoleUser || m.Role == chat.RoleAssistant {
			messages = append(messages, chat.Message{Role: m.Role, Content: m.Content})
		}
	}
	if p.tokenLimit > 0 {
		messages = contextmgr.Trim(contextmgr.ForModel(prov.CurrentModel()), messages, p.tokenLimit)
	}

	start := time.Now()
	resp, err := prov.Chat(ctx, provider.ChatRequest{Messages: messages}, nil)
	if err != nil {
		return Reply{}, err
	}
	p.logger.Debug("model replied", "request_id", req.RequestID, "provider", prov.Name(), "model", prov.CurrentModel(),
		"tokens", resp.Usage.TotalTokens, "duration_ms", time.Since(start).Milliseconds())
	return ParseReply(resp.Content)
}

// BuildSystemPrompt embeds the snapshot, allowed action types and enabled
// capabilities into the planner instructions.
func BuildSystemPrompt(snap workbench.Snapshot, caps tooling.Capabilities) string {
	snapJSON, _ := json.Marshal(snap)
	capsJSON, _ := json.Marshal(caps)
	var b strings.Builder
	b.WriteString("You are the Workbench Agent. Give clear suggestions grounded in the context data, and output JSON only, shaped as ")
	b.WriteString(`{"reply":"string","actions":[{"id":"string","type":"string","title":"string","reason":"string","payload":{},"requiresApproval":true}]}`)
	b.WriteString(".\nAction type must be one of: ")
	b.WriteString(strings.Join(action.BuiltinTypes(), ","))
	b.WriteString(".\nIf no action is needed, return an empty actions array. Reply in the user's language.")
	b.WriteString("\nAvailable capabilities: ")
	b.Write(capsJSON)
	b.WriteString("\nCurrent context: ")
	b.Write(snapJSON)
	return b.String()
}
