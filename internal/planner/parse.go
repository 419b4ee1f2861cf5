package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workbench/internal/action"
	"workbench/internal/i18n"
)

var ErrEmptyReply = errors.New("model returned empty content")

type wireReply struct {
	Reply   *string         `json:"reply"`
	Actions json.RawMessage `json:"actions"`
}

// ParseReply 解析模型输出：优先 ```json 代码块，其次首个 { 到末个 } 的片段
// ParseReply turns model output into a Reply. JSON is taken from a ```json
// fence, else the first '{' to the last '}'. Text that is not JSON becomes the
// reply verbatim with no actions.
func ParseReply(content string) (Reply, error) {
	var wire wireReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &wire); err == nil {
		out := Reply{Reply: i18n.T("planner.default_reply"), Actions: []action.Proposal{}}
		if wire.Reply != nil {
			out.Reply = *wire.Reply
		}
		raw := strings.TrimSpace(string(wire.Actions))
		if raw != "" && raw != "null" {
			var proposals []action.Proposal
			if err := json.Unmarshal(wire.Actions, &proposals); err != nil {
				return Reply{}, fmt.Errorf("parse actions: %w", err)
			}
			for _, p := range proposals {
				out.Actions = append(out.Actions, p.Normalize())
			}
		}
		return out, nil
	}

	plain := strings.TrimSpace(content)
	if plain == "" {
		return Reply{}, ErrEmptyReply
	}
	return Reply{Reply: plain, Actions: []action.Proposal{}}, nil
}

func extractJSON(content string) string {
	const fence = "```json"
	if start := strings.Index(content, fence); start >= 0 {
		rest := content[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if start := strings.IndexByte(content, '{'); start >= 0 {
		if end := strings.LastIndexByte(content, '}'); end > start {
			return content[start : end+1]
		}
	}
	return strings.TrimSpace(content)
}
