package contextmgr

import "workbench/internal/chat"

// Trim 按 token 上限裁剪历史：保留 system 消息与最新的对话
// Trim fits history into limit tokens. Leading system messages are always
// kept; the remaining budget goes to the newest messages, in order. The last
// message survives even when it alone exceeds the budget. limit <= 0 disables
// trimming.
func Trim(t *Tokenizer, messages []chat.Message, limit int) []chat.Message {
	if limit <= 0 || len(messages) == 0 {
		return messages
	}

	head := 0
	for head < len(messages) && messages[head].Role == chat.RoleSystem {
		head++
	}
	budget := limit - t.Count(messages[:head])

	start := len(messages)
	for i := len(messages) - 1; i >= head; i-- {
		cost := t.CountMessage(messages[i])
		if cost > budget && i != len(messages)-1 {
			break
		}
		budget -= cost
		start = i
	}

	out := make([]chat.Message, 0, head+len(messages)-start)
	out = append(out, messages[:head]...)
	return append(out, messages[start:]...)
}
