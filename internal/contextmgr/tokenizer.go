package contextmgr

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"workbench/internal/chat"
)

// perMessageOverhead approximates the role/separator tokens chat formats add.
const perMessageOverhead = 4

// Tokenizer token 计数器，tiktoken 不可用时回退到启发式估算
// Tokenizer counts tokens with tiktoken, or a CJK-aware estimate when the
// encoding cannot be loaded (offline machines lack the BPE cache).
type Tokenizer struct {
	mu       sync.Mutex
	encoder  *tiktoken.Tiktoken
	encoding string
	fallback bool
}

var (
	tokenizers   = map[string]*Tokenizer{}
	tokenizersMu sync.Mutex
)

// ForModel returns a shared tokenizer for the encoding the model uses.
func ForModel(model string) *Tokenizer {
	encoding := encodingForModel(model)
	tokenizersMu.Lock()
	defer tokenizersMu.Unlock()
	if t, ok := tokenizers[encoding]; ok {
		return t
	}
	t := NewTokenizer(encoding)
	tokenizers[encoding] = t
	return t
}

func NewTokenizer(encoding string) *Tokenizer {
	t := &Tokenizer{encoding: encoding}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

func (t *Tokenizer) Precise() bool { return !t.fallback }

func (t *Tokenizer) Encoding() string { return t.encoding }

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return estimateTokens(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoder.Encode(text, nil, nil))
}

func (t *Tokenizer) CountMessage(m chat.Message) int {
	return perMessageOverhead + t.CountText(string(m.Role)) + t.CountText(m.Content)
}

func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		total += t.CountMessage(m)
	}
	return total
}

// estimateTokens: CJK ~1.5 tokens per rune, everything else ~4 runes per token.
func estimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)*1.5 + float64(other)*0.25)
	if n < 1 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

func encodingForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"),
		strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
