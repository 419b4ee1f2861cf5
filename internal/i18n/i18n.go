package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// I18n 国际化消息目录，创建后只读
// I18n is an immutable message catalog for one locale.
type I18n struct {
	locale   string
	messages map[string]string
}

var global atomic.Pointer[I18n]

// Global returns the process-wide catalog, detecting the locale on first use.
func Global() *I18n {
	if cur := global.Load(); cur != nil {
		return cur
	}
	global.CompareAndSwap(nil, New(""))
	return global.Load()
}

// Init 设置全局 locale / Init replaces the process-wide catalog.
func Init(locale string) {
	global.Store(New(locale))
}

// T 全局翻译快捷函数
func T(key string, args ...any) string {
	return Global().T(key, args...)
}

// New builds a catalog. English backs every key; zh-CN overlays it.
func New(locale string) *I18n {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DetectLocale()
	}
	locale = normalizeLocale(locale)

	messages := make(map[string]string, len(EnMessages))
	for k, v := range EnMessages {
		messages[k] = v
	}
	if locale == "zh-CN" {
		for k, v := range ZhCNMessages {
			messages[k] = v
		}
	}
	return &I18n{locale: locale, messages: messages}
}

// T returns the message for key formatted with args, or key itself when the
// catalog has no entry.
func (i *I18n) T(key string, args ...any) string {
	tmpl, ok := i.messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func (i *I18n) Locale() string {
	return i.locale
}

// DetectLocale 从环境变量检测 locale
// DetectLocale reads the locale from the environment, defaulting to en.
func DetectLocale() string {
	for _, env := range []string{"WORKBENCH_LANG", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return normalizeLocale(v)
		}
	}
	return "en"
}

func normalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "en"
	}
	// zh_CN.UTF-8 -> zh_CN
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "_", "-")
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "zh"):
		return "zh-CN"
	case strings.HasPrefix(lower, "en"), lower == "c", lower == "posix":
		return "en"
	default:
		return s
	}
}
