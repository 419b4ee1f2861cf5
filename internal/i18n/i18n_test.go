package i18n

import "testing"

func TestNew_English(t *testing.T) {
	i := New("en")
	if i.Locale() != "en" {
		t.Fatalf("Locale()=%q, want en", i.Locale())
	}
	if got := i.T("planner.default_reply"); got != "Suggestions ready." {
		t.Fatalf("T(planner.default_reply)=%q", got)
	}
}

func TestNew_Chinese(t *testing.T) {
	i := New("zh_CN.UTF-8")
	if i.Locale() != "zh-CN" {
		t.Fatalf("Locale()=%q, want zh-CN", i.Locale())
	}
	if got := i.T("planner.default_reply"); got != "已生成建议。" {
		t.Fatalf("T(planner.default_reply)=%q, want 已生成建议。", got)
	}
}

func TestT_WithArgs(t *testing.T) {
	i := New("zh-CN")
	got := i.T("planner.local_reply", "整理周报", 3, 1)
	want := "我已读取当前工作台数据。你刚才说的是“整理周报”。当前未完成待办 3 项、今日日程 1 项。"
	if got != want {
		t.Fatalf("T=%q, want %q", got, want)
	}
}

func TestT_MissingKey(t *testing.T) {
	if got := New("en").T("nonexistent.key"); got != "nonexistent.key" {
		t.Fatalf("T missing key=%q, want key itself", got)
	}
}

func TestCatalogsHaveSameKeys(t *testing.T) {
	for k := range EnMessages {
		if _, ok := ZhCNMessages[k]; !ok {
			t.Errorf("zh-CN catalog missing %q", k)
		}
	}
	for k := range ZhCNMessages {
		if _, ok := EnMessages[k]; !ok {
			t.Errorf("en catalog missing %q", k)
		}
	}
}

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en_US.UTF-8", "en"},
		{"zh_CN.UTF-8", "zh-CN"},
		{"zh_TW", "zh-CN"},
		{"", "en"},
		{"fr_FR", "fr-FR"},
	}
	for _, tt := range tests {
		if got := normalizeLocale(tt.input); got != tt.expected {
			t.Errorf("normalizeLocale(%q)=%q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Fatal("Global() should return same instance")
	}
}
