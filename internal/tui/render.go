package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"workbench/internal/action"
	"workbench/internal/dispatch"
	"workbench/internal/executor"
	"workbench/internal/i18n"
	"workbench/internal/mcp"
	"workbench/internal/runstate"
	"workbench/internal/tooling"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderProposals lists pending proposals, one block per proposal. Deletes
// get a danger badge.
func RenderProposals(proposals []action.Proposal, theme Theme) string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render(i18n.T("repl.pending")))
	if len(proposals) == 0 {
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(theme.MutedStyle.Render(i18n.T("repl.no_pending"))))
		return b.String()
	}
	for _, p := range proposals {
		badge := theme.BadgeStyle
		if strings.HasSuffix(string(p.Type), ".delete") {
			badge = theme.DangerBadge
		}
		head := lipgloss.JoinHorizontal(lipgloss.Top,
			theme.IDStyle.Render(p.ID), " ", badge.Render(string(p.Type)), " ", p.Title)
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(head))
		if reason := strings.TrimSpace(p.Reason); reason != "" {
			b.WriteString("\n")
			b.WriteString(theme.ListItemStyle.Render("  " + theme.MutedStyle.Render(reason)))
		}
	}
	return b.String()
}

// RenderAudit prints records in the order given, newest first by convention.
func RenderAudit(records []executor.AuditRecord, theme Theme) string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render(i18n.T("repl.audit")))
	if len(records) == 0 {
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(theme.MutedStyle.Render(i18n.T("repl.no_audit"))))
		return b.String()
	}
	for _, r := range records {
		mark := theme.SuccessStyle.Render("✓")
		detail := ""
		if !r.Success {
			mark = theme.ErrorStyle.Render("✗")
			detail = "  " + theme.ErrorStyle.Render(r.Error)
		}
		line := fmt.Sprintf("%s %s  %-24s %s%s",
			mark,
			theme.MutedStyle.Render(r.CreatedAt.Local().Format(time.DateTime)),
			string(r.ActionType),
			theme.IDStyle.Render(r.ActionID),
			detail)
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(line))
	}
	return b.String()
}

// RenderRunLine is a one-line summary of a run: status, message, percent.
func RenderRunLine(run runstate.RunState, theme Theme) string {
	if run.RequestID == "" {
		return theme.MutedStyle.Render(i18n.T("tui.no_run"))
	}
	style := theme.StatusStyle
	switch run.Status {
	case runstate.StatusCompleted:
		style = theme.SuccessStyle
	case runstate.StatusError:
		style = theme.ErrorStyle
	case runstate.StatusFallback:
		style = theme.WarningStyle
	}
	line := i18n.T("tui.run_line", style.Render(string(run.Status)), run.Message, run.Percent)
	if run.ActionProgress.Total > 0 {
		p := run.ActionProgress
		line += theme.MutedStyle.Render(fmt.Sprintf("  (%d/%d, %d failed)", p.Completed, p.Total, p.Failed))
	}
	return line
}

// RenderHealth shows both channels of a probe on one line.
func RenderHealth(h dispatch.Health, theme Theme) string {
	side := func(c dispatch.ChannelHealth) string {
		if c.Available {
			return theme.SuccessStyle.Render(c.Name + " " + i18n.T("repl.available"))
		}
		text := c.Name + " " + i18n.T("repl.unavailable")
		if c.Error != "" {
			text += " (" + c.Error + ")"
		}
		return theme.ErrorStyle.Render(text)
	}
	lines := []string{i18n.T("repl.health", side(h.Structured), side(h.Process))}
	if h.TimeoutMS > 0 {
		lines = append(lines, theme.MutedStyle.Render(i18n.T("repl.timeout", time.Duration(h.TimeoutMS)*time.Millisecond)))
	}
	for _, s := range h.Servers {
		text := i18n.T("repl.server", s.Name, s.Status, len(s.Tools))
		switch s.Status {
		case mcp.StatusReady:
			text = theme.SuccessStyle.Render(text)
		case mcp.StatusDegraded:
			text = theme.ErrorStyle.Render(text + "  " + s.Error)
		default:
			text = theme.MutedStyle.Render(text)
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

// RenderTooling summarises the merged tooling config in three sections.
func RenderTooling(cfg tooling.Config, theme Theme) string {
	sections := []string{
		renderSection(theme, i18n.T("tui.mcp_servers"), len(cfg.MCPServers), func(i int) (string, bool, string) {
			s := cfg.MCPServers[i]
			return s.Name, s.Enabled, strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		}),
		RenderSkills(cfg.Skills, theme),
		RenderCommands(cfg.Commands, theme),
	}
	return strings.Join(sections, "\n")
}

func RenderSkills(skills []tooling.Skill, theme Theme) string {
	return renderSection(theme, i18n.T("tui.skills"), len(skills), func(i int) (string, bool, string) {
		s := skills[i]
		return s.ID, s.Enabled, s.Description
	})
}

func RenderCommands(commands []tooling.Command, theme Theme) string {
	return renderSection(theme, i18n.T("tui.commands"), len(commands), func(i int) (string, bool, string) {
		c := commands[i]
		return "/" + c.Slug, c.Enabled, c.Title + " [" + c.Mode + "]"
	})
}

func renderSection(theme Theme, title string, n int, item func(int) (string, bool, string)) string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render(title))
	if n == 0 {
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(theme.MutedStyle.Render(i18n.T("tui.none"))))
		return b.String()
	}
	for i := 0; i < n; i++ {
		key, enabled, detail := item(i)
		line := theme.IDStyle.Render(key)
		if !enabled {
			line += " " + theme.MutedStyle.Render("("+i18n.T("tui.disabled")+")")
		}
		if detail != "" {
			line += "  " + detail
		}
		b.WriteString("\n")
		b.WriteString(theme.ListItemStyle.Render(line))
	}
	return b.String()
}
