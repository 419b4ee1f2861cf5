package tooling

import (
	"fmt"
	"strconv"
	"strings"
)

// sanitizeSlug keeps [A-Za-z0-9_-], trims leading/trailing '_' and '-' and lowercases.
func sanitizeSlug(slug string) string {
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	out = strings.Trim(out, "-")
	return strings.ToLower(out)
}

// splitFrontmatter 拆分 "---" 包围的头部与正文
// splitFrontmatter separates a leading "---" block of key: value lines from
// the body. Content without a closed block is returned whole as the body.
func splitFrontmatter(content string) (map[string]string, string) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	trimmed := strings.TrimLeft(content, " \t\n")
	if !strings.HasPrefix(trimmed, "---\n") {
		return map[string]string{}, trimmed
	}
	rest := trimmed[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		if strings.HasSuffix(rest, "\n---") {
			end = len(rest) - len("\n---")
		} else {
			return map[string]string{}, trimmed
		}
	}
	front := rest[:end]
	body := ""
	if end+len("\n---\n") <= len(rest) {
		body = rest[end+len("\n---\n"):]
	}

	fields := map[string]string{}
	for _, line := range strings.Split(front, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = unquote(value)
	}
	return fields, body
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return []string{}
	}
	out := []string{}
	for _, item := range strings.Split(raw[1:len(raw)-1], ",") {
		item = unquote(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseCommandMarkdown builds a command from a markdown file. stem is the
// file name without extension, used when the front-matter has no slug.
func parseCommandMarkdown(content, stem, source string) (Command, error) {
	fields, body := splitFrontmatter(content)

	slug := fields["slug"]
	if slug == "" {
		slug = stem
	}
	if slug == "" {
		slug = "command"
	}
	title := fields["title"]
	if title == "" {
		title = slug
	}
	mode := fields["mode"]
	if mode == "" {
		mode = ModeInsert
	}
	enabled := true
	if v, ok := fields["enabled"]; ok {
		enabled = v == "true"
	}

	cmd := Command{
		Slug:        sanitizeSlug(slug),
		Title:       title,
		Description: fields["description"],
		Enabled:     enabled,
		Mode:        mode,
		Tags:        parseList(fields["tags"]),
		Aliases:     parseList(fields["aliases"]),
		Body:        strings.TrimSpace(body),
		Source:      source,
	}
	if err := validateCommand(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// buildCommandMarkdown writes text values as Go-quoted strings; unquote
// reads them back unchanged.
func buildCommandMarkdown(c Command) string {
	enabled := "false"
	if c.Enabled {
		enabled = "true"
	}
	return fmt.Sprintf("---\nslug: %s\ntitle: %s\ndescription: %s\nenabled: %s\nmode: %s\ntags: [%s]\naliases: [%s]\n---\n\n%s\n",
		sanitizeSlug(c.Slug),
		strconv.Quote(c.Title),
		strconv.Quote(c.Description),
		enabled,
		c.Mode,
		quoteList(c.Tags),
		quoteList(c.Aliases),
		c.Body,
	)
}

// unquote reverses strconv.Quote. Hand-written values that are not valid
// quoted strings only lose their surrounding quotes.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
	}
	return strings.Trim(v, `"`)
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, strconv.Quote(item))
	}
	return strings.Join(quoted, ", ")
}
