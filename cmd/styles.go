package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Underline(true)

	assistantLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	userLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	chartBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// termPrinter writes message blocks to a terminal: markdown through
// glamour, charts as a framed summary, errors in red.
type termPrinter struct {
	w  io.Writer
	md *glamour.TermRenderer
}

func newTermPrinter(w io.Writer, width int) *termPrinter {
	p := &termPrinter{w: w}
	if width <= 0 {
		width = 100
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		p.md = md
	}
	return p
}

// Message prints one message with its role label.
func (p *termPrinter) Message(m chat.Message) error {
	label := assistantLabel.Render("EDALoom")
	if m.Role == chat.RoleUser {
		label = userLabel.Render("You")
	}
	fmt.Fprintln(p.w, label)
	for _, b := range m.Content {
		if err := b.Accept(p); err != nil {
			return err
		}
	}
	return nil
}

func (p *termPrinter) VisitText(b chat.TextBlock) error {
	if p.md != nil {
		if out, err := p.md.Render(b.Text); err == nil {
			fmt.Fprint(p.w, out)
			return nil
		}
	}
	fmt.Fprintln(p.w, b.Text)
	return nil
}

func (p *termPrinter) VisitChart(b chat.ChartBlock) error {
	lines := []string{headerStyle.Render("Chart: " + chartTitle(b.Spec))}
	if mark := chartMark(b.Spec); mark != "" {
		lines = append(lines, "mark: "+mark)
	}
	if enc := chartEncoding(b.Spec); enc != "" {
		lines = append(lines, "encoding: "+enc)
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d data rows · open the web UI or /export to view", len(b.Data))))
	fmt.Fprintln(p.w, chartBox.Render(strings.Join(lines, "\n")))
	return nil
}

func (p *termPrinter) VisitError(b chat.ErrorBlock) error {
	fmt.Fprintln(p.w, errorStyle.Render("✗ "+b.Text))
	return nil
}

// Suggestions prints the follow-up questions numbered from 1.
func (p *termPrinter) Suggestions(qs []string) {
	if len(qs) == 0 {
		return
	}
	fmt.Fprintln(p.w, headerStyle.Render("Suggested questions"))
	for i, q := range qs {
		fmt.Fprintf(p.w, "  %d) %s\n", i+1, q)
	}
}

func chartTitle(spec map[string]any) string {
	switch t := spec["title"].(type) {
	case string:
		if t != "" {
			return t
		}
	case map[string]any:
		if s, ok := t["text"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := spec["description"].(string); ok && s != "" {
		return s
	}
	return "untitled"
}

func chartMark(spec map[string]any) string {
	switch m := spec["mark"].(type) {
	case string:
		return m
	case map[string]any:
		if s, ok := m["type"].(string); ok {
			return s
		}
	}
	return ""
}

func chartEncoding(spec map[string]any) string {
	enc, ok := spec["encoding"].(map[string]any)
	if !ok {
		return ""
	}
	channels := make([]string, 0, len(enc))
	for ch, def := range enc {
		d, ok := def.(map[string]any)
		if !ok {
			continue
		}
		if field, ok := d["field"].(string); ok {
			channels = append(channels, ch+"="+field)
		}
	}
	sort.Strings(channels)
	return strings.Join(channels, ", ")
}
