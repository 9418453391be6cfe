package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

type styles struct {
	file    lipgloss.Style
	pos     lipgloss.Style
	err     lipgloss.Style
	warn    lipgloss.Style
	info    lipgloss.Style
	ok      lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newStyles() styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		file:    lipgloss.NewStyle().Bold(true).Underline(true),
		pos:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		heading: lipgloss.NewStyle().Bold(true),
	}
}

func (s styles) severity(sev core.Severity) string {
	switch sev {
	case core.SeverityError:
		return s.err.Render("error")
	case core.SeverityWarning:
		return s.warn.Render("warning")
	default:
		return s.info.Render("info")
	}
}

// relPath shows path relative to root when it lies below it.
func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// renderReport writes diagnostics grouped by file, failing adapters and a
// summary line.
func renderReport(w io.Writer, root string, files map[string][]core.Diagnostic, failing []service.Health,
	messages []string) {
	st := newStyles()

	paths := make([]string, 0, len(files))
	for p, diags := range files {
		if len(diags) > 0 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	total := 0
	for _, p := range paths {
		fmt.Fprintln(w, st.file.Render(relPath(root, p)))
		for _, d := range files[p] {
			total++
			pos := fmt.Sprintf("%d:%d", d.Range.Start.Line+1, d.Range.Start.Character+1)
			lines := strings.Split(d.Message, "\n")
			fmt.Fprintf(w, "  %s %s %s %s\n", st.pos.Render(pos), st.severity(d.Severity), lines[0],
				st.muted.Render("["+d.Source+"]"))
			for _, l := range lines[1:] {
				if l != "" {
					fmt.Fprintf(w, "      %s\n", st.muted.Render(l))
				}
			}
		}
		fmt.Fprintln(w)
	}

	if len(messages) > 0 {
		fmt.Fprintln(w, st.heading.Render("Adapter messages"))
		for _, m := range messages {
			fmt.Fprintf(w, "  %s %s\n", st.warn.Render("!"), m)
		}
		fmt.Fprintln(w)
	}

	if len(failing) > 0 {
		fmt.Fprintln(w, st.heading.Render("Failing adapters"))
		for _, h := range failing {
			fmt.Fprintf(w, "  %s %s %s\n", st.err.Render("✗"), h.Adapter, st.muted.Render(h.Message))
		}
		fmt.Fprintln(w)
	}

	switch {
	case total == 0 && len(failing) == 0:
		fmt.Fprintln(w, st.ok.Render("✓ no failing tests"))
	default:
		fmt.Fprintln(w, st.err.Render(fmt.Sprintf("%d diagnostic(s) in %d file(s), %d failing adapter(s)",
			total, len(paths), len(failing))))
	}
}
