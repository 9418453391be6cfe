package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// MaxAttrLen bounds string attributes. Adapter stdout dumps attached to
// malformed-payload errors can be megabytes long.
const MaxAttrLen = 4096

// SanitizingHandler redacts secrets from the message and every string-ish
// attribute before passing the record on, and truncates oversized values.
type SanitizingHandler struct {
	next      slog.Handler
	sanitizer *Sanitizer
	maxLen    int
}

// NewSanitizingHandler wraps next.
func NewSanitizingHandler(next slog.Handler, sanitizer *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{next: next, sanitizer: sanitizer, maxLen: MaxAttrLen}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.sanitizer.Sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.scrub(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrub(a)
	}
	return &SanitizingHandler{next: h.next.WithAttrs(scrubbed), sanitizer: h.sanitizer, maxLen: h.maxLen}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), sanitizer: h.sanitizer, maxLen: h.maxLen}
}

func (h *SanitizingHandler) scrub(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.clean(v.String()))
	case slog.KindGroup:
		group := v.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, ga := range group {
			scrubbed[i] = h.scrub(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(scrubbed...)}
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(a.Key, h.clean(x.Error()))
		case []byte:
			return slog.String(a.Key, h.clean(string(x)))
		case fmt.Stringer:
			return slog.String(a.Key, h.clean(x.String()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h *SanitizingHandler) clean(s string) string {
	s = h.sanitizer.Sanitize(s)
	if h.maxLen > 0 && len(s) > h.maxLen {
		return fmt.Sprintf("%s... (%d bytes truncated)", s[:h.maxLen], len(s)-h.maxLen)
	}
	return s
}

// PrettyHandler writes one colorized line per record for terminals:
//
//	15:04:05 WRN [cargo] adapter failed file=src/lib.rs
//
// The adapter attribute becomes the bracketed tag. Attributes added through
// WithAttrs are rendered once, when the derived handler is created.
type PrettyHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	styles  *prettyStyles
	adapter string
	prefix  string // group prefix for keys, "run." after WithGroup("run")
	static  string // pre-rendered attrs
}

type prettyStyles struct {
	time, key, tag lipgloss.Style
	levels         map[slog.Level]string
}

func newPrettyStyles(w io.Writer) *prettyStyles {
	r := lipgloss.NewRenderer(w)
	level := func(color, label string) string {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(label)
	}
	return &prettyStyles{
		time: r.NewStyle().Foreground(lipgloss.Color("241")),
		key:  r.NewStyle().Foreground(lipgloss.Color("37")),
		tag:  r.NewStyle().Foreground(lipgloss.Color("141")),
		levels: map[slog.Level]string{
			slog.LevelDebug: level("245", "DBG"),
			slog.LevelInfo:  level("39", "INF"),
			slog.LevelWarn:  level("214", "WRN"),
			slog.LevelError: level("196", "ERR"),
		},
	}
}

// NewPrettyHandler creates a pretty handler writing to w.
func NewPrettyHandler(w io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{mu: &sync.Mutex{}, w: w, level: level, styles: newPrettyStyles(w)}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.styles.time.Render(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(h.levelLabel(r.Level))

	adapter := h.adapter
	var attrs strings.Builder
	attrs.WriteString(h.static)
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == "adapter" && a.Value.Kind() == slog.KindString {
			adapter = a.Value.String()
			return true
		}
		h.appendAttr(&attrs, h.prefix, a)
		return true
	})

	if adapter != "" {
		b.WriteString(" " + h.styles.tag.Render("["+adapter+"]"))
	}
	b.WriteString(" " + r.Message)
	b.WriteString(attrs.String())
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.static)
	for _, a := range attrs {
		if h.prefix == "" && a.Key == "adapter" && a.Value.Kind() == slog.KindString {
			next.adapter = a.Value.String()
			continue
		}
		h.appendAttr(&b, h.prefix, a)
	}
	next.static = b.String()
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *PrettyHandler) levelLabel(level slog.Level) string {
	if s, ok := h.styles.levels[level]; ok {
		return s
	}
	return level.String()
}

func (h *PrettyHandler) appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range v.Group() {
			h.appendAttr(b, prefix, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	val := v.String()
	if strings.ContainsAny(val, " \t\n\"") {
		val = fmt.Sprintf("%q", val)
	}
	fmt.Fprintf(b, " %s=%s", h.styles.key.Render(prefix+a.Key), val)
}
