// Package diff shows what a build changed, paragraph by paragraph.
package diff

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"

	"docpatch/internal/document"
)

type Kind int

const (
	Equal Kind = iota
	Added
	Removed
)

func (k Kind) prefix() string {
	switch k {
	case Added:
		return "+ "
	case Removed:
		return "- "
	default:
		return "  "
	}
}

// Line is one paragraph of the diff.
type Line struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Paragraphs diffs two documents with one paragraph per line.
func Paragraphs(before, after *document.Document) []Line {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(joined(before), joined(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var out []Line
	for _, d := range diffs {
		kind := Equal
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = Added
		case diffmatchpatch.DiffDelete:
			kind = Removed
		}
		text := strings.TrimSuffix(d.Text, "\n")
		for _, l := range strings.Split(text, "\n") {
			out = append(out, Line{Kind: kind, Text: l})
		}
	}
	return out
}

func joined(d *document.Document) string {
	if d == nil || d.Len() == 0 {
		return ""
	}
	return strings.Join(d.Texts(), "\n") + "\n"
}

// Stats counts added and removed paragraphs.
func Stats(lines []Line) (added, removed int) {
	for _, l := range lines {
		switch l.Kind {
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return added, removed
}

var (
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	contextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

type RenderOptions struct {
	Color bool
	// Context is how many unchanged paragraphs to keep around each change. Negative keeps all.
	Context int
}

// Render prints a summary line followed by the diff body.
func Render(lines []Line, opts RenderOptions) string {
	added, removed := Stats(lines)
	var b strings.Builder

	summary := fmt.Sprintf("%d paragraph(s) added, %d removed", added, removed)
	if opts.Color {
		summary = headerStyle.Render(summary)
	}
	b.WriteString(summary)
	b.WriteByte('\n')

	keep := visible(lines, opts.Context)
	skipped := false
	for i, l := range lines {
		if !keep[i] {
			if !skipped {
				b.WriteString(style(opts.Color, contextStyle, "  ..."))
				b.WriteByte('\n')
				skipped = true
			}
			continue
		}
		skipped = false
		text := l.Kind.prefix() + l.Text
		switch l.Kind {
		case Added:
			text = style(opts.Color, addedStyle, text)
		case Removed:
			text = style(opts.Color, removedStyle, text)
		default:
			text = style(opts.Color, contextStyle, text)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

func style(color bool, s lipgloss.Style, text string) string {
	if !color {
		return text
	}
	return s.Render(text)
}

func visible(lines []Line, context int) []bool {
	keep := make([]bool, len(lines))
	if context < 0 {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	for i, l := range lines {
		if l.Kind == Equal {
			continue
		}
		lo, hi := i-context, i+context
		if lo < 0 {
			lo = 0
		}
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}
	return keep
}
