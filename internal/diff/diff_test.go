package diff

import (
	"testing"

	"docpatch/internal/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphs(t *testing.T) {
	before := document.New("SUMMARY:", "old line", "SKILLS:", "Go")
	after := document.New("SUMMARY:", "new line", "SKILLS:", "Go", "Rust")

	lines := Paragraphs(before, after)
	added, removed := Stats(lines)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)

	assert.Contains(t, lines, Line{Kind: Removed, Text: "old line"})
	assert.Contains(t, lines, Line{Kind: Added, Text: "new line"})
	assert.Contains(t, lines, Line{Kind: Added, Text: "Rust"})
	assert.Equal(t, Line{Kind: Equal, Text: "SUMMARY:"}, lines[0])
}

func TestParagraphs_Identical(t *testing.T) {
	doc := document.New("a", "b")
	lines := Paragraphs(doc, doc.Clone())
	require.Len(t, lines, 2)
	added, removed := Stats(lines)
	assert.Zero(t, added)
	assert.Zero(t, removed)
}

func TestRender_PlainWithContext(t *testing.T) {
	before := document.New("1", "2", "3", "4", "5", "6")
	after := document.New("1", "2", "3", "4", "5", "six")

	out := Render(Paragraphs(before, after), RenderOptions{Context: 1})
	assert.Contains(t, out, "1 paragraph(s) added, 1 removed")
	assert.Contains(t, out, "  ...\n")
	assert.Contains(t, out, "  5\n")
	assert.Contains(t, out, "- 6\n")
	assert.Contains(t, out, "+ six\n")
	assert.NotContains(t, out, "  2\n")
}

func TestRender_AllContext(t *testing.T) {
	lines := []Line{{Kind: Equal, Text: "a"}, {Kind: Added, Text: "b"}}
	out := Render(lines, RenderOptions{Context: -1})
	assert.Equal(t, "1 paragraph(s) added, 0 removed\n  a\n+ b\n", out)
}
