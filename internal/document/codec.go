package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Parse reads the plain-text form: one paragraph per line, any line length. One trailing
// newline terminates the last paragraph; every other empty line is an empty paragraph, so
// Parse(Render(d)) reproduces d.
func Parse(content string) *Document {
	d := &Document{}
	if content == "" {
		return d
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")

	lines := strings.Split(content, "\n")
	d.Paragraphs = make([]Paragraph, len(lines))
	for i, line := range lines {
		d.Paragraphs[i] = Paragraph{Text: line}
	}
	return d
}

// Render writes the plain-text form with a trailing newline. An empty document renders as
// "", a single empty paragraph as "\n".
func Render(d *Document) string {
	if d == nil || len(d.Paragraphs) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range d.Paragraphs {
		sb.WriteString(strings.ReplaceAll(p.Text, "\n", " "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(b)), nil
}

// Save writes the document through a temp file and rename so a failed write never leaves a
// truncated output behind.
func Save(path string, d *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(Render(d)), 0644); err != nil {
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename document: %w", err)
	}
	return nil
}
