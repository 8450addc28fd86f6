// Package document holds the paragraph-oriented document model that patches are applied to.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Paragraph is an opaque text unit. Two paragraphs are equal when their trimmed text is equal.
type Paragraph struct {
	Text string
}

// Trimmed returns the text with surrounding whitespace removed.
func (p Paragraph) Trimmed() string {
	return strings.TrimSpace(p.Text)
}

// Document is an ordered, mutable sequence of paragraphs.
type Document struct {
	Paragraphs []Paragraph
}

// New builds a document from raw paragraph texts.
func New(texts ...string) *Document {
	d := &Document{Paragraphs: make([]Paragraph, 0, len(texts))}
	for _, t := range texts {
		d.Paragraphs = append(d.Paragraphs, Paragraph{Text: t})
	}
	return d
}

func (d *Document) Len() int {
	return len(d.Paragraphs)
}

// Text returns the raw text of paragraph i.
func (d *Document) Text(i int) string {
	return d.Paragraphs[i].Text
}

// Texts returns a copy of all paragraph texts in order.
func (d *Document) Texts() []string {
	out := make([]string, len(d.Paragraphs))
	for i, p := range d.Paragraphs {
		out[i] = p.Text
	}
	return out
}

// InsertAfter inserts texts immediately after index i (use -1 to insert at the front)
// and returns the index of the last inserted paragraph.
func (d *Document) InsertAfter(i int, texts ...string) (int, error) {
	if i < -1 || i >= len(d.Paragraphs) {
		return 0, fmt.Errorf("insert position %d out of range [-1, %d)", i, len(d.Paragraphs))
	}
	if len(texts) == 0 {
		return i, nil
	}
	added := make([]Paragraph, len(texts))
	for k, t := range texts {
		added[k] = Paragraph{Text: t}
	}
	at := i + 1
	out := make([]Paragraph, 0, len(d.Paragraphs)+len(added))
	out = append(out, d.Paragraphs[:at]...)
	out = append(out, added...)
	out = append(out, d.Paragraphs[at:]...)
	d.Paragraphs = out
	return at + len(added) - 1, nil
}

// RemoveRange deletes paragraphs in [from, to).
func (d *Document) RemoveRange(from, to int) error {
	if from < 0 || to > len(d.Paragraphs) || from > to {
		return fmt.Errorf("remove range [%d, %d) out of bounds for %d paragraphs", from, to, len(d.Paragraphs))
	}
	d.Paragraphs = append(d.Paragraphs[:from], d.Paragraphs[to:]...)
	return nil
}

// FindExact returns the indices of every paragraph whose trimmed text equals target (trimmed).
func (d *Document) FindExact(target string) []int {
	want := strings.TrimSpace(target)
	var hits []int
	for i, p := range d.Paragraphs {
		if p.Trimmed() == want {
			hits = append(hits, i)
		}
	}
	return hits
}

// Clone returns an independent copy suitable as a working copy for a patch run.
func (d *Document) Clone() *Document {
	out := &Document{Paragraphs: make([]Paragraph, len(d.Paragraphs))}
	copy(out.Paragraphs, d.Paragraphs)
	return out
}

// Equal compares two documents paragraph by paragraph on trimmed text.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.Paragraphs) != len(other.Paragraphs) {
		return false
	}
	for i := range d.Paragraphs {
		if d.Paragraphs[i].Trimmed() != other.Paragraphs[i].Trimmed() {
			return false
		}
	}
	return true
}

// Hash is a stable content digest used to identify document revisions in build records.
func (d *Document) Hash() string {
	sum := sha256.Sum256([]byte(Render(d)))
	return "sha256:" + hex.EncodeToString(sum[:])
}
