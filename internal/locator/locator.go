// Package locator computes section boundaries and subsection anchors inside a document using
// only heading text.
package locator

import (
	"strings"

	"docpatch/internal/document"
	"docpatch/internal/fault"
)

// headingSampleSize bounds how many short paragraphs an addressing error lists.
const headingSampleSize = 30

// Normalize collapses whitespace, lower-cases, and strips one trailing colon.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(s, ":")
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizedSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if n := Normalize(v); n != "" {
			set[n] = true
		}
	}
	return set
}

// FindSection returns [start, end) for the first paragraph matching any candidate heading.
// end is the next major heading strictly after start, or the document length.
func FindSection(doc *document.Document, candidates, majors []string) (int, int, error) {
	want := normalizedSet(candidates)
	start := -1
	for i, p := range doc.Paragraphs {
		n := Normalize(p.Text)
		if n != "" && want[n] {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, fault.Addressing(map[string]any{
			"candidates":    candidates,
			"headings_seen": sampleHeadings(doc),
		}, "section heading not found")
	}

	end := doc.Len()
	majorSet := normalizedSet(majors)
	for i := start + 1; i < doc.Len(); i++ {
		if majorSet[Normalize(doc.Text(i))] {
			end = i
			break
		}
	}
	return start, end, nil
}

// FindNthSubsectionAnchor scans [start, end) and returns the index of the occurrence-th
// (1-indexed) paragraph matching any variant.
func FindNthSubsectionAnchor(doc *document.Document, start, end int, variants []string, occurrence int) (int, error) {
	if start < 0 {
		start = 0
	}
	if end > doc.Len() {
		end = doc.Len()
	}
	want := normalizedSet(variants)

	var matches []int
	for i := start; i < end; i++ {
		n := Normalize(doc.Text(i))
		if n != "" && want[n] {
			matches = append(matches, i)
		}
	}
	if occurrence < 1 || occurrence > len(matches) {
		return 0, fault.Addressing(map[string]any{
			"variants":   variants,
			"occurrence": occurrence,
			"matched":    len(matches),
		}, "subsection occurrence out of range")
	}
	return matches[occurrence-1], nil
}

// Heading is a short paragraph listed for debugging section addresses.
type Heading struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Headings lists non-empty paragraphs no longer than maxLen characters (after whitespace
// collapsing), which is where headings live in practice.
func Headings(doc *document.Document, maxLen int) []Heading {
	var out []Heading
	for i, p := range doc.Paragraphs {
		t := strings.Join(strings.Fields(p.Text), " ")
		if t == "" || len([]rune(t)) > maxLen {
			continue
		}
		out = append(out, Heading{Index: i, Text: t})
	}
	return out
}

// TemplateHeadings returns the trimmed paragraphs that end with a colon, the convention the
// compiler uses to learn a template's literal section headings.
func TemplateHeadings(doc *document.Document) []string {
	var out []string
	for _, p := range doc.Paragraphs {
		t := p.Trimmed()
		if strings.HasSuffix(t, ":") {
			out = append(out, t)
		}
	}
	return out
}

func sampleHeadings(doc *document.Document) []string {
	hs := Headings(doc, 60)
	if len(hs) > headingSampleSize {
		hs = hs[:headingSampleSize]
	}
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Text
	}
	return out
}
