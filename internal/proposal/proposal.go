// Package proposal reads and writes the numbered proposal text format:
//
//	1)
//	SECTION: SUMMARY
//	CHANGE: REPLACE_SECTION
//	TO:
//	- first paragraph
//	- second paragraph
//
// Records are returned raw; the compiler decides whether they are usable.
package proposal

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docpatch/internal/fault"
)

var markerPattern = regexp.MustCompile(`^(\d+)\)\s*$`)

// Record is one proposal exactly as written. Optional fields are nil/empty when absent.
type Record struct {
	Num                  int      `json:"num"`
	Section              string   `json:"section,omitempty"`
	Change               string   `json:"change,omitempty"`
	Subsection           string   `json:"subsection,omitempty"`
	SubsectionOccurrence *int     `json:"subsection_occurrence,omitempty"`
	ToText               string   `json:"to_text,omitempty"`
	ToParagraphs         []string `json:"to_paragraphs,omitempty"`
	FromText             string   `json:"from_text,omitempty"`
}

// HasSubsection reports whether a SUBSECTION line was present.
func (r Record) HasSubsection() bool {
	return r.Subsection != ""
}

type fieldSetter func(r *Record, value string, lineNo int) error

var fields = []struct {
	prefix string
	set    fieldSetter
}{
	{"SECTION: ", func(r *Record, v string, _ int) error { r.Section = v; return nil }},
	{"CHANGE: ", func(r *Record, v string, _ int) error { r.Change = v; return nil }},
	{"SUBSECTION: ", func(r *Record, v string, _ int) error { r.Subsection = v; return nil }},
	{"SUBSECTION_OCCURRENCE: ", func(r *Record, v string, lineNo int) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fault.Schema(map[string]any{"num": r.Num, "line": lineNo, "value": v},
				"invalid SUBSECTION_OCCURRENCE (not int)")
		}
		r.SubsectionOccurrence = &n
		return nil
	}},
}

// Parse reads proposal text into records keyed by number. Lines before the first marker and
// unrecognised lines are ignored.
func Parse(text string) (map[int]Record, error) {
	p := &parser{out: make(map[int]Record)}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := p.line(strings.TrimRight(sc.Text(), "\r"), lineNo); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}
	if err := p.flush(); err != nil {
		return nil, err
	}
	return p.out, nil
}

type parser struct {
	out     map[int]Record
	cur     *Record
	curLine int
	inBlock bool
	block   []string
}

func (p *parser) line(line string, lineNo int) error {
	if m := markerPattern.FindStringSubmatch(line); m != nil {
		if err := p.flush(); err != nil {
			return err
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			return fault.Schema(map[string]any{"line": lineNo}, "invalid proposal number %q", m[1])
		}
		p.cur = &Record{Num: num}
		p.curLine = lineNo
		return nil
	}
	if p.cur == nil {
		return nil
	}

	for _, f := range fields {
		if strings.HasPrefix(line, f.prefix) {
			return f.set(p.cur, strings.TrimSpace(strings.TrimPrefix(line, f.prefix)), lineNo)
		}
	}

	if line == "TO:" {
		p.inBlock = true
		p.block = nil
		return nil
	}
	if p.inBlock {
		if strings.TrimSpace(line) == "" {
			p.closeBlock()
		} else {
			p.block = append(p.block, line)
		}
		return nil
	}

	switch {
	case strings.HasPrefix(line, "TO: "):
		p.cur.ToText = strings.TrimSpace(strings.TrimPrefix(line, "TO: "))
	case strings.HasPrefix(line, "FROM: "):
		p.cur.FromText = strings.TrimSpace(strings.TrimPrefix(line, "FROM: "))
	}
	return nil
}

func (p *parser) closeBlock() {
	paras := make([]string, 0, len(p.block))
	for _, raw := range p.block {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		paras = append(paras, strings.TrimSpace(strings.Trim(raw, "- ")))
	}
	p.cur.ToParagraphs = paras
	p.inBlock = false
	p.block = nil
}

func (p *parser) flush() error {
	if p.cur == nil {
		return nil
	}
	if p.inBlock {
		p.closeBlock()
	}
	if _, dup := p.out[p.cur.Num]; dup {
		return fault.Schema(map[string]any{"num": p.cur.Num, "line": p.curLine}, "duplicate proposal number")
	}
	p.out[p.cur.Num] = *p.cur
	p.cur = nil
	return nil
}

// Numbers lists the record numbers present in text, in file order.
func Numbers(text string) []int {
	var nums []int
	for _, line := range strings.Split(text, "\n") {
		if m := markerPattern.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

// SortedNumbers returns the keys of a parsed record map in ascending order.
func SortedNumbers(records map[int]Record) []int {
	nums := make([]int, 0, len(records))
	for n := range records {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Render writes records in the locked text format. header lines are emitted first, followed by
// a blank line. Newlines inside values are flattened so the output parses back identically.
func Render(header []string, records []Record) string {
	var b strings.Builder
	for _, h := range header {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	if len(header) > 0 {
		b.WriteByte('\n')
	}
	for _, r := range records {
		fmt.Fprintf(&b, "%d)\n", r.Num)
		if r.Section != "" {
			fmt.Fprintf(&b, "SECTION: %s\n", clean(r.Section))
		}
		if r.Change != "" {
			fmt.Fprintf(&b, "CHANGE: %s\n", clean(r.Change))
		}
		if r.Subsection != "" {
			fmt.Fprintf(&b, "SUBSECTION: %s\n", clean(r.Subsection))
		}
		if r.SubsectionOccurrence != nil {
			fmt.Fprintf(&b, "SUBSECTION_OCCURRENCE: %d\n", *r.SubsectionOccurrence)
		}
		if r.FromText != "" {
			fmt.Fprintf(&b, "FROM: %s\n", clean(r.FromText))
		}
		if len(r.ToParagraphs) > 0 {
			b.WriteString("TO:\n")
			for _, s := range r.ToParagraphs {
				fmt.Fprintf(&b, "- %s\n", clean(s))
			}
		} else if r.ToText != "" {
			fmt.Fprintf(&b, "TO: %s\n", clean(r.ToText))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
