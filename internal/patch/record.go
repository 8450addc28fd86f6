// Package patch compiles approved proposals into canonical patch records and reads/writes the
// patch set wire form.
package patch

import (
	"fmt"
	"strings"
)

type Op string

const (
	OpAdd            Op = "ADD"
	OpReplaceSection Op = "REPLACE_SECTION"
	OpDelete         Op = "DELETE"
)

// ParseOp trims and upper-cases s before matching it against the known ops.
func ParseOp(s string) (Op, bool) {
	switch op := Op(strings.ToUpper(strings.TrimSpace(s))); op {
	case OpAdd, OpReplaceSection, OpDelete:
		return op, true
	}
	return "", false
}

// Record is one compiled patch. The concrete type is one of Add, ReplaceSection or Delete.
type Record interface {
	Number() int
	Op() Op
	SectionName() string
	check() error
}

// Add inserts Text into Section, after the section heading or after the Occurrence-th
// Subsection label inside it. Occurrence is zero when Subsection is empty.
type Add struct {
	Num        int
	Section    string
	Subsection string
	Occurrence int
	Text       string
}

func (a Add) Number() int         { return a.Num }
func (a Add) Op() Op              { return OpAdd }
func (a Add) SectionName() string { return a.Section }

func (a Add) check() error {
	if strings.TrimSpace(a.Text) == "" {
		return fmt.Errorf("ADD proposal %d missing TO", a.Num)
	}
	if a.Subsection != "" && a.Occurrence < 1 {
		return fmt.Errorf("ADD proposal %d has subsection_occurrence %d, must be >= 1", a.Num, a.Occurrence)
	}
	return nil
}

// ReplaceSection swaps the whole body of Section for Paragraphs; the heading stays.
type ReplaceSection struct {
	Num        int
	Section    string
	Paragraphs []string
}

func (r ReplaceSection) Number() int         { return r.Num }
func (r ReplaceSection) Op() Op              { return OpReplaceSection }
func (r ReplaceSection) SectionName() string { return r.Section }

func (r ReplaceSection) check() error {
	if len(r.Paragraphs) == 0 {
		return fmt.Errorf("REPLACE_SECTION proposal %d missing TO content", r.Num)
	}
	for _, p := range r.Paragraphs {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("REPLACE_SECTION proposal %d has an empty TO paragraph", r.Num)
		}
	}
	return nil
}

// Delete removes the single paragraph whose trimmed text equals FromText.
type Delete struct {
	Num      int
	Section  string
	FromText string
}

func (d Delete) Number() int         { return d.Num }
func (d Delete) Op() Op              { return OpDelete }
func (d Delete) SectionName() string { return d.Section }

func (d Delete) check() error {
	if strings.TrimSpace(d.FromText) == "" {
		return fmt.Errorf("DELETE proposal %d missing FROM", d.Num)
	}
	return nil
}

// Numbers lists the record numbers in order.
func Numbers(records []Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Number()
	}
	return out
}
