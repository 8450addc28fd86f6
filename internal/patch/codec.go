package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docpatch/internal/fault"
)

const SchemaVersion = "rf_patches_v1"

// Item is the JSON form of one record.
type Item struct {
	Num                  int      `json:"num"`
	Op                   string   `json:"op"`
	Section              string   `json:"section"`
	Subsection           string   `json:"subsection,omitempty"`
	SubsectionOccurrence *int     `json:"subsection_occurrence,omitempty"`
	ToText               string   `json:"to_text,omitempty"`
	ToParagraphs         []string `json:"to_paragraphs,omitempty"`
	FromText             string   `json:"from_text,omitempty"`
}

// Set is a compiled patch set ready to persist or apply.
type Set struct {
	Schema                string
	BuiltAtUTC            string
	Family                string
	ApprovedChangeNumbers []int
	Patches               []Record
}

type wireSet struct {
	Schema                string `json:"schema"`
	BuiltAtUTC            string `json:"built_at_utc"`
	Family                string `json:"family,omitempty"`
	ApprovedChangeNumbers []int  `json:"approved_change_numbers"`
	Patches               []Item `json:"patches"`
}

func NewSet(family string, approved []int, records []Record, at time.Time) *Set {
	return &Set{
		Schema:                SchemaVersion,
		BuiltAtUTC:            at.UTC().Format(time.RFC3339),
		Family:                family,
		ApprovedChangeNumbers: append([]int{}, approved...),
		Patches:               records,
	}
}

func ToItem(rec Record) Item {
	switch r := rec.(type) {
	case Add:
		it := Item{Num: r.Num, Op: string(OpAdd), Section: r.Section, Subsection: r.Subsection, ToText: r.Text}
		if r.Subsection != "" {
			occ := r.Occurrence
			it.SubsectionOccurrence = &occ
		}
		return it
	case ReplaceSection:
		return Item{Num: r.Num, Op: string(OpReplaceSection), Section: r.Section,
			ToParagraphs: append([]string{}, r.Paragraphs...)}
	case Delete:
		return Item{Num: r.Num, Op: string(OpDelete), Section: r.Section, FromText: r.FromText}
	}
	return Item{Num: rec.Number(), Op: string(rec.Op()), Section: rec.SectionName()}
}

// FromItem converts a wire item back into its record variant. Payload checks are left to
// Check; only an unknown op is rejected here.
func FromItem(it Item) (Record, error) {
	op, ok := ParseOp(it.Op)
	if !ok {
		return nil, fault.Schema(map[string]any{"num": it.Num, "op": it.Op}, "unknown patch op")
	}
	switch op {
	case OpAdd:
		add := Add{Num: it.Num, Section: it.Section, Subsection: it.Subsection, Text: it.ToText}
		if it.Subsection != "" {
			add.Occurrence = 1
			if it.SubsectionOccurrence != nil {
				add.Occurrence = *it.SubsectionOccurrence
			}
		}
		return add, nil
	case OpReplaceSection:
		paras := it.ToParagraphs
		if len(paras) == 0 && it.ToText != "" {
			paras = []string{it.ToText}
		}
		return ReplaceSection{Num: it.Num, Section: it.Section, Paragraphs: paras}, nil
	default:
		return Delete{Num: it.Num, Section: it.Section, FromText: it.FromText}, nil
	}
}

func Marshal(s *Set) ([]byte, error) {
	w := wireSet{
		Schema:                s.Schema,
		BuiltAtUTC:            s.BuiltAtUTC,
		Family:                s.Family,
		ApprovedChangeNumbers: s.ApprovedChangeNumbers,
		Patches:               make([]Item, len(s.Patches)),
	}
	if w.ApprovedChangeNumbers == nil {
		w.ApprovedChangeNumbers = []int{}
	}
	for i, rec := range s.Patches {
		w.Patches[i] = ToItem(rec)
	}
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func Unmarshal(b []byte) (*Set, error) {
	var w wireSet
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fault.Schema(map[string]any{"cause": err.Error()}, "invalid patch set JSON")
	}
	s := &Set{
		Schema:                w.Schema,
		BuiltAtUTC:            w.BuiltAtUTC,
		Family:                w.Family,
		ApprovedChangeNumbers: w.ApprovedChangeNumbers,
		Patches:               make([]Record, 0, len(w.Patches)),
	}
	for _, it := range w.Patches {
		rec, err := FromItem(it)
		if err != nil {
			return nil, err
		}
		s.Patches = append(s.Patches, rec)
	}
	return s, nil
}

// Load reads a patch set file without validating it.
func Load(path string) (*Set, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read patches: %w", err)
	}
	s, err := Unmarshal(b)
	if err != nil {
		return nil, b, err
	}
	return s, b, nil
}

func Save(path string, s *Set) error {
	b, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
