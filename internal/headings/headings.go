// Package headings maps canonical section names to the literal heading text used by each
// document family, and exposes the major headings that delimit top-level sections.
package headings

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	SchemaVersion = "rf_section_aliases_v1"

	majorHeadingsKey = "__MAJOR_HEADINGS__"
	subsectionsKey   = "__SUBSECTIONS__"
)

var familyNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Resolver is the read side used by the compiler and the application engine.
type Resolver interface {
	// Resolve returns the literal heading variants for a canonical section, or the
	// canonical name itself when the family has no alias for it.
	Resolve(family, canonical string) []string
	// MajorHeadings lists the headings that delimit top-level sections.
	MajorHeadings(family string) []string
	// SubsectionVariants returns the literal labels for a subsection key, or the key itself.
	SubsectionVariants(family, key string) []string
}

// Family is the heading configuration for one document family.
type Family struct {
	MajorHeadings []string
	Subsections   map[string][]string
	Sections      map[string][]string
}

// Table holds every configured family.
type Table struct {
	Schema   string
	Families map[string]*Family
}

func NewTable() *Table {
	return &Table{Schema: SchemaVersion, Families: make(map[string]*Family)}
}

func (t *Table) family(name string) *Family {
	if t == nil || t.Families == nil {
		return nil
	}
	return t.Families[name]
}

func (t *Table) Resolve(family, canonical string) []string {
	canonical = strings.TrimSpace(canonical)
	if f := t.family(family); f != nil {
		if variants := lookup(f.Sections, canonical); len(variants) > 0 {
			return append([]string(nil), variants...)
		}
	}
	return []string{canonical}
}

func (t *Table) MajorHeadings(family string) []string {
	f := t.family(family)
	if f == nil {
		return nil
	}
	return append([]string(nil), f.MajorHeadings...)
}

func (t *Table) SubsectionVariants(family, key string) []string {
	key = strings.TrimSpace(key)
	if f := t.family(family); f != nil {
		if variants := lookup(f.Subsections, key); len(variants) > 0 {
			return append([]string(nil), variants...)
		}
	}
	return []string{key}
}

// FamilyNames returns the configured family names, sorted.
func (t *Table) FamilyNames() []string {
	names := make([]string, 0, len(t.Families))
	for name := range t.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureFamily seeds a default entry for family. It reports whether the table changed.
// An existing entry is only replaced when force is set.
func (t *Table) EnsureFamily(family string, force bool) (bool, error) {
	name, err := NormalizeFamilyName(family)
	if err != nil {
		return false, err
	}
	if t.Families == nil {
		t.Families = make(map[string]*Family)
	}
	if _, ok := t.Families[name]; ok && !force {
		return false, nil
	}
	t.Families[name] = DefaultFamily()
	return true, nil
}

// DefaultFamily is the starter mapping new families get; users edit it per family later.
func DefaultFamily() *Family {
	return &Family{
		MajorHeadings: []string{"SUMMARY:", "SKILLS:", "EXPERIENCE:", "EDUCATION:"},
		Subsections: map[string][]string{
			"ROLES_AND_RESPONSIBILITIES": {"Roles and Responsibilities:"},
		},
		Sections: map[string][]string{
			"SUMMARY":            {"SUMMARY:", "PROFESSIONAL SUMMARY:", "SUMMARY"},
			"CORE COMPETENCIES":  {"SKILLS:", "TECHNICAL SKILL:", "TECHNICAL SKILLS:", "CORE COMPETENCIES:"},
			"PROJECT EXPERIENCE": {"EXPERIENCE:", "PROFESSIONAL EXPERIENCE:", "PROJECT EXPERIENCE:"},
		},
	}
}

// NormalizeFamilyName lower-cases a family slug and checks it is folder-safe.
func NormalizeFamilyName(family string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(family))
	if name == "" {
		return "", fmt.Errorf("family is required")
	}
	if !familyNamePattern.MatchString(name) {
		return "", fmt.Errorf("family %q must be lowercase and folder-safe: [a-z0-9_]", family)
	}
	return name, nil
}

// NormalizeSection maps a proposal's section name onto the exact heading text of the
// template: first by direct match, then through the family's aliases. Unmatched names are
// returned unchanged and resolved again at application time.
func NormalizeSection(r Resolver, family, section string, templateHeadings []string) string {
	section = strings.TrimSpace(section)
	if hit, ok := matchHeading(section, templateHeadings); ok {
		return hit
	}
	if r != nil {
		for _, variant := range r.Resolve(family, section) {
			if hit, ok := matchHeading(variant, templateHeadings); ok {
				return hit
			}
		}
	}
	return section
}

func matchHeading(name string, templateHeadings []string) (string, bool) {
	want := headingKey(name)
	if want == "" {
		return "", false
	}
	for _, h := range templateHeadings {
		if headingKey(h) == want {
			return strings.TrimSpace(h), true
		}
	}
	return "", false
}

// lookup tries the exact key first, then a case/colon-insensitive match.
func lookup(m map[string][]string, key string) []string {
	if v, ok := m[key]; ok {
		return v
	}
	want := headingKey(key)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if headingKey(k) == want {
			return m[k]
		}
	}
	return nil
}

func headingKey(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(strings.TrimSuffix(s, ":"))
	return strings.ToUpper(s)
}
