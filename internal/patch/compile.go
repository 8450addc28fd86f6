package patch

import (
	"bytes"
	"encoding/json"
	"strings"

	"docpatch/internal/fault"
	"docpatch/internal/headings"
	"docpatch/internal/proposal"
)

// DefaultBannedMarkers are substrings that mark unfinished proposal text.
var DefaultBannedMarkers = []string{"[PROPOSED:", "[PLACEHOLDER:", "[STUB"}

type Options struct {
	// TemplateHeadings are the literal headings of the target document, used to normalize
	// section names. Empty leaves names for the alias resolver at application time.
	TemplateHeadings []string
	// BannedMarkers overrides DefaultBannedMarkers when non-nil.
	BannedMarkers []string
}

func (o Options) markers() []string {
	if o.BannedMarkers != nil {
		return o.BannedMarkers
	}
	return DefaultBannedMarkers
}

// Compile turns the approved proposals into patch records, in approval order.
func Compile(proposals map[int]proposal.Record, approved []int, r headings.Resolver, family string, opts Options) ([]Record, error) {
	out := make([]Record, 0, len(approved))
	for _, num := range approved {
		p, ok := proposals[num]
		if !ok {
			return nil, fault.Consistency(map[string]any{"num": num}, "approved change number not found in proposals")
		}
		rec, err := compileOne(p, r, family, opts.TemplateHeadings)
		if err != nil {
			return nil, err
		}
		if err := CheckPlaceholders(rec, opts.markers()); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func compileOne(p proposal.Record, r headings.Resolver, family string, templateHeadings []string) (Record, error) {
	details := map[string]any{"num": p.Num}

	op, ok := ParseOp(p.Change)
	if !ok {
		return nil, fault.Schema(details, "unsupported CHANGE %q", strings.TrimSpace(p.Change))
	}
	if strings.TrimSpace(p.Section) == "" {
		return nil, fault.Schema(details, "proposal missing SECTION")
	}
	section := headings.NormalizeSection(r, family, p.Section, templateHeadings)

	var rec Record
	switch op {
	case OpAdd:
		add := Add{Num: p.Num, Section: section, Text: strings.TrimSpace(p.ToText)}
		if p.HasSubsection() {
			add.Subsection = strings.TrimSpace(p.Subsection)
			add.Occurrence = 1
			if p.SubsectionOccurrence != nil {
				add.Occurrence = *p.SubsectionOccurrence
			}
		}
		rec = add
	case OpReplaceSection:
		var paras []string
		for _, s := range p.ToParagraphs {
			if s = strings.TrimSpace(s); s != "" {
				paras = append(paras, s)
			}
		}
		if len(p.ToParagraphs) > 0 && len(paras) == 0 {
			return nil, fault.Schema(details, "REPLACE_SECTION proposal has empty TO paragraphs")
		}
		if len(paras) == 0 {
			if t := strings.TrimSpace(p.ToText); t != "" {
				paras = []string{t}
			}
		}
		rec = ReplaceSection{Num: p.Num, Section: section, Paragraphs: paras}
	case OpDelete:
		rec = Delete{Num: p.Num, Section: section, FromText: strings.TrimSpace(p.FromText)}
	}

	if err := rec.check(); err != nil {
		return nil, fault.Schema(details, "%s", err.Error())
	}
	return rec, nil
}

// Check re-validates a record's payload and placeholder markers.
func Check(rec Record, banned []string) error {
	if err := rec.check(); err != nil {
		return fault.Schema(map[string]any{"num": rec.Number()}, "%s", err.Error())
	}
	return CheckPlaceholders(rec, banned)
}

// CheckPlaceholders rejects a record whose serialized form contains a banned marker.
func CheckPlaceholders(rec Record, banned []string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ToItem(rec)); err != nil {
		return err
	}
	s := buf.String()
	for _, m := range banned {
		if m != "" && strings.Contains(s, m) {
			return fault.Policy(map[string]any{"num": rec.Number(), "marker": m},
				"placeholder marker detected in approved patch")
		}
	}
	return nil
}
