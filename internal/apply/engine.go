// Package apply runs compiled patch records against a document.
package apply

import (
	"fmt"
	"log/slog"

	"docpatch/internal/document"
	"docpatch/internal/fault"
	"docpatch/internal/headings"
	"docpatch/internal/locator"
	"docpatch/internal/logging"
	"docpatch/internal/patch"
)

// Applied describes one record after it ran. Index is where its first paragraph landed (or
// where the deleted paragraph was).
type Applied struct {
	Num      int    `json:"num"`
	Op       string `json:"op"`
	Section  string `json:"section"`
	Heading  string `json:"heading"`
	Index    int    `json:"index"`
	Inserted int    `json:"inserted"`
	Removed  int    `json:"removed"`
	Chained  bool   `json:"chained,omitempty"`
}

type Engine struct {
	resolver headings.Resolver
	logger   *slog.Logger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(r headings.Resolver, opts ...Option) *Engine {
	if r == nil {
		r = headings.NewTable()
	}
	e := &Engine{resolver: r}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDiscard(e.logger)
	return e
}

// Apply mutates doc in place. On error doc may be partially patched; callers that persist
// should use ApplyCopy.
func (e *Engine) Apply(doc *document.Document, patches []patch.Record, family string) ([]Applied, error) {
	r := &run{
		engine:  e,
		doc:     doc,
		family:  family,
		anchors: make(map[anchorKey]int),
	}
	applied := make([]Applied, 0, len(patches))
	for _, rec := range patches {
		a, err := r.apply(rec)
		if err != nil {
			return applied, fmt.Errorf("apply change %d: %w", rec.Number(), err)
		}
		e.logger.Debug("patch applied", "num", a.Num, "op", a.Op, "heading", a.Heading, "index", a.Index)
		applied = append(applied, a)
	}
	return applied, nil
}

// ApplyCopy patches a clone of doc. doc is never touched; on error the clone is discarded.
func (e *Engine) ApplyCopy(doc *document.Document, patches []patch.Record, family string) (*document.Document, []Applied, error) {
	work := doc.Clone()
	applied, err := e.Apply(work, patches, family)
	if err != nil {
		return nil, nil, err
	}
	return work, applied, nil
}

type anchorKey struct {
	section    string
	subsection string
	occurrence int
}

// run holds the state of one Apply call.
type run struct {
	engine  *Engine
	doc     *document.Document
	family  string
	anchors map[anchorKey]int
}

func (r *run) apply(rec patch.Record) (Applied, error) {
	switch p := rec.(type) {
	case patch.Add:
		return r.add(p)
	case patch.ReplaceSection:
		return r.replaceSection(p)
	case patch.Delete:
		return r.delete(p)
	}
	return Applied{}, fault.Schema(map[string]any{"num": rec.Number()}, "unsupported patch op %s", rec.Op())
}

func (r *run) section(num int, section string) (int, int, error) {
	candidates := r.engine.resolver.Resolve(r.family, section)
	majors := r.engine.resolver.MajorHeadings(r.family)
	start, end, err := locator.FindSection(r.doc, candidates, majors)
	if err != nil {
		if fe, ok := fault.As(err); ok {
			return 0, 0, fe.With("num", num).With("section", section)
		}
		return 0, 0, err
	}
	return start, end, nil
}

func (r *run) add(p patch.Add) (Applied, error) {
	start, end, err := r.section(p.Num, p.Section)
	if err != nil {
		return Applied{}, err
	}

	key := anchorKey{section: p.Section}
	base := start
	if p.Subsection != "" {
		key.subsection = p.Subsection
		key.occurrence = p.Occurrence
		variants := r.engine.resolver.SubsectionVariants(r.family, p.Subsection)
		base, err = locator.FindNthSubsectionAnchor(r.doc, start, end, variants, p.Occurrence)
		if err != nil {
			if fe, ok := fault.As(err); ok {
				return Applied{}, fe.With("num", p.Num).With("section", p.Section).With("subsection", p.Subsection)
			}
			return Applied{}, err
		}
	}

	after, chained := r.anchors[key]
	if !chained {
		after = base
	}
	idx, err := r.insert(after, p.Text)
	if err != nil {
		return Applied{}, err
	}
	r.anchors[key] = idx

	return Applied{
		Num:      p.Num,
		Op:       string(patch.OpAdd),
		Section:  p.Section,
		Heading:  r.doc.Text(start),
		Index:    idx,
		Inserted: 1,
		Chained:  chained,
	}, nil
}

func (r *run) replaceSection(p patch.ReplaceSection) (Applied, error) {
	if len(r.engine.resolver.MajorHeadings(r.family)) == 0 {
		return Applied{}, fault.Addressing(map[string]any{"num": p.Num, "section": p.Section, "family": r.family},
			"no major headings configured for family; section boundaries cannot be computed")
	}
	start, end, err := r.section(p.Num, p.Section)
	if err != nil {
		return Applied{}, err
	}

	removed := end - (start + 1)
	if err := r.remove(start+1, end); err != nil {
		return Applied{}, err
	}
	if _, err := r.insert(start, p.Paragraphs...); err != nil {
		return Applied{}, err
	}

	return Applied{
		Num:      p.Num,
		Op:       string(patch.OpReplaceSection),
		Section:  p.Section,
		Heading:  r.doc.Text(start),
		Index:    start + 1,
		Inserted: len(p.Paragraphs),
		Removed:  removed,
	}, nil
}

func (r *run) delete(p patch.Delete) (Applied, error) {
	matches := r.doc.FindExact(p.FromText)
	if len(matches) != 1 {
		return Applied{}, fault.Ambiguity(map[string]any{
			"num":     p.Num,
			"section": p.Section,
			"matched": len(matches),
		}, "DELETE target must match exactly one paragraph")
	}
	idx := matches[0]
	if err := r.remove(idx, idx+1); err != nil {
		return Applied{}, err
	}
	return Applied{
		Num:     p.Num,
		Op:      string(patch.OpDelete),
		Section: p.Section,
		Index:   idx,
		Removed: 1,
	}, nil
}

// insert places texts after index after, shifts the anchors behind it, and returns the
// index of the first new paragraph.
func (r *run) insert(after int, texts ...string) (int, error) {
	if _, err := r.doc.InsertAfter(after, texts...); err != nil {
		return 0, err
	}
	n := len(texts)
	for k, idx := range r.anchors {
		if idx > after {
			r.anchors[k] = idx + n
		}
	}
	return after + 1, nil
}

// remove deletes [from, to). Anchors inside the range are forgotten; the rest move up.
func (r *run) remove(from, to int) error {
	if to <= from {
		return nil
	}
	if err := r.doc.RemoveRange(from, to); err != nil {
		return err
	}
	n := to - from
	for k, idx := range r.anchors {
		switch {
		case idx >= to:
			r.anchors[k] = idx - n
		case idx >= from:
			delete(r.anchors, k)
		}
	}
	return nil
}
