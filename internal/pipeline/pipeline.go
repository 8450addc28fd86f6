package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"docpatch/internal/approval"
	"docpatch/internal/config"
	"docpatch/internal/document"
	"docpatch/internal/fault"
	"docpatch/internal/headings"
	"docpatch/internal/locator"
	"docpatch/internal/logging"
	"docpatch/internal/patch"
	"docpatch/internal/proposal"
	"docpatch/internal/validate"
)

// ErrExists is returned when a stage would overwrite an existing file without force.
var ErrExists = errors.New("refusing to overwrite existing file (use --force)")

// Pipeline runs the approve, compile, validate and build stages over one pipeline directory.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock fixes the time source; tests use it for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) { p.newRunID = next }
}

func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger)
	return p
}

func (p *Pipeline) Config() *config.Config { return p.cfg }

// Approve records the approval set for the current proposals.
func (p *Pipeline) Approve(arg string, force bool) (*approval.Set, error) {
	text, err := readText(p.cfg.ProposalsPath())
	if err != nil {
		return nil, err
	}
	existing := proposal.Numbers(text)
	if len(existing) == 0 {
		return nil, fault.Schema(map[string]any{"path": p.cfg.ProposalsPath()}, "no numbered changes found in proposals")
	}

	set, err := approval.Record(arg, existing, p.cfg.Family, p.cfg.ProposalsPath(), p.now())
	if err != nil {
		return nil, err
	}
	if err := validate.Approvals(set); err != nil {
		return nil, err
	}
	if err := refuseOverwrite(p.cfg.ApprovalsPath(), force); err != nil {
		return nil, err
	}
	if err := approval.Save(p.cfg.ApprovalsPath(), set); err != nil {
		return nil, fmt.Errorf("write approvals: %w", err)
	}
	p.logger.Info("approvals recorded", "approved", set.ApprovedChangeNumbers, "path", p.cfg.ApprovalsPath())
	return set, nil
}

// Compile turns the approved proposals into patches.json.
func (p *Pipeline) Compile(force bool) (*patch.Set, error) {
	text, err := readText(p.cfg.ProposalsPath())
	if err != nil {
		return nil, err
	}
	proposals, err := proposal.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	approvals, err := p.loadApprovals()
	if err != nil {
		return nil, err
	}
	table, err := headings.LoadTable(p.cfg.Aliases.Path)
	if err != nil {
		return nil, err
	}
	templateHeadings, err := p.templateHeadings()
	if err != nil {
		return nil, err
	}

	family := p.family(approvals)
	records, err := patch.Compile(proposals, approvals.ApprovedChangeNumbers, table, family, patch.Options{
		TemplateHeadings: templateHeadings,
		BannedMarkers:    p.cfg.Policy.BannedMarkers,
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	set := patch.NewSet(family, approvals.ApprovedChangeNumbers, records, p.now())
	if err := validate.PatchSet(set, approvals, p.cfg.Policy.BannedMarkers); err != nil {
		return nil, err
	}
	if err := refuseOverwrite(p.cfg.PatchesPath(), force); err != nil {
		return nil, err
	}
	if err := patch.Save(p.cfg.PatchesPath(), set); err != nil {
		return nil, fmt.Errorf("write patches: %w", err)
	}
	p.logger.Info("patches compiled", "count", len(records), "path", p.cfg.PatchesPath())
	return set, nil
}

// Validate re-checks patches.json against approvals.json.
func (p *Pipeline) Validate() (*patch.Set, *approval.Set, error) {
	approvals, err := p.loadApprovals()
	if err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(p.cfg.PatchesPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read patches: %w", err)
	}
	set, err := validate.Document(raw, approvals, p.cfg.Policy.BannedMarkers)
	if err != nil {
		return nil, nil, err
	}
	return set, approvals, nil
}

// Headings lists the short paragraphs of the source document.
func (p *Pipeline) Headings(maxLen int) ([]locator.Heading, error) {
	doc, err := p.loadSource()
	if err != nil {
		return nil, err
	}
	return locator.Headings(doc, maxLen), nil
}

// FamilyInit seeds a default alias entry for family in the alias file. It reports whether the
// file changed.
func (p *Pipeline) FamilyInit(family string, force bool) (bool, error) {
	table, err := headings.LoadTable(p.cfg.Aliases.Path)
	if err != nil {
		return false, err
	}
	changed, err := table.EnsureFamily(family, force)
	if err != nil || !changed {
		return changed, err
	}
	if err := headings.SaveTable(p.cfg.Aliases.Path, table); err != nil {
		return false, fmt.Errorf("write aliases: %w", err)
	}
	return true, nil
}

func (p *Pipeline) loadApprovals() (*approval.Set, error) {
	set, err := approval.Load(p.cfg.ApprovalsPath())
	if err != nil {
		return nil, err
	}
	if err := validate.Approvals(set); err != nil {
		return nil, err
	}
	return set, nil
}

func (p *Pipeline) loadSource() (*document.Document, error) {
	if p.cfg.Document.Source == "" {
		return nil, fmt.Errorf("no source document configured")
	}
	doc, err := document.Load(p.cfg.Document.Source)
	if err != nil {
		return nil, fmt.Errorf("load source document: %w", err)
	}
	return doc, nil
}

func (p *Pipeline) templateHeadings() ([]string, error) {
	if !p.cfg.Document.LearnHeadings || p.cfg.Document.Source == "" {
		return nil, nil
	}
	doc, err := p.loadSource()
	if err != nil {
		return nil, err
	}
	return locator.TemplateHeadings(doc), nil
}

func (p *Pipeline) family(approvals *approval.Set) string {
	if p.cfg.Family != "" {
		return p.cfg.Family
	}
	if approvals != nil {
		return approvals.Family
	}
	return ""
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func refuseOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	return nil
}
