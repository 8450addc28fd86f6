package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docpatch/internal/apply"
	"docpatch/internal/diff"
	"docpatch/internal/document"
	"docpatch/internal/fault"
	"docpatch/internal/headings"
	"docpatch/internal/history"
	"docpatch/internal/storage"
)

const MetaSchemaVersion = "rf_build_meta_v1"

// Meta is written next to the built document.
type Meta struct {
	Schema                string          `json:"schema"`
	RunID                 string          `json:"run_id"`
	BuiltAtUTC            string          `json:"built_at_utc"`
	Family                string          `json:"family"`
	Source                string          `json:"source"`
	SourceHash            string          `json:"source_hash"`
	OutputHash            string          `json:"output_hash"`
	ApprovedChangeNumbers []int           `json:"approved_change_numbers"`
	AppliedChanges        []apply.Applied `json:"applied_changes"`
	Outputs               MetaOutputs     `json:"outputs"`
}

type MetaOutputs struct {
	Document string `json:"document"`
	Meta     string `json:"meta"`
}

type BuildOptions struct {
	Force bool
	// DryRun applies the patches without writing anything except the ledger row.
	DryRun bool
}

type BuildResult struct {
	RunID    string
	Output   string
	MetaPath string
	Commit   string
	DryRun   bool
	Applied  []apply.Applied
	Diff     []diff.Line
	Document *document.Document
}

// Build loads every input, validates, applies the patches to a working copy, and persists the
// result only when everything succeeded. Each attempt gets a ledger row.
func (p *Pipeline) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	run := &storage.Build{
		RunID:     p.newRunID(),
		Document:  p.cfg.Document.Source,
		Output:    p.cfg.OutputPath(),
		Status:    storage.StatusFailed,
		StartedAt: p.now(),
	}
	result, err := p.build(ctx, run, opts)
	run.FinishedAt = p.now()
	if err != nil {
		run.Error = err.Error()
		if class, ok := fault.ClassOf(err); ok {
			run.ErrorClass = string(class)
		}
		p.logger.Error("build failed", "run_id", run.RunID, "class", run.ErrorClass, "error", err)
	}
	p.recordLedger(ctx, run)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) build(ctx context.Context, run *storage.Build, opts BuildOptions) (*BuildResult, error) {
	// 1. Load inputs
	source, err := p.loadSource()
	if err != nil {
		return nil, err
	}
	run.DocumentHash = source.Hash()

	set, approvals, err := p.Validate()
	if err != nil {
		return nil, err
	}
	run.Approved = approvals.ApprovedChangeNumbers
	run.Family = p.cfg.Family
	if run.Family == "" {
		run.Family = set.Family
	}
	if run.Family == "" {
		run.Family = approvals.Family
	}

	table, err := headings.LoadTable(p.cfg.Aliases.Path)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		if err := refuseOverwrite(run.Output, opts.Force); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. Apply to a working copy
	engine := apply.NewEngine(table, apply.WithLogger(p.logger))
	out, applied, err := engine.ApplyCopy(source, set.Patches, run.Family)
	if err != nil {
		return nil, err
	}
	run.OutputHash = out.Hash()
	for _, a := range applied {
		run.Changes = append(run.Changes, storage.Change{
			Num: a.Num, Op: a.Op, Section: a.Section, Index: a.Index, Inserted: a.Inserted, Removed: a.Removed,
		})
	}

	result := &BuildResult{
		RunID:    run.RunID,
		Output:   run.Output,
		MetaPath: p.cfg.MetaPath(),
		DryRun:   opts.DryRun,
		Applied:  applied,
		Diff:     diff.Paragraphs(source, out),
		Document: out,
	}
	if opts.DryRun {
		run.Status = storage.StatusDryRun
		return result, nil
	}

	// 3. Persist, staging the meta before the document
	meta := Meta{
		Schema:                MetaSchemaVersion,
		RunID:                 run.RunID,
		BuiltAtUTC:            p.now().UTC().Format(time.RFC3339),
		Family:                run.Family,
		Source:                run.Document,
		SourceHash:            run.DocumentHash,
		OutputHash:            run.OutputHash,
		ApprovedChangeNumbers: run.Approved,
		AppliedChanges:        applied,
		Outputs:               MetaOutputs{Document: run.Output, Meta: result.MetaPath},
	}
	metaTmp := result.MetaPath + ".tmp"
	if err := writeJSON(metaTmp, meta); err != nil {
		_ = os.Remove(metaTmp)
		return nil, fmt.Errorf("write build meta: %w", err)
	}
	if err := document.Save(run.Output, out); err != nil {
		_ = os.Remove(metaTmp)
		return nil, fmt.Errorf("write output document: %w", err)
	}
	if err := os.Rename(metaTmp, result.MetaPath); err != nil {
		_ = os.Remove(metaTmp)
		return nil, fmt.Errorf("write build meta: %w", err)
	}
	run.Status = storage.StatusSucceeded

	if p.cfg.History.Enabled {
		commit, err := p.commitHistory(run.RunID, run.Output, result.MetaPath)
		if err != nil {
			p.logger.Warn("history commit failed", "run_id", run.RunID, "error", err)
		}
		result.Commit = commit
	}
	p.logger.Info("build finished", "run_id", run.RunID, "applied", len(applied), "output", run.Output)
	return result, nil
}

func (p *Pipeline) commitHistory(runID string, paths ...string) (string, error) {
	repo, err := history.Open(p.cfg.Output.Dir)
	if err != nil {
		return "", err
	}
	abs := make([]string, 0, len(paths))
	for _, path := range paths {
		a, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		abs = append(abs, a)
	}
	return repo.Commit(abs, "docpatch build "+runID, p.cfg.History.Author, p.now())
}

// History lists commits of the output directory.
func (p *Pipeline) History(limit int) ([]history.Entry, error) {
	repo, err := history.Open(p.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	return repo.Log(limit)
}

// Builds lists ledger rows, newest first.
func (p *Pipeline) Builds(ctx context.Context, limit int) ([]storage.Build, error) {
	store, err := storage.NewSQLiteStore(p.cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	return store.ListBuilds(ctx, limit)
}

// GetBuild loads one ledger row with its applied changes.
func (p *Pipeline) GetBuild(ctx context.Context, runID string) (*storage.Build, error) {
	store, err := storage.NewSQLiteStore(p.cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	return store.GetBuild(ctx, runID)
}

func (p *Pipeline) recordLedger(ctx context.Context, run *storage.Build) {
	if !p.cfg.Ledger.Enabled || p.cfg.Ledger.Path == "" {
		return
	}
	store, err := storage.NewSQLiteStore(p.cfg.Ledger.Path)
	if err != nil {
		p.logger.Warn("ledger unavailable", "path", p.cfg.Ledger.Path, "error", err)
		return
	}
	defer store.Close()
	if err := store.RecordBuild(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn("ledger write failed", "run_id", run.RunID, "error", err)
	}
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0644)
}
