package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docpatch/internal/config"
	"docpatch/internal/document"
	"docpatch/internal/fault"
	"docpatch/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceDoc = `Jane Doe
PROFESSIONAL SUMMARY:
QA engineer.
TECHNICAL SKILL:
Java
Manual testing
PROFESSIONAL EXPERIENCE:
Acme Corp
Roles and Responsibilities:
Built regression suites.
`

const aliases = `{
  "schema": "rf_section_aliases_v1",
  "families": {
    "qa_automation": {
      "__MAJOR_HEADINGS__": ["PROFESSIONAL SUMMARY:", "TECHNICAL SKILL:", "PROFESSIONAL EXPERIENCE:"],
      "__SUBSECTIONS__": {"ROLES_AND_RESPONSIBILITIES": ["Roles and Responsibilities:"]},
      "SUMMARY": ["PROFESSIONAL SUMMARY:"],
      "CORE COMPETENCIES": ["TECHNICAL SKILL:"],
      "PROJECT EXPERIENCE": ["PROFESSIONAL EXPERIENCE:"]
    }
  }
}`

const proposals = `# Proposed Changes

1)
SECTION: SUMMARY
CHANGE: REPLACE_SECTION
TO:
- Senior QA engineer.
- Owns test strategy.

2)
SECTION: CORE COMPETENCIES
CHANGE: DELETE
FROM: Manual testing

3)
SECTION: PROJECT EXPERIENCE
CHANGE: ADD
SUBSECTION: ROLES_AND_RESPONSIBILITIES
TO: Designed contract tests.
`

type fixture struct {
	dir string
	cfg *config.Config
	p   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "pipeline", "proposed-changes.md"), proposals)
	write(t, filepath.Join(dir, "master", "resume.txt"), sourceDoc)
	write(t, filepath.Join(dir, "section-aliases.json"), aliases)

	cfg := config.Default()
	cfg.Family = "qa_automation"
	cfg.Pipeline.Dir = filepath.Join(dir, "pipeline")
	cfg.Document.Source = filepath.Join(dir, "master", "resume.txt")
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Aliases.Path = filepath.Join(dir, "section-aliases.json")
	cfg.Ledger.Path = filepath.Join(dir, "state", "builds.db")
	require.NoError(t, cfg.Validate())

	runs := 0
	p := New(cfg,
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }),
		WithRunIDs(func() string { runs++; return "run-" + string(rune('0'+runs)) }),
	)
	return &fixture{dir: dir, cfg: cfg, p: p}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	approvals, err := f.p.Approve("all", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, approvals.ApprovedChangeNumbers)

	set, err := f.p.Compile(false)
	require.NoError(t, err)
	require.Len(t, set.Patches, 3)
	assert.Equal(t, "PROFESSIONAL SUMMARY:", set.Patches[0].SectionName())

	res, err := f.p.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Len(t, res.Applied, 3)

	out, err := document.Load(f.cfg.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Jane Doe",
		"PROFESSIONAL SUMMARY:",
		"Senior QA engineer.",
		"Owns test strategy.",
		"TECHNICAL SKILL:",
		"Java",
		"PROFESSIONAL EXPERIENCE:",
		"Acme Corp",
		"Roles and Responsibilities:",
		"Designed contract tests.",
		"Built regression suites.",
	}, out.Texts())

	var meta Meta
	b, err := os.ReadFile(f.cfg.MetaPath())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &meta))
	assert.Equal(t, MetaSchemaVersion, meta.Schema)
	assert.Equal(t, "run-1", meta.RunID)
	assert.Equal(t, []int{1, 2, 3}, meta.ApprovedChangeNumbers)
	assert.Equal(t, out.Hash(), meta.OutputHash)

	build, err := f.p.GetBuild(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSucceeded, build.Status)
	assert.Len(t, build.Changes, 3)

	src, err := document.Load(f.cfg.Document.Source)
	require.NoError(t, err)
	assert.Equal(t, 10, src.Len())
}

func TestPipeline_RefusesOverwriteWithoutForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Approve("1", false)
	require.NoError(t, err)
	_, err = f.p.Approve("1,2", false)
	assert.ErrorIs(t, err, ErrExists)
	_, err = f.p.Approve("1,2", true)
	require.NoError(t, err)

	_, err = f.p.Compile(false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	assert.ErrorIs(t, err, ErrExists)

	_, err = f.p.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	_, err = f.p.Build(ctx, BuildOptions{})
	assert.ErrorIs(t, err, ErrExists)
	_, err = f.p.Build(ctx, BuildOptions{Force: true})
	require.NoError(t, err)
}

func TestPipeline_FailedBuildPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	write(t, f.cfg.Document.Source, sourceDoc+"Manual testing\n")
	_, err := f.p.Approve("1,2", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)

	_, err = f.p.Build(ctx, BuildOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrAmbiguity))

	_, statErr := os.Stat(f.cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.cfg.MetaPath())
	assert.True(t, os.IsNotExist(statErr))

	builds, err := f.p.Builds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, storage.StatusFailed, builds[0].Status)
	assert.Equal(t, string(fault.ClassAmbiguity), builds[0].ErrorClass)
}

func TestPipeline_MetaWriteFailureLeavesNoOutput(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Approve("3", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)

	// a directory squatting on the staging path makes the meta write fail
	require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.MetaPath()+".tmp", "busy"), 0755))

	_, err = f.p.Build(context.Background(), BuildOptions{})
	require.Error(t, err)
	_, statErr := os.Stat(f.cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.cfg.MetaPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipeline_EmptyApprovalRebuildsSourceVerbatim(t *testing.T) {
	f := newFixture(t)
	src := "\n" + sourceDoc + "\n"
	write(t, f.cfg.Document.Source, src)

	approvals, err := f.p.Approve("0", false)
	require.NoError(t, err)
	assert.Empty(t, approvals.ApprovedChangeNumbers)
	set, err := f.p.Compile(false)
	require.NoError(t, err)
	assert.Empty(t, set.Patches)

	res, err := f.p.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)

	out, err := os.ReadFile(f.cfg.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestPipeline_DryRunWritesNoOutput(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Approve("3", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)

	res, err := f.p.Build(context.Background(), BuildOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.Diff)
	_, statErr := os.Stat(f.cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipeline_ValidateCatchesReorderedPatches(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Approve("1,3", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)

	raw, err := os.ReadFile(f.cfg.PatchesPath())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	patches := doc["patches"].([]any)
	patches[0], patches[1] = patches[1], patches[0]
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfg.PatchesPath(), tampered, 0644))

	_, _, err = f.p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrConsistency))
}

func TestPipeline_ApproveUnknownNumber(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Approve("1,9", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSchema))
}

func TestPipeline_HistoryCommitsBuilds(t *testing.T) {
	f := newFixture(t)
	f.cfg.History.Enabled = true
	f.cfg.History.Author = "Release Bot"

	_, err := f.p.Approve("all", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)
	res, err := f.p.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Commit)

	entries, err := f.p.History(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "docpatch build run-1", entries[0].Message)
	assert.Equal(t, "Release Bot", entries[0].Author)
}

func TestPipeline_HeadingsAndFamilyInit(t *testing.T) {
	f := newFixture(t)

	hs, err := f.p.Headings(60)
	require.NoError(t, err)
	assert.Equal(t, "PROFESSIONAL SUMMARY:", hs[1].Text)

	changed, err := f.p.FamilyInit("data_eng", false)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.p.FamilyInit("data_eng", false)
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = f.p.FamilyInit("qa_automation", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPipeline_WatchRebuildsOnChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Approve("1", false)
	require.NoError(t, err)
	_, err = f.p.Compile(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		results []*BuildResult
	)
	done := make(chan error, 1)
	go func() {
		done <- f.p.Watch(ctx, 20*time.Millisecond, func(res *BuildResult, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results = append(results, res)
			}
		})
	}()

	require.Eventually(t, func() bool {
		write(t, f.cfg.Document.Source, sourceDoc+"Extra paragraph\n")
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, results[0].DryRun)
	_, statErr := os.Stat(f.cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}
