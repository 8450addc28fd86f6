package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"docpatch/internal/config"
	"docpatch/internal/diff"
	"docpatch/internal/document"
	"docpatch/internal/fault"
	"docpatch/internal/logging"
	"docpatch/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "docpatch",
		Short: "Apply approved, section-addressed edits to a document",
	}
	configPath string
	jsonOutput bool
	force      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "docpatch.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	approveCmd.Flags().StringVar(&approveArg, "approve", "", "Comma list (e.g. 1,3), 'all', or '0'")
	_ = approveCmd.MarkFlagRequired("approve")
	for _, c := range []*cobra.Command{approveCmd, compileCmd, buildCmd, familyInitCmd} {
		c.Flags().BoolVar(&force, "force", false, "Overwrite existing output")
	}
	buildCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Apply in memory and show the diff without writing")
	headingsCmd.Flags().IntVar(&maxHeadingLen, "max-len", 60, "Longest paragraph listed as a heading")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	buildsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of builds to show")
	diffCmd.Flags().IntVar(&diffContext, "context", 2, "Unchanged paragraphs shown around each change (-1 for all)")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before rebuilding")

	familyCmd.AddCommand(familyInitCmd)
	rootCmd.AddCommand(approveCmd, compileCmd, validateCmd, buildCmd, headingsCmd, diffCmd, familyCmd, historyCmd, buildsCmd, watchCmd)
}

// initPipeline loads the config and wires the logger.
func initPipeline() (*pipeline.Pipeline, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return pipeline.New(cfg, pipeline.WithLogger(newLogger(cfg))), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		Service: "docpatch",
	})
}

var approveArg string

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record which proposals are approved",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		set, err := p.Approve(approveArg, force)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(set)
			return nil
		}
		fmt.Printf("✅ Approved %d change(s): %v\n", set.ApprovedCount, set.ApprovedChangeNumbers)
		fmt.Printf("💾 %s\n", p.Config().ApprovalsPath())
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile approved proposals into patches.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		set, err := p.Compile(force)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"patches": p.Config().PatchesPath(), "approved_change_numbers": set.ApprovedChangeNumbers})
			return nil
		}
		fmt.Printf("🧩 Compiled %d patch(es) for family %q\n", len(set.Patches), set.Family)
		fmt.Printf("💾 %s\n", p.Config().PatchesPath())
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check patches.json against approvals.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		set, _, err := p.Validate()
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"ok": true, "patches": len(set.Patches)})
			return nil
		}
		fmt.Println("OK")
		return nil
	},
}

var dryRun bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Apply the validated patches and write the output document",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, "🚀 Building document...")
		start := time.Now()
		res, err := p.Build(ctx, pipeline.BuildOptions{Force: force || p.Config().Output.Overwrite, DryRun: dryRun})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{
				"run_id":  res.RunID,
				"dry_run": res.DryRun,
				"output":  res.Output,
				"meta":    res.MetaPath,
				"commit":  res.Commit,
				"applied": res.Applied,
			})
			return nil
		}
		if res.DryRun {
			fmt.Print(diff.Render(res.Diff, diff.RenderOptions{Color: true, Context: 2}))
			fmt.Printf("🧪 Dry run %s: %d change(s) applied in memory\n", res.RunID, len(res.Applied))
			return nil
		}
		fmt.Printf("✅ Applied %d change(s) in %v\n", len(res.Applied), time.Since(start))
		fmt.Printf("💾 %s\n", res.Output)
		if res.Commit != "" {
			fmt.Printf("📜 Committed %s\n", res.Commit[:7])
		}
		return nil
	},
}

var maxHeadingLen int

var headingsCmd = &cobra.Command{
	Use:   "headings",
	Short: "List the short paragraphs of the source document",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		hs, err := p.Headings(maxHeadingLen)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(hs)
			return nil
		}
		for _, h := range hs {
			fmt.Printf("%4d  %s\n", h.Index, h.Text)
		}
		return nil
	},
}

var diffContext int

var diffCmd = &cobra.Command{
	Use:   "diff [before] [after]",
	Short: "Show paragraph changes between the source and the built document",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		before, after := p.Config().Document.Source, p.Config().OutputPath()
		if len(args) > 0 {
			before = args[0]
		}
		if len(args) > 1 {
			after = args[1]
		}
		a, err := document.Load(before)
		if err != nil {
			return err
		}
		b, err := document.Load(after)
		if err != nil {
			return err
		}
		lines := diff.Paragraphs(a, b)
		if jsonOutput {
			printJSON(lines)
			return nil
		}
		fmt.Print(diff.Render(lines, diff.RenderOptions{Color: true, Context: diffContext}))
		return nil
	},
}

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Manage document families in the alias file",
}

var familyInitCmd = &cobra.Command{
	Use:   "init <family>",
	Short: "Seed a default heading configuration for a family",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		changed, err := p.FamilyInit(args[0], force)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"family": args[0], "changed": changed, "aliases": p.Config().Aliases.Path})
			return nil
		}
		if changed {
			fmt.Printf("✅ Family %s written to %s\n", args[0], p.Config().Aliases.Path)
		} else {
			fmt.Printf("✅ Family %s already configured (use --force to reset)\n", args[0])
		}
		return nil
	},
}

var limit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show commits of built documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		entries, err := p.History(limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %-16s %s\n", e.Hash[:7], e.When.Format("2006-01-02 15:04"), e.Author, e.Message)
		}
		return nil
	},
}

var buildsCmd = &cobra.Command{
	Use:   "builds [run-id]",
	Short: "List recorded build attempts, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if len(args) == 1 {
			b, err := p.GetBuild(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(b)
				return nil
			}
			fmt.Printf("%s  %s  %s\n", b.RunID, b.Status, b.StartedAt.Format(time.RFC3339))
			for _, c := range b.Changes {
				fmt.Printf("  %3d  %-15s %-28s +%d -%d @%d\n", c.Num, c.Op, c.Section, c.Inserted, c.Removed, c.Index)
			}
			if b.Error != "" {
				fmt.Printf("  error: %s\n", b.Error)
			}
			return nil
		}
		builds, err := p.Builds(ctx, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(builds)
			return nil
		}
		for _, b := range builds {
			fmt.Printf("%s  %-9s %s  %s\n", b.RunID, b.Status, b.StartedAt.Format(time.RFC3339), b.ErrorClass)
		}
		return nil
	},
}

var debounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run a dry-run build whenever a pipeline input changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := initPipeline()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("👀 Watching pipeline inputs (Ctrl+C to stop)...")
		return p.Watch(ctx, debounce, func(res *pipeline.BuildResult, err error) {
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				return
			}
			added, removed := diff.Stats(res.Diff)
			fmt.Printf("🔁 %s: %d change(s) apply cleanly (+%d -%d paragraphs)\n", res.RunID, len(res.Applied), added, removed)
		})
	},
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// fail reports err and exits with status 2.
func fail(err error) {
	fe, isFault := fault.As(err)
	if jsonOutput {
		out := map[string]any{"error": err.Error()}
		if isFault {
			out["class"] = fe.Class
			out["details"] = fe.Details
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		os.Exit(2)
	}
	if isFault {
		fmt.Fprintf(os.Stderr, "❌ %s: %s\n", fe.Class, err)
		for _, k := range sortedKeys(fe.Details) {
			fmt.Fprintf(os.Stderr, "   %s: %v\n", k, fe.Details[k])
		}
	} else {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	os.Exit(2)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
