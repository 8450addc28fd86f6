package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"docpatch/internal/config"
	"docpatch/internal/diff"
	"docpatch/internal/logging"
	"docpatch/internal/pipeline"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig("docpatch.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	logger := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Service: "docpatch"})
	p := pipeline.New(cfg, pipeline.WithLogger(logger))

	// 2. Compile patches when none exist yet
	if _, err := os.Stat(cfg.PatchesPath()); os.IsNotExist(err) {
		fmt.Printf("🧩 Compiling approved proposals from %s...\n", cfg.ProposalsPath())
		if _, err := p.Compile(false); err != nil {
			log.Fatalf("Failed to compile patches: %v", err)
		}
	}

	// 3. Validate
	fmt.Println("🔍 Validating patches against approvals...")
	set, _, err := p.Validate()
	if err != nil {
		log.Fatalf("Validation failed: %v", err)
	}
	fmt.Printf("✅ %d patches validated\n", len(set.Patches))

	// 4. Build
	fmt.Printf("📝 Applying patches to %s...\n", cfg.Document.Source)
	res, err := p.Build(ctx, pipeline.BuildOptions{Force: cfg.Output.Overwrite})
	if err != nil {
		log.Fatalf("Failed to build document: %v", err)
	}
	added, removed := diff.Stats(res.Diff)
	fmt.Printf("📊 %d changes applied (+%d -%d paragraphs)\n", len(res.Applied), added, removed)

	fmt.Printf("✨ Process complete! Output written to %s\n", res.Output)
}
