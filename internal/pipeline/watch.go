package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// WatchHandler receives the outcome of every dry-run build triggered by a change.
type WatchHandler func(*BuildResult, error)

// Watch re-runs a dry-run build whenever one of the pipeline inputs changes, until ctx is
// cancelled. Bursts of events within the debounce window trigger a single build.
func (p *Pipeline) Watch(ctx context.Context, debounce time.Duration, handle WatchHandler) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	inputs := p.watchedFiles()
	for dir := range watchedDirs(inputs) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	p.logger.Info("watching pipeline inputs", "files", len(inputs))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !inputs[cleanAbs(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			p.logger.Debug("input changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", "error", err)
		case <-timerC:
			timer, timerC = nil, nil
			res, err := p.Build(ctx, BuildOptions{DryRun: true})
			if handle != nil {
				handle(res, err)
			}
		}
	}
}

func (p *Pipeline) watchedFiles() map[string]bool {
	files := map[string]bool{
		cleanAbs(p.cfg.ProposalsPath()): true,
		cleanAbs(p.cfg.ApprovalsPath()): true,
		cleanAbs(p.cfg.PatchesPath()):   true,
	}
	if p.cfg.Document.Source != "" {
		files[cleanAbs(p.cfg.Document.Source)] = true
	}
	if p.cfg.Aliases.Path != "" {
		files[cleanAbs(p.cfg.Aliases.Path)] = true
	}
	return files
}

func watchedDirs(files map[string]bool) map[string]bool {
	dirs := make(map[string]bool, len(files))
	for f := range files {
		dirs[filepath.Dir(f)] = true
	}
	return dirs
}

func cleanAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
