package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
)

// Watcher polls a trigger directory for "<folder>.trigger" files and runs
// the pipeline for each, one at a time. External tooling drops trigger
// files to request an on-demand run.
type Watcher struct {
	svc      Service
	dir      string
	interval time.Duration
	logger   log.Logger
}

// NewWatcher creates a trigger-file watcher.
func NewWatcher(svc Service, dir string, interval time.Duration, logger log.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Watcher{svc: svc, dir: dir, interval: interval, logger: logger}
}

// Run polls until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep processes every pending trigger sequentially, removing each trigger
// file after its run regardless of outcome.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Log("msg", "scan trigger dir", "err", err)
		return
	}
	var triggers []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".trigger") {
			triggers = append(triggers, e.Name())
		}
	}
	sort.Strings(triggers)
	for _, name := range triggers {
		if ctx.Err() != nil {
			return
		}
		folder := strings.TrimSuffix(name, ".trigger")
		w.svc.ProcessLabel(ctx, folder)
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			w.logger.Log("msg", "remove trigger", "trigger", name, "err", err)
		}
	}
}
