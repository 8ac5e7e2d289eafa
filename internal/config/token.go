package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// TokenWatcher keeps an access token in sync with a file on disk, so that
// credentials can be rotated without a restart.
type TokenWatcher struct {
	path    string
	token   atomic.Value
	watcher *fsnotify.Watcher
}

// NewTokenWatcher reads the token from path and starts watching it.
// The file's directory is watched so that atomic renames are picked up.
func NewTokenWatcher(path string) (*TokenWatcher, error) {
	tw := &TokenWatcher{path: filepath.Clean(path)}
	if err := tw.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(tw.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch token file: %w", err)
	}
	tw.watcher = w
	return tw, nil
}

// Token returns the current token.
func (tw *TokenWatcher) Token() string {
	s, _ := tw.token.Load().(string)
	return s
}

// Run processes file events until ctx is done. Reload errors keep the previous token.
func (tw *TokenWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != tw.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := tw.reload(); err != nil {
				slog.Warn("token reload failed", "path", tw.path, "error", err)
				continue
			}
			slog.Info("token reloaded", "path", tw.path)
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("token watcher error", "error", err)
		}
	}
}

// Close stops watching the file.
func (tw *TokenWatcher) Close() error {
	return tw.watcher.Close()
}

func (tw *TokenWatcher) reload() error {
	b, err := os.ReadFile(tw.path)
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return fmt.Errorf("token file %s is empty", tw.path)
	}
	tw.token.Store(token)
	return nil
}
