package permission

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

// Watch reloads the policy file into e whenever it changes, until ctx is
// done. The parent directory is watched so editors that replace the file
// atomically are picked up. A file that fails to load is logged and the
// previous policy stays active.
func Watch(ctx context.Context, path string, e *Evaluator, logger *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving policy path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reload(ctx, abs, e, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "policy watcher error", zap.Error(err))
		}
	}
}

func reload(ctx context.Context, path string, e *Evaluator, logger *logging.Logger) {
	p, err := LoadPolicyFile(path)
	if err != nil {
		logger.Warn(ctx, "keeping previous permission policy", zap.String("path", path), zap.Error(err))
		return
	}
	if err := e.Update(p); err != nil {
		logger.Warn(ctx, "rejected permission policy", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info(ctx, "permission policy reloaded",
		zap.String("path", path),
		zap.Strings("exempt_locations", p.ExemptLocations),
	)
}
