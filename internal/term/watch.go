package term

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitp/internal/debounce"
)

const WatchDebounceDelay = 200 * time.Millisecond

// Watch calls refresh once at start and again after every burst of changes
// under root, until ctx is done. Directories created while watching are
// added as they appear; everything below gitDir other than gitDir itself
// and its refs is ignored.
func Watch(ctx context.Context, root, gitDir string, refresh func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("watcher close", slog.Any("error", err))
		}
	}()
	for _, dir := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
		if err := watcher.Add(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	if err := addTree(watcher, root, gitDir); err != nil {
		return err
	}

	pending := make(chan struct{}, 1)
	d := debounce.New(WatchDebounceDelay, func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	})
	defer d.Stop()

	refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pending:
			refresh()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event", slog.String("op", ev.Op.String()), slog.String("path", ev.Name))
			if ev.Has(fsnotify.Create) && !isUnder(ev.Name, gitDir) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, ev.Name, gitDir); err != nil {
						slog.Warn("watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
					}
				}
			}
			d.Trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func addTree(w *fsnotify.Watcher, root, gitDir string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path == gitDir || d.Name() == ".git" {
			return filepath.SkipDir
		}
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isUnder(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
