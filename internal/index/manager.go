package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
)

var (
	ErrIndexLocked         = errors.New("index is locked by another process")
	ErrUnresolvedConflicts = errors.New("index has unresolved conflicts")
	ErrIndexInvariant      = errors.New("index entries are inconsistent")
	ErrPatchConflict       = diff.ErrPatchConflict
)

const (
	lockName      = "index.lock"
	retryInterval = 50 * time.Millisecond
)

// Manager is the only writer of the index file. Every mutation happens
// inside a Tx holding index.lock.
type Manager struct {
	repo    *git.Repository
	timeout time.Duration
}

// NewManager returns a manager that waits up to timeout for a held lock.
func NewManager(repo *git.Repository, timeout time.Duration) *Manager {
	return &Manager{repo: repo, timeout: timeout}
}

// Begin acquires index.lock and loads the current index. When another
// process holds the lock it waits for its removal until the timeout,
// then fails with ErrIndexLocked.
func (m *Manager) Begin(ctx context.Context) (*Tx, error) {
	lockPath := m.repo.GitPath(lockName)
	f, err := createLock(lockPath)
	if errors.Is(err, fs.ErrExist) {
		f, err = m.waitLock(ctx, lockPath)
	}
	if err != nil {
		return nil, err
	}
	slog.Debug("index lock acquired", slog.String("path", lockPath))
	tx := &Tx{m: m, lock: f, lockPath: lockPath}
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return nil, errors.Join(err, tx.Close())
	}
	tx.idx = idx
	return tx, nil
}

func createLock(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func (m *Manager) waitLock(ctx context.Context, lockPath string) (*os.File, error) {
	slog.Debug("index lock busy, waiting", slog.Duration("timeout", m.timeout))
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		slog.Debug("watching git dir failed, polling", slog.Any("error", err))
	}
	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	events, errs := watcher.Events, watcher.Errors
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%s: %w", lockPath, ErrIndexLocked)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name != lockPath || ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Debug("fsnotify error", slog.Any("error", err))
			continue
		case <-ticker.C:
		}
		f, err := createLock(lockPath)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}
}

// Conflicts lists paths with stage 1-3 entries.
func (m *Manager) Conflicts() ([]Conflict, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return nil, err
	}
	return conflicts(idx), nil
}

// Snapshot returns the stage-0 entries as they are on disk.
func (m *Manager) Snapshot() ([]diff.File, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return nil, err
	}
	return git.IndexFiles(idx), nil
}
