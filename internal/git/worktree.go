package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/thiagokokada/gitp/internal/diff"
)

// WriteWorktreeFile replaces a working copy file atomically.
func (r *Repository) WriteWorktreeFile(rel string, data []byte, mode filemode.FileMode) error {
	p := r.WorktreePath(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if info, err := os.Lstat(p); err == nil && info.IsDir() {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	switch mode {
	case filemode.Symlink:
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.Symlink(filepath.FromSlash(string(data)), p)
	case filemode.Submodule:
		return os.MkdirAll(p, 0o755)
	case filemode.Executable:
		return writeFileAtomic(p, data, 0o755)
	default:
		return writeFileAtomic(p, data, 0o644)
	}
}

// RemoveWorktreeFile deletes a working copy file and prunes the empty
// directories it leaves behind.
func (r *Repository) RemoveWorktreeFile(rel string) error {
	p := r.WorktreePath(rel)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for dir := filepath.Dir(p); dir != r.repo.path && len(dir) > len(r.repo.path); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// Materialize writes a blob-backed file to the working copy.
func (r *Repository) Materialize(f diff.File) error {
	data, err := r.ReadBlob(f.Hash)
	if err != nil {
		return err
	}
	if err := r.WriteWorktreeFile(f.Path, data, f.Mode); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

// UpdateWorktree moves the working copy from one file set to another,
// touching only paths that differ between the two.
func (r *Repository) UpdateWorktree(from, to []diff.File) error {
	prev := make(map[string]diff.File, len(from))
	for _, f := range from {
		prev[f.Path] = f
	}
	next := make(map[string]struct{}, len(to))
	for _, f := range to {
		next[f.Path] = struct{}{}
	}
	for _, f := range from {
		if _, ok := next[f.Path]; !ok {
			if err := r.RemoveWorktreeFile(f.Path); err != nil {
				return fmt.Errorf("remove %s: %w", f.Path, err)
			}
		}
	}
	written := 0
	for _, f := range to {
		if p, ok := prev[f.Path]; ok && p.Hash == f.Hash && p.Mode == f.Mode {
			continue
		}
		if err := r.Materialize(f); err != nil {
			return err
		}
		written++
	}
	slog.Debug("working copy updated", slog.Int("written", written))
	return nil
}

// Overwritten lists paths where switching from one file set to another
// would destroy uncommitted content: the working copy differs from the
// current set and the target changes the path.
func (r *Repository) Overwritten(ctx context.Context, from, to []diff.File) ([]string, error) {
	current, err := r.WorktreeSource(true).Files(ctx)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]plumbing.Hash, len(current))
	for _, f := range current {
		onDisk[f.Path] = f.Hash
	}
	prev := make(map[string]plumbing.Hash, len(from))
	for _, f := range from {
		prev[f.Path] = f.Hash
	}
	target := make(map[string]plumbing.Hash, len(to))
	for _, f := range to {
		target[f.Path] = f.Hash
	}
	var out []string
	for path, disk := range onDisk {
		if prev[path] == disk {
			continue
		}
		if t, ok := target[path]; ok && t == disk {
			continue
		}
		if prev[path].IsZero() {
			if !target[path].IsZero() {
				out = append(out, path)
			}
			continue
		}
		if target[path] != prev[path] {
			out = append(out, path)
		}
	}
	for path, h := range prev {
		if _, ok := onDisk[path]; ok {
			continue
		}
		if target[path] != h && !target[path].IsZero() {
			out = append(out, path)
		}
	}
	return out, nil
}
