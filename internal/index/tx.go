package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
)

// Conflict is a path with stage 1-3 entries. A zero hash marks a side that
// does not have the file.
type Conflict struct {
	Path   string
	Mode   filemode.FileMode
	Base   plumbing.Hash
	Ours   plumbing.Hash
	Theirs plumbing.Hash
}

// Tx is an exclusive index session. Each mutating call is persisted
// atomically before it returns; Close releases the lock.
type Tx struct {
	m        *Manager
	lock     *os.File
	lockPath string
	idx      *index.Index
	closed   bool
}

// Close releases index.lock. It is safe to call more than once.
func (tx *Tx) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	err := errors.Join(tx.lock.Close(), os.Remove(tx.lockPath))
	slog.Debug("index lock released", slog.String("path", tx.lockPath))
	return err
}

// Files returns the stage-0 entries seen by the transaction.
func (tx *Tx) Files() []diff.File {
	return git.IndexFiles(tx.idx)
}

func (tx *Tx) Conflicts() []Conflict {
	return conflicts(tx.idx)
}

// Apply stages the selected hunks of patch. The current stage-0 content of
// the path must still be patch.From, otherwise nothing changes and the
// result wraps ErrPatchConflict. A patch without hunks (mode change, pure
// rename, empty file) is staged whole.
func (tx *Tx) Apply(patch *diff.Patch, hunks []*diff.Hunk) error {
	if err := tx.usable(); err != nil {
		return err
	}
	selected := 0
	for _, h := range hunks {
		if h.Selected {
			selected++
		}
	}
	if selected == 0 && len(hunks) > 0 {
		return nil
	}
	path := patch.Path()
	basePath := patch.From.Path
	if basePath == "" {
		basePath = path
	}
	if tx.hasConflict(basePath) || tx.hasConflict(path) {
		return fmt.Errorf("%s: %w", path, ErrUnresolvedConflicts)
	}
	current := tx.entry(basePath)
	switch {
	case current == nil && patch.From.Exists():
		return fmt.Errorf("%s is no longer in the index: %w", basePath, ErrPatchConflict)
	case current != nil && current.Hash != patch.From.Hash:
		return fmt.Errorf("%s changed in the index: %w", basePath, ErrPatchConflict)
	}
	base, err := tx.m.repo.ReadBlob(patch.From.Hash)
	if err != nil {
		return err
	}
	result, err := diff.Apply(base, hunks)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	whole := selected == len(hunks)
	if patch.Kind == diff.Deleted && whole {
		tx.remove(basePath)
		return tx.persist()
	}
	mode := patch.To.Mode
	if !patch.To.Exists() || mode == filemode.Empty {
		mode = patch.From.Mode
	}
	if patch.Kind == diff.Renamed {
		tx.remove(basePath)
	}
	if err := tx.stage(path, result, mode, patch.To.Hash); err != nil {
		return err
	}
	return tx.persist()
}

// stage writes content as the stage-0 entry of path. When the content is
// what the working copy held (hash equals worktreeHash), the file's stat
// data is recorded for the stat cache.
func (tx *Tx) stage(path string, content []byte, mode filemode.FileMode, worktreeHash plumbing.Hash) error {
	var hash plumbing.Hash
	if mode == filemode.Submodule {
		hash = worktreeHash
	} else {
		var err error
		if hash, err = tx.m.repo.WriteBlob(content); err != nil {
			return err
		}
	}
	e := &index.Entry{Name: path, Mode: mode, Hash: hash}
	if hash == worktreeHash {
		tx.stamp(e, int64(len(content)))
	}
	tx.put(e)
	return nil
}

func (tx *Tx) stamp(e *index.Entry, size int64) {
	if e.Mode != filemode.Regular && e.Mode != filemode.Executable {
		return
	}
	info, err := tx.m.repo.StatWorktreeFile(e.Name)
	if err != nil || info == nil || info.Size() != size {
		return
	}
	e.Size = uint32(info.Size())
	e.ModifiedAt = info.ModTime()
}

// Unstage restores path to its HEAD entry, or drops it when HEAD does not
// have it.
func (tx *Tx) Unstage(path string) error {
	if err := tx.usable(); err != nil {
		return err
	}
	head, _, err := tx.m.repo.HeadFiles()
	if err != nil {
		return err
	}
	tx.removeAllStages(path)
	if i := slices.IndexFunc(head, func(f diff.File) bool { return f.Path == path }); i >= 0 {
		tx.put(&index.Entry{Name: path, Mode: head[i].Mode, Hash: head[i].Hash})
	}
	return tx.persist()
}

// ResetStage drops the stage entries (1-3) of path.
func (tx *Tx) ResetStage(path string, stage index.Stage) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if stage == git.StageNormal || stage > index.TheirMode {
		return fmt.Errorf("stage %d: %w", stage, ErrIndexInvariant)
	}
	tx.idx.Entries = slices.DeleteFunc(tx.idx.Entries, func(e *index.Entry) bool {
		return e.Name == path && e.Stage == stage
	})
	return tx.persist()
}

// Resolve records content as the stage-0 entry of path, ending a conflict.
func (tx *Tx) Resolve(path string, content []byte, mode filemode.FileMode) error {
	if err := tx.usable(); err != nil {
		return err
	}
	tx.removeAllStages(path)
	if err := tx.stage(path, content, mode, plumbing.ComputeHash(plumbing.BlobObject, content)); err != nil {
		return err
	}
	return tx.persist()
}

// SetConflict replaces path with stage 1-3 entries for the present sides.
func (tx *Tx) SetConflict(c Conflict) error {
	if err := tx.usable(); err != nil {
		return err
	}
	tx.removeAllStages(c.Path)
	for _, side := range []struct {
		stage index.Stage
		hash  plumbing.Hash
	}{
		{index.AncestorMode, c.Base},
		{index.OurMode, c.Ours},
		{index.TheirMode, c.Theirs},
	} {
		if side.hash.IsZero() {
			continue
		}
		tx.idx.Entries = append(tx.idx.Entries, &index.Entry{Name: c.Path, Mode: c.Mode, Hash: side.hash, Stage: side.stage})
	}
	return tx.persist()
}

// ReplaceAll makes files the whole index, all at stage 0. Stat data is
// recorded only for files whose working copy content matches.
func (tx *Tx) ReplaceAll(files []diff.File) error {
	if err := tx.usable(); err != nil {
		return err
	}
	entries := make([]*index.Entry, 0, len(files))
	for _, f := range files {
		e := &index.Entry{Name: f.Path, Mode: f.Mode, Hash: f.Hash}
		if f.Mode == filemode.Regular || f.Mode == filemode.Executable {
			if data, err := tx.m.repo.ReadWorktreeFile(f.Path); err == nil && plumbing.ComputeHash(plumbing.BlobObject, data) == f.Hash {
				tx.stamp(e, int64(len(data)))
			}
		}
		entries = append(entries, e)
	}
	tx.idx.Entries = entries
	return tx.persist()
}

// AddPaths stages whole files from the working copy. A path names a file
// or a directory prefix; "." and "" mean everything. Tracked files that
// are gone from disk are removed. It returns the staged paths.
func (tx *Tx) AddPaths(ctx context.Context, paths []string) ([]string, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	onDisk, err := tx.m.repo.WorktreeSource(true).Files(ctx)
	if err != nil {
		return nil, err
	}
	match := pathMatcher(paths)
	var changed []string
	present := make(map[string]struct{}, len(onDisk))
	for _, f := range onDisk {
		present[f.Path] = struct{}{}
		if !match(f.Path) {
			continue
		}
		if e := tx.entry(f.Path); e != nil && e.Hash == f.Hash && e.Mode == f.Mode && !tx.hasConflict(f.Path) {
			continue
		}
		var content []byte
		if f.Mode != filemode.Submodule {
			if content, err = tx.m.repo.ReadWorktreeFile(f.Path); err != nil {
				return nil, err
			}
		}
		tx.removeAllStages(f.Path)
		if err := tx.stage(f.Path, content, f.Mode, f.Hash); err != nil {
			return nil, err
		}
		changed = append(changed, f.Path)
	}
	for _, e := range slices.Clone(tx.idx.Entries) {
		if _, ok := present[e.Name]; ok || !match(e.Name) {
			continue
		}
		tx.removeAllStages(e.Name)
		if !slices.Contains(changed, e.Name) {
			changed = append(changed, e.Name)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	slices.Sort(changed)
	return changed, tx.persist()
}

func pathMatcher(paths []string) func(string) bool {
	return func(p string) bool {
		for _, want := range paths {
			want = strings.TrimSuffix(strings.TrimPrefix(want, "./"), "/")
			if want == "" || want == "." || p == want || strings.HasPrefix(p, want+"/") {
				return true
			}
		}
		return false
	}
}

// WriteTree stores the stage-0 entries as trees and returns the root id.
func (tx *Tx) WriteTree() (plumbing.Hash, error) {
	if err := tx.usable(); err != nil {
		return plumbing.ZeroHash, err
	}
	if len(conflicts(tx.idx)) > 0 {
		return plumbing.ZeroHash, ErrUnresolvedConflicts
	}
	return tx.m.repo.BuildTree(git.IndexFiles(tx.idx))
}

func (tx *Tx) usable() error {
	if tx.closed {
		return errors.New("index transaction is closed")
	}
	return nil
}

func (tx *Tx) entry(path string) *index.Entry {
	for _, e := range tx.idx.Entries {
		if e.Name == path && e.Stage == git.StageNormal {
			return e
		}
	}
	return nil
}

func (tx *Tx) hasConflict(path string) bool {
	return slices.ContainsFunc(tx.idx.Entries, func(e *index.Entry) bool {
		return e.Name == path && e.Stage != git.StageNormal
	})
}

func (tx *Tx) put(e *index.Entry) {
	if cur := tx.entry(e.Name); cur != nil {
		*cur = *e
		return
	}
	tx.idx.Entries = append(tx.idx.Entries, e)
}

func (tx *Tx) remove(path string) {
	tx.idx.Entries = slices.DeleteFunc(tx.idx.Entries, func(e *index.Entry) bool {
		return e.Name == path && e.Stage == git.StageNormal
	})
}

func (tx *Tx) removeAllStages(path string) {
	tx.idx.Entries = slices.DeleteFunc(tx.idx.Entries, func(e *index.Entry) bool {
		return e.Name == path
	})
}

// persist validates the entries and replaces the index file.
func (tx *Tx) persist() error {
	if err := validate(tx.idx.Entries); err != nil {
		return err
	}
	// The encoder sorts by name only; equal names keep their stage order
	// when the input is already sorted.
	slices.SortFunc(tx.idx.Entries, func(a, b *index.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Stage) - int(b.Stage)
	})
	tx.idx.Cache = nil
	tx.idx.ResolveUndo = nil
	tx.idx.EndOfIndexEntry = nil
	if tx.idx.Version == 0 {
		tx.idx.Version = 2
	}
	var buf bytes.Buffer
	if err := index.NewEncoder(&buf).Encode(tx.idx); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tx.m.repo.WriteGitFile("index", buf.Bytes()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	slog.Debug("index written", slog.Int("entries", len(tx.idx.Entries)))
	return nil
}

func validate(entries []*index.Entry) error {
	type key struct {
		name  string
		stage index.Stage
	}
	seen := make(map[key]struct{}, len(entries))
	normal := map[string]bool{}
	staged := map[string]bool{}
	for _, e := range entries {
		if e.Name == "" || strings.HasPrefix(e.Name, "/") || e.Stage > index.TheirMode {
			return fmt.Errorf("entry %q stage %d: %w", e.Name, e.Stage, ErrIndexInvariant)
		}
		for part := range strings.SplitSeq(e.Name, "/") {
			if part == "" || part == "." || part == ".." || part == ".git" {
				return fmt.Errorf("entry %q: %w", e.Name, ErrIndexInvariant)
			}
		}
		k := key{e.Name, e.Stage}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate entry %q stage %d: %w", e.Name, e.Stage, ErrIndexInvariant)
		}
		seen[k] = struct{}{}
		if e.Stage == git.StageNormal {
			normal[e.Name] = true
		} else {
			staged[e.Name] = true
		}
		if normal[e.Name] && staged[e.Name] {
			return fmt.Errorf("%q has both merged and conflict entries: %w", e.Name, ErrIndexInvariant)
		}
	}
	return nil
}

func conflicts(idx *index.Index) []Conflict {
	byPath := map[string]*Conflict{}
	var out []*Conflict
	for _, e := range idx.Entries {
		if e.Stage == git.StageNormal {
			continue
		}
		c, ok := byPath[e.Name]
		if !ok {
			c = &Conflict{Path: e.Name, Mode: e.Mode}
			byPath[e.Name] = c
			out = append(out, c)
		}
		switch e.Stage {
		case index.AncestorMode:
			c.Base = e.Hash
		case index.OurMode:
			c.Ours = e.Hash
			c.Mode = e.Mode
		case index.TheirMode:
			c.Theirs = e.Hash
		}
	}
	result := make([]Conflict, 0, len(out))
	for _, c := range out {
		result = append(result, *c)
	}
	slices.SortFunc(result, func(a, b Conflict) int { return strings.Compare(a.Path, b.Path) })
	return result
}
