package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/index"
)

// pathConflict is a conflicted path: its index stages and the content left
// in the working copy.
type pathConflict struct {
	index.Conflict
	content []byte
}

// treeMerge is the result of merging three file sets. merged holds every
// cleanly merged path; conflicted paths are absent from it.
type treeMerge struct {
	merged    []diff.File
	conflicts []pathConflict
}

func sameFile(a, b diff.File, okA, okB bool) bool {
	if okA != okB {
		return false
	}
	return !okA || (a.Hash == b.Hash && a.Mode == b.Mode)
}

func byPath(files []diff.File) map[string]diff.File {
	m := make(map[string]diff.File, len(files))
	for _, f := range files {
		m[f.Path] = f
	}
	return m
}

// mergeTrees merges ours and theirs against base path by path. Text files
// changed on both sides go through diff.Merge3; everything else that both
// sides changed differently is a conflict.
func (o *Orchestrator) mergeTrees(base, ours, theirs []diff.File, labels diff.Labels) (treeMerge, error) {
	b, l, r := byPath(base), byPath(ours), byPath(theirs)
	paths := make([]string, 0, len(l)+len(r))
	for _, m := range []map[string]diff.File{b, l, r} {
		for p := range m {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	var out treeMerge
	for _, path := range paths {
		bf, inBase := b[path]
		of, inOurs := l[path]
		tf, inTheirs := r[path]
		switch {
		case sameFile(of, tf, inOurs, inTheirs):
			if inOurs {
				out.merged = append(out.merged, of)
			}
		case sameFile(bf, of, inBase, inOurs):
			if inTheirs {
				out.merged = append(out.merged, tf)
			}
		case sameFile(bf, tf, inBase, inTheirs):
			if inOurs {
				out.merged = append(out.merged, of)
			}
		default:
			f, c, err := o.mergeFile(path, bf, of, tf, labels)
			if err != nil {
				return treeMerge{}, err
			}
			if c != nil {
				out.conflicts = append(out.conflicts, *c)
			} else {
				out.merged = append(out.merged, f)
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) mergeFile(path string, base, ours, theirs diff.File, labels diff.Labels) (diff.File, *pathConflict, error) {
	read := func(f diff.File) ([]byte, error) {
		data, err := o.repo.ReadBlob(f.Hash)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		return data, nil
	}
	baseData, err := read(base)
	if err != nil {
		return diff.File{}, nil, err
	}
	ourData, err := read(ours)
	if err != nil {
		return diff.File{}, nil, err
	}
	theirData, err := read(theirs)
	if err != nil {
		return diff.File{}, nil, err
	}
	mode := ours.Mode
	if !ours.Exists() || ours.Mode == base.Mode {
		mode = theirs.Mode
	}
	if mode == filemode.Empty {
		mode = filemode.Regular
	}
	conflict := &pathConflict{
		Conflict: index.Conflict{Path: path, Mode: mode, Base: base.Hash, Ours: ours.Hash, Theirs: theirs.Hash},
	}

	textual := ours.Exists() && theirs.Exists() &&
		!diff.IsBinary(baseData) && !diff.IsBinary(ourData) && !diff.IsBinary(theirData)
	if !textual {
		// Modify/delete or binary: keep whichever side still has content.
		conflict.content = ourData
		if !ours.Exists() {
			conflict.content = theirData
		}
		return diff.File{}, conflict, nil
	}
	res := diff.Merge3(baseData, ourData, theirData, labels)
	if !res.Clean() {
		conflict.content = res.Content
		return diff.File{}, conflict, nil
	}
	hash, err := o.repo.WriteBlob(res.Content)
	if err != nil {
		return diff.File{}, nil, fmt.Errorf("merge %s: %w", path, err)
	}
	return diff.File{Path: path, Mode: mode, Hash: hash}, nil, nil
}

// materialize moves the working copy and index from the from set to the
// merge result: clean paths at stage 0, conflicted paths as stages 1-3 with
// their marker content on disk.
func (o *Orchestrator) materialize(ctx context.Context, from []diff.File, m treeMerge) error {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer closeTx(tx)
	if err := o.repo.UpdateWorktree(from, m.merged); err != nil {
		return err
	}
	for _, c := range m.conflicts {
		if err := o.repo.WriteWorktreeFile(c.Path, c.content, c.Mode); err != nil {
			return fmt.Errorf("write %s: %w", c.Path, err)
		}
	}
	if err := tx.ReplaceAll(m.merged); err != nil {
		return err
	}
	for _, c := range m.conflicts {
		if err := tx.SetConflict(c.Conflict); err != nil {
			return err
		}
		slog.Info("conflict", slog.String("path", c.Path))
	}
	return nil
}

func (m treeMerge) conflictList() []Conflict {
	out := make([]Conflict, 0, len(m.conflicts))
	for _, c := range m.conflicts {
		out = append(out, Conflict{Path: c.Path, Base: c.Base, Ours: c.Ours, Theirs: c.Theirs})
	}
	return out
}

// pendingFiles is the current index as a file set, with conflicted paths
// given a zero hash so a tree switch rewrites them.
func pendingFiles(tx *index.Tx) []diff.File {
	files := tx.Files()
	for _, c := range tx.Conflicts() {
		files = append(files, diff.File{Path: c.Path, Mode: c.Mode})
	}
	return files
}

// mergeCommits merges two commits against their merge base.
func (o *Orchestrator) mergeCommits(base, ours, theirs plumbing.Hash, labels diff.Labels) (treeMerge, []diff.File, error) {
	baseFiles, err := o.repo.FlattenCommit(base)
	if err != nil {
		return treeMerge{}, nil, err
	}
	ourFiles, err := o.repo.FlattenCommit(ours)
	if err != nil {
		return treeMerge{}, nil, err
	}
	theirFiles, err := o.repo.FlattenCommit(theirs)
	if err != nil {
		return treeMerge{}, nil, err
	}
	m, err := o.mergeTrees(baseFiles, ourFiles, theirFiles, labels)
	return m, ourFiles, err
}
