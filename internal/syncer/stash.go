package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
)

var (
	ErrNothingToStash   = errors.New("no local changes to save")
	ErrUntrackedPresent = errors.New("untracked working copy file would be overwritten")
)

type StashReport struct {
	Commit  plumbing.Hash
	Message string
	// Paths are the saved paths, tracked and untracked.
	Paths []string
}

// Stash saves the index, the tracked working copy files and untracked
// files as a standard stash commit, then resets to HEAD.
func (o *Orchestrator) Stash(ctx context.Context, message string) (StashReport, error) {
	head, err := o.repo.Head()
	if err != nil {
		return StashReport{}, err
	}
	if head.Hash.IsZero() {
		return StashReport{}, git.ErrNoHead
	}
	headCommit, err := o.repo.Commit(head.Hash)
	if err != nil {
		return StashReport{}, err
	}
	headFiles, err := o.repo.FlattenCommit(head.Hash)
	if err != nil {
		return StashReport{}, err
	}

	tx, err := o.index.Begin(ctx)
	if err != nil {
		return StashReport{}, err
	}
	defer closeTx(tx)
	if cs := tx.Conflicts(); len(cs) > 0 {
		return StashReport{}, index.ErrUnresolvedConflicts
	}
	indexFiles := tx.Files()
	onDisk, err := o.repo.WorktreeSource(true).Files(ctx)
	if err != nil {
		return StashReport{}, err
	}
	staged := byPath(indexFiles)
	var tracked, untracked []diff.File
	for _, f := range onDisk {
		e, ok := staged[f.Path]
		if !ok || e.Hash != f.Hash {
			if err := o.storeWorktreeBlob(f); err != nil {
				return StashReport{}, err
			}
		}
		if ok {
			tracked = append(tracked, f)
		} else {
			untracked = append(untracked, f)
		}
	}
	paths := changedPaths(headFiles, indexFiles)
	paths = append(paths, changedPaths(indexFiles, tracked)...)
	for _, f := range untracked {
		paths = append(paths, f.Path)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if len(paths) == 0 {
		return StashReport{}, ErrNothingToStash
	}

	branch := head.Name()
	desc := fmt.Sprintf("%s: %s %s", branch, shortHash(head.Hash), subject(headCommit.Message))
	rep := StashReport{Message: "WIP on " + desc, Paths: paths}
	if message != "" {
		rep.Message = fmt.Sprintf("On %s: %s", branch, message)
	}
	who, err := o.committer()
	if err != nil {
		return rep, err
	}
	write := func(files []diff.File, parents []plumbing.Hash, msg string) (plumbing.Hash, error) {
		tree, err := o.repo.BuildTree(files)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return o.repo.WriteCommit(ctx, git.CommitRequest{Tree: tree, Parents: parents, Message: msg, Author: who, Committer: who})
	}
	indexCommit, err := write(indexFiles, []plumbing.Hash{head.Hash}, "index on "+desc)
	if err != nil {
		return rep, err
	}
	parents := []plumbing.Hash{head.Hash, indexCommit}
	if len(untracked) > 0 {
		u, err := write(untracked, nil, "untracked files on "+desc)
		if err != nil {
			return rep, err
		}
		parents = append(parents, u)
	}
	if rep.Commit, err = write(tracked, parents, rep.Message); err != nil {
		return rep, err
	}
	if err := o.repo.PushStash(rep.Commit, rep.Message, who); err != nil {
		return rep, err
	}
	if err := o.repo.UpdateWorktree(onDisk, headFiles); err != nil {
		return rep, err
	}
	if err := tx.ReplaceAll(headFiles); err != nil {
		return rep, err
	}
	slog.Info("stashed", slog.String("commit", rep.Commit.String()), slog.Int("paths", len(paths)))
	return rep, nil
}

func (o *Orchestrator) storeWorktreeBlob(f diff.File) error {
	data, err := o.repo.ReadWorktreeFile(f.Path)
	if err != nil {
		return err
	}
	hash, err := o.repo.WriteBlob(data)
	if err != nil {
		return err
	}
	if hash != f.Hash {
		return fmt.Errorf("%s changed while stashing", f.Path)
	}
	return nil
}

// changedPaths lists paths whose entry differs between two file sets.
func changedPaths(a, b []diff.File) []string {
	am, bm := byPath(a), byPath(b)
	var out []string
	for p, f := range am {
		if g, ok := bm[p]; !ok || g != f {
			out = append(out, p)
		}
	}
	for p := range bm {
		if _, ok := am[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

type UnstashReport struct {
	Commit    plumbing.Hash
	Message   string
	Conflicts []Conflict
	// Dropped is false when conflicts kept the entry on the stack.
	Dropped bool
}

// Unstash re-applies stash entry n (0 is the newest) with a three-way merge
// against the commit it was made on. The entry is dropped only when it
// applies cleanly.
func (o *Orchestrator) Unstash(ctx context.Context, n int) (UnstashReport, error) {
	entries, err := o.repo.Stashes()
	if err != nil {
		return UnstashReport{}, err
	}
	if n < 0 || n >= len(entries) {
		return UnstashReport{}, fmt.Errorf("stash@{%d}: %w", n, git.ErrNoStash)
	}
	entry := entries[n]
	rep := UnstashReport{Commit: entry.Commit, Message: entry.Message}
	if err := o.requireClean(ctx); err != nil {
		return rep, err
	}
	stash, err := o.repo.Commit(entry.Commit)
	if err != nil {
		return rep, err
	}
	if stash.NumParents() < 2 {
		return rep, fmt.Errorf("stash@{%d}: not a stash commit", n)
	}
	head, err := o.repo.Head()
	if err != nil {
		return rep, err
	}
	m, ourFiles, err := o.mergeCommits(stash.ParentHashes[0], head.Hash, entry.Commit, diff.Labels{Ours: "Updated upstream", Theirs: "Stashed changes"})
	if err != nil {
		return rep, err
	}
	var untracked []diff.File
	if stash.NumParents() > 2 {
		if untracked, err = o.repo.FlattenCommit(stash.ParentHashes[2]); err != nil {
			return rep, err
		}
	}
	var present []string
	for _, f := range untracked {
		info, err := o.repo.StatWorktreeFile(f.Path)
		if err != nil {
			return rep, err
		}
		if info != nil {
			present = append(present, f.Path)
		}
	}
	if len(present) > 0 {
		return rep, fmt.Errorf("%w: %s", ErrUntrackedPresent, strings.Join(present, ", "))
	}

	if len(m.conflicts) > 0 {
		if err := o.materialize(ctx, ourFiles, m); err != nil {
			return rep, err
		}
		if err := o.restoreUntracked(untracked); err != nil {
			return rep, err
		}
		rep.Conflicts = m.conflictList()
		slog.Info("unstash stopped on conflicts", slog.Int("conflicts", len(rep.Conflicts)))
		return rep, nil
	}

	tx, err := o.index.Begin(ctx)
	if err != nil {
		return rep, err
	}
	defer closeTx(tx)
	if err := o.repo.UpdateWorktree(ourFiles, m.merged); err != nil {
		return rep, err
	}
	if err := o.restoreUntracked(untracked); err != nil {
		return rep, err
	}
	// Changes come back unstaged, except that files new in the stash stay
	// tracked.
	idx := slices.Clone(ourFiles)
	known := byPath(ourFiles)
	for _, f := range m.merged {
		if _, ok := known[f.Path]; !ok {
			idx = append(idx, f)
		}
	}
	slices.SortFunc(idx, func(a, b diff.File) int { return strings.Compare(a.Path, b.Path) })
	if err := tx.ReplaceAll(idx); err != nil {
		return rep, err
	}
	if err := o.repo.DropStash(n); err != nil {
		return rep, err
	}
	rep.Dropped = true
	slog.Info("unstashed", slog.String("commit", entry.Commit.String()))
	return rep, nil
}

func (o *Orchestrator) restoreUntracked(files []diff.File) error {
	for _, f := range files {
		if err := o.repo.Materialize(f); err != nil {
			return err
		}
	}
	return nil
}
