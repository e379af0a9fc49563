package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
)

var (
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrRootCommit      = errors.New("cannot amend the root commit")
	ErrEmptyMessage    = errors.New("empty commit message")
	ErrBranchExists    = errors.New("branch already exists")
	ErrNotConflicted   = errors.New("path has no conflict")
)

type CommitRequest struct {
	Message string
	// All stages every change in the working copy first.
	All bool
	// NewBranch creates and switches to a branch named after the message
	// before committing.
	NewBranch bool
}

type CommitReport struct {
	Commit plumbing.Hash
	Branch string
	// Merge is set when the commit concluded a conflicted merge.
	Merge   bool
	Staged  []string
	Files   int
	Added   int
	Removed int
}

// BranchName derives a branch name from a commit message:
// "feat: add login" becomes "feat/add-login".
func BranchName(message string) string {
	msg := subject(message)
	if prefix, name, ok := strings.Cut(msg, ":"); ok {
		dash := strings.NewReplacer(" ", "-", "/", "-")
		return dash.Replace(strings.TrimSpace(prefix)) + "/" + dash.Replace(strings.TrimSpace(name))
	}
	return strings.ReplaceAll(strings.TrimSpace(msg), " ", "-")
}

// Commit records the index on HEAD. When a merge is pending the commit gets
// MERGE_HEAD as its second parent and ends the merge.
func (o *Orchestrator) Commit(ctx context.Context, req CommitRequest) (CommitReport, error) {
	if strings.TrimSpace(req.Message) == "" {
		return CommitReport{}, ErrEmptyMessage
	}
	ms, err := o.repo.MergeState()
	if err != nil {
		return CommitReport{}, err
	}
	if req.NewBranch {
		if _, err := o.CreateBranch(BranchName(req.Message)); err != nil {
			return CommitReport{}, err
		}
	}
	head, err := o.repo.Head()
	if err != nil {
		return CommitReport{}, err
	}
	rep := CommitReport{Branch: head.Name(), Merge: ms != nil}

	tree, staged, err := o.indexTree(ctx, req.All)
	if err != nil {
		return rep, err
	}
	rep.Staged = staged
	headTree, err := o.repo.CommitTree(head.Hash)
	if head.Hash.IsZero() {
		headTree, err = o.repo.BuildTree(nil)
	}
	if err != nil {
		return rep, err
	}
	if ms == nil && tree == headTree {
		return rep, ErrNothingToCommit
	}

	var parents []plumbing.Hash
	if !head.Hash.IsZero() {
		parents = append(parents, head.Hash)
	}
	if ms != nil {
		parents = append(parents, ms.Head)
	}
	if rep.Commit, err = o.commitTree(ctx, tree, parents, req.Message); err != nil {
		return rep, err
	}
	if err := o.moveHead(head, rep.Commit); err != nil {
		return rep, err
	}
	if ms != nil {
		if err := o.repo.ClearMergeState(); err != nil {
			return rep, err
		}
	}
	slog.Info("committed", slog.String("commit", rep.Commit.String()), slog.String("branch", rep.Branch))
	rep.Files, rep.Added, rep.Removed, err = o.stats(ctx, head.Hash, rep.Commit)
	return rep, err
}

// indexTree optionally stages everything, then writes the index as a tree.
func (o *Orchestrator) indexTree(ctx context.Context, all bool) (plumbing.Hash, []string, error) {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	defer closeTx(tx)
	var staged []string
	if all {
		if staged, err = tx.AddPaths(ctx, []string{"."}); err != nil {
			return plumbing.ZeroHash, nil, err
		}
	}
	if cs := tx.Conflicts(); len(cs) > 0 {
		paths := make([]string, 0, len(cs))
		for _, c := range cs {
			paths = append(paths, c.Path)
		}
		return plumbing.ZeroHash, staged, fmt.Errorf("%w: %s", index.ErrUnresolvedConflicts, strings.Join(paths, ", "))
	}
	tree, err := tx.WriteTree()
	return tree, staged, err
}

// stats counts changed files and lines between two commits.
func (o *Orchestrator) stats(ctx context.Context, from, to plumbing.Hash) (files, added, removed int, err error) {
	for p, err := range o.engine.Patches(ctx, o.repo.CommitSource(from), o.repo.CommitSource(to)) {
		if err != nil {
			var ce *diff.ContentError
			if errors.As(err, &ce) {
				continue
			}
			return files, added, removed, err
		}
		a, r := p.Stats()
		files++
		added += a
		removed += r
	}
	return files, added, removed, nil
}

type AmendRequest struct {
	// Message replaces HEAD's message when set.
	Message string
	All     bool
}

// Amend replaces HEAD with a commit of the index tree on HEAD's parents.
func (o *Orchestrator) Amend(ctx context.Context, req AmendRequest) (CommitReport, error) {
	head, err := o.repo.Head()
	if err != nil {
		return CommitReport{}, err
	}
	if head.Hash.IsZero() {
		return CommitReport{}, git.ErrNoHead
	}
	current, err := o.repo.Commit(head.Hash)
	if err != nil {
		return CommitReport{}, err
	}
	if current.NumParents() == 0 {
		return CommitReport{}, ErrRootCommit
	}
	rep := CommitReport{Branch: head.Name()}
	tree, staged, err := o.indexTree(ctx, req.All)
	if err != nil {
		return rep, err
	}
	rep.Staged = staged
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = current.Message
	}
	who, err := o.committer()
	if err != nil {
		return rep, err
	}
	rep.Commit, err = o.repo.WriteCommit(ctx, git.CommitRequest{
		Tree:      tree,
		Parents:   current.ParentHashes,
		Message:   message,
		Author:    current.Author,
		Committer: who,
		Signer:    o.signer,
	})
	if err != nil {
		return rep, err
	}
	if err := o.moveHead(head, rep.Commit); err != nil {
		return rep, err
	}
	slog.Info("amended", slog.String("old", head.Hash.String()), slog.String("new", rep.Commit.String()))
	rep.Files, rep.Added, rep.Removed, err = o.stats(ctx, current.ParentHashes[0], rep.Commit)
	return rep, err
}

// CreateBranch creates a branch at HEAD and switches to it. The working
// copy and index are left alone.
func (o *Orchestrator) CreateBranch(name string) (plumbing.ReferenceName, error) {
	ref := plumbing.NewBranchReferenceName(name)
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("branch %q: %w", name, err)
	}
	if o.repo.RefExists(ref) {
		return "", fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	head, err := o.repo.Head()
	if err != nil {
		return "", err
	}
	if !head.Hash.IsZero() {
		if err := o.repo.CompareAndSwapRef(ref, plumbing.ZeroHash, head.Hash); err != nil {
			return "", err
		}
	}
	if err := o.repo.SetHeadBranch(ref); err != nil {
		return "", err
	}
	slog.Info("branch created", slog.String("branch", name), slog.String("at", head.Hash.String()))
	return ref, nil
}

// Resolve marks conflicted paths resolved with their working copy content.
// A path deleted from the working copy resolves to a deletion.
func (o *Orchestrator) Resolve(ctx context.Context, paths []string) ([]string, error) {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTx(tx)
	conflicted := make(map[string]struct{})
	for _, c := range tx.Conflicts() {
		conflicted[c.Path] = struct{}{}
	}
	if len(paths) == 0 {
		for p := range conflicted {
			paths = append(paths, p)
		}
	}
	for _, p := range paths {
		if _, ok := conflicted[p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotConflicted, p)
		}
	}
	resolved, err := tx.AddPaths(ctx, paths)
	if err != nil {
		return nil, err
	}
	slog.Info("resolved", slog.Int("paths", len(resolved)))
	return resolved, nil
}
