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
)

var ErrBranchNotFound = errors.New("branch not found")

type CheckoutRequest struct {
	Branch string
	// Remote is searched when the branch does not exist locally; empty
	// means the branch's upstream remote.
	Remote string
}

type CheckoutReport struct {
	Branch string
	Commit plumbing.Hash
	// Tracking is set when the branch was created from the remote.
	Tracking string
	Stash    *StashReport
	Already  bool
}

// Checkout switches to a branch. A branch missing locally is created from
// the remote after a fetch. Local changes that would be overwritten are
// stashed first; other staged changes are carried over.
func (o *Orchestrator) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutReport, error) {
	if err := o.requireNoPendingState(); err != nil {
		return CheckoutReport{}, err
	}
	rep := CheckoutReport{Branch: req.Branch}
	ref := plumbing.NewBranchReferenceName(req.Branch)
	head, err := o.repo.Head()
	if err != nil {
		return rep, err
	}
	if !head.Detached && head.Branch == ref {
		rep.Commit, rep.Already = head.Hash, true
		return rep, nil
	}
	tip, err := o.repo.ReadRef(ref)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if tip, err = o.trackRemote(ctx, req, &rep); err != nil {
			return rep, err
		}
	case err != nil:
		return rep, err
	}
	rep.Commit = tip

	headFiles, err := o.repo.FlattenCommit(head.Hash)
	if err != nil {
		return rep, err
	}
	targetFiles, err := o.repo.FlattenCommit(tip)
	if err != nil {
		return rep, err
	}
	blocked, err := o.repo.Overwritten(ctx, headFiles, targetFiles)
	if err != nil {
		return rep, err
	}
	if len(blocked) > 0 {
		slog.Info("stashing before checkout", slog.String("paths", strings.Join(blocked, ", ")))
		st, err := o.Stash(ctx, "auto stash before checkout to: "+req.Branch)
		if err != nil {
			return rep, err
		}
		rep.Stash = &st
	}

	tx, err := o.index.Begin(ctx)
	if err != nil {
		return rep, err
	}
	defer closeTx(tx)
	if len(tx.Conflicts()) > 0 {
		return rep, fmt.Errorf("%w: resolve conflicts first", ErrDirtyWorktree)
	}
	next := carryStaged(headFiles, tx.Files(), targetFiles)
	if err := o.repo.UpdateWorktree(headFiles, targetFiles); err != nil {
		return rep, err
	}
	if err := tx.ReplaceAll(next); err != nil {
		return rep, err
	}
	if err := o.repo.SetHeadBranch(ref); err != nil {
		return rep, err
	}
	slog.Info("checked out", slog.String("branch", req.Branch), slog.String("commit", tip.String()))
	return rep, nil
}

func (o *Orchestrator) trackRemote(ctx context.Context, req CheckoutRequest, rep *CheckoutReport) (plumbing.Hash, error) {
	remote := req.Remote
	if remote == "" {
		r, _, err := o.repo.Upstream(req.Branch)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrBranchNotFound, req.Branch)
		}
		remote = r
	}
	fetched, err := o.transport.Fetch(ctx, remote, req.Branch)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if fetched.Tip.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrBranchNotFound, req.Branch)
	}
	ref := plumbing.NewBranchReferenceName(req.Branch)
	if err := o.repo.CompareAndSwapRef(ref, plumbing.ZeroHash, fetched.Tip); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := o.repo.SetUpstream(req.Branch, remote, req.Branch); err != nil {
		return plumbing.ZeroHash, err
	}
	rep.Tracking = remote + "/" + req.Branch
	slog.Info("tracking remote branch", slog.String("branch", req.Branch), slog.String("remote", remote))
	return fetched.Tip, nil
}

// carryStaged returns the index for target, keeping staged changes to
// paths that target leaves as they are in head.
func carryStaged(head, staged, target []diff.File) []diff.File {
	h, s := byPath(head), byPath(staged)
	next := byPath(target)
	unchanged := func(path string) bool {
		hf, inHead := h[path]
		tf, inTarget := next[path]
		return sameFile(hf, tf, inHead, inTarget)
	}
	for path, f := range s {
		if hf, ok := h[path]; ok && hf == f {
			continue
		}
		if unchanged(path) {
			next[path] = f
		}
	}
	for path := range h {
		if _, ok := s[path]; !ok && unchanged(path) {
			delete(next, path)
		}
	}
	out := make([]diff.File, 0, len(next))
	for _, f := range next {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b diff.File) int { return strings.Compare(a.Path, b.Path) })
	return out
}
