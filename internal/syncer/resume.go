package syncer

import (
	"context"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/git"
)

// Continue finishes a merge or rebase once every conflict is resolved. With
// conflicts left it reports ConflictsPresent and changes nothing.
func (o *Orchestrator) Continue(ctx context.Context) (Report, error) {
	ms, err := o.repo.MergeState()
	if err != nil {
		return Report{}, err
	}
	if ms != nil {
		return o.continueMerge(ctx, ms)
	}
	rs, err := o.repo.RebaseState()
	if err != nil {
		return Report{}, err
	}
	if rs != nil {
		return o.continueRebase(ctx, rs)
	}
	return Report{}, ErrNothingInProgress
}

// resolvedTree writes the index as a tree, or returns the pending conflicts.
func (o *Orchestrator) resolvedTree(ctx context.Context) (plumbing.Hash, []Conflict, error) {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	defer closeTx(tx)
	if cs := tx.Conflicts(); len(cs) > 0 {
		return plumbing.ZeroHash, toConflicts(cs), nil
	}
	tree, err := tx.WriteTree()
	return tree, nil, err
}

func (o *Orchestrator) continueMerge(ctx context.Context, ms *git.MergeState) (Report, error) {
	tree, conflicts, err := o.resolvedTree(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(conflicts) > 0 {
		return Report{Outcome: ConflictsPresent, Conflicts: conflicts}, nil
	}
	head, err := o.repo.Head()
	if err != nil {
		return Report{}, err
	}
	commit, err := o.commitTree(ctx, tree, []plumbing.Hash{head.Hash, ms.Head}, ms.Message)
	if err != nil {
		return Report{}, err
	}
	if err := o.moveHead(head, commit); err != nil {
		return Report{}, err
	}
	if err := o.repo.ClearMergeState(); err != nil {
		return Report{}, err
	}
	slog.Info("merge concluded", slog.String("commit", commit.String()))
	return Report{
		Outcome:     Merged,
		MergeCommit: commit,
		State:       State{LocalRef: head.Branch, LocalTip: head.Hash, RemoteTip: ms.Head},
	}, nil
}

func (o *Orchestrator) continueRebase(ctx context.Context, rs *git.RebaseState) (Report, error) {
	rep := Report{State: State{LocalRef: rs.HeadName, LocalTip: rs.OrigHead, RemoteTip: rs.Onto}}
	tree, conflicts, err := o.resolvedTree(ctx)
	if err != nil {
		return rep, err
	}
	if len(conflicts) > 0 {
		rep.Outcome = ConflictsPresent
		rep.StoppedAt = rs.Stopped
		rep.Remaining = rs.Todo
		rep.Conflicts = conflicts
		return rep, nil
	}
	head, err := o.repo.Head()
	if err != nil {
		return rep, err
	}
	tip := head.Hash
	tipTree, err := o.repo.CommitTree(tip)
	if err != nil {
		return rep, err
	}
	if tree != tipTree {
		stopped, err := o.repo.Commit(rs.Stopped)
		if err != nil {
			return rep, err
		}
		who, err := o.committer()
		if err != nil {
			return rep, err
		}
		tip, err = o.repo.WriteCommit(ctx, git.CommitRequest{
			Tree:      tree,
			Parents:   []plumbing.Hash{head.Hash},
			Message:   stopped.Message,
			Author:    stopped.Author,
			Committer: who,
			Signer:    o.signer,
		})
		if err != nil {
			return rep, err
		}
		if err := o.repo.DetachHead(tip); err != nil {
			return rep, err
		}
		rep.Rebased = append(rep.Rebased, tip)
	}
	current, err := o.repo.FlattenCommit(tip)
	if err != nil {
		return rep, err
	}

	res, err := o.replay(ctx, tip, rs.Todo)
	if err != nil {
		return rep, err
	}
	rep.Rebased = append(rep.Rebased, res.applied...)
	if !res.stopped.IsZero() {
		return o.stopRebase(ctx, rep, current, git.RebaseState{
			HeadName: rs.HeadName,
			Onto:     rs.Onto,
			OrigHead: rs.OrigHead,
		}, res)
	}
	final, err := o.repo.FlattenCommit(res.tip)
	if err != nil {
		return rep, err
	}
	if err := o.advance(ctx, rs.HeadName, rs.OrigHead, res.tip, current, final); err != nil {
		return rep, err
	}
	if err := o.repo.SetHeadBranch(rs.HeadName); err != nil {
		return rep, err
	}
	if err := o.repo.ClearRebaseState(); err != nil {
		return rep, err
	}
	slog.Info("rebase concluded", slog.String("branch", rs.HeadName.Short()), slog.String("tip", res.tip.String()))
	rep.Outcome = Rebased
	return rep, nil
}

// Abort drops an in-progress merge or rebase and restores the tree of the
// commit the operation started from.
func (o *Orchestrator) Abort(ctx context.Context) (Report, error) {
	ms, err := o.repo.MergeState()
	if err != nil {
		return Report{}, err
	}
	rs, err := o.repo.RebaseState()
	if err != nil {
		return Report{}, err
	}
	var restore plumbing.Hash
	switch {
	case ms != nil:
		head, err := o.repo.Head()
		if err != nil {
			return Report{}, err
		}
		restore = head.Hash
	case rs != nil:
		restore = rs.OrigHead
	default:
		return Report{}, ErrNothingInProgress
	}
	files, err := o.repo.FlattenCommit(restore)
	if err != nil {
		return Report{}, err
	}
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return Report{}, err
	}
	defer closeTx(tx)
	if err := o.repo.UpdateWorktree(pendingFiles(tx), files); err != nil {
		return Report{}, err
	}
	if err := tx.ReplaceAll(files); err != nil {
		return Report{}, err
	}
	if ms != nil {
		if err := o.repo.ClearMergeState(); err != nil {
			return Report{}, err
		}
	}
	if rs != nil {
		if err := o.repo.SetHeadBranch(rs.HeadName); err != nil {
			return Report{}, err
		}
		if err := o.repo.ClearRebaseState(); err != nil {
			return Report{}, err
		}
	}
	slog.Info("aborted", slog.String("restored", restore.String()))
	return Report{Outcome: Aborted, State: State{LocalTip: restore}}, nil
}

// commitTree writes a commit for an existing tree.
func (o *Orchestrator) commitTree(ctx context.Context, tree plumbing.Hash, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	who, err := o.committer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return o.repo.WriteCommit(ctx, git.CommitRequest{
		Tree:      tree,
		Parents:   parents,
		Message:   message,
		Author:    who,
		Committer: who,
		Signer:    o.signer,
	})
}

// moveHead points HEAD's branch, or a detached HEAD, at commit.
func (o *Orchestrator) moveHead(head git.Head, commit plumbing.Hash) error {
	if head.Detached {
		return o.repo.DetachHead(commit)
	}
	return o.repo.CompareAndSwapRef(head.Branch, head.Hash, commit)
}
