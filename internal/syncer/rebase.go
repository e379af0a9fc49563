package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
)

type replayResult struct {
	tip plumbing.Hash
	// applied are the new commits, oldest first.
	applied []plumbing.Hash
	// stopped is the original commit that did not apply cleanly.
	stopped   plumbing.Hash
	remaining []plumbing.Hash
	merge     treeMerge
}

// replay recreates commits on top of onto, oldest first, writing only
// objects. It stops at the first commit whose changes conflict. Commits
// whose changes are already present are dropped.
func (o *Orchestrator) replay(ctx context.Context, onto plumbing.Hash, commits []plumbing.Hash) (replayResult, error) {
	res := replayResult{tip: onto}
	for i, hash := range commits {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, err := o.repo.Commit(hash)
		if err != nil {
			return res, err
		}
		var parent plumbing.Hash
		if c.NumParents() > 0 {
			parent = c.ParentHashes[0]
		}
		labels := diff.Labels{Ours: shortHash(res.tip), Theirs: fmt.Sprintf("%s (%s)", shortHash(hash), subject(c.Message))}
		m, _, err := o.mergeCommits(parent, res.tip, hash, labels)
		if err != nil {
			return res, err
		}
		if len(m.conflicts) > 0 {
			res.stopped = hash
			res.remaining = commits[i+1:]
			res.merge = m
			slog.Info("rebase stopped", slog.String("commit", hash.String()), slog.Int("conflicts", len(m.conflicts)))
			return res, nil
		}
		tree, err := o.repo.BuildTree(m.merged)
		if err != nil {
			return res, err
		}
		tipTree, err := o.repo.CommitTree(res.tip)
		if err != nil {
			return res, err
		}
		if tree == tipTree {
			slog.Info("dropping already applied commit", slog.String("commit", hash.String()))
			continue
		}
		who, err := o.committer()
		if err != nil {
			return res, err
		}
		next, err := o.repo.WriteCommit(ctx, git.CommitRequest{
			Tree:      tree,
			Parents:   []plumbing.Hash{res.tip},
			Message:   c.Message,
			Author:    c.Author,
			Committer: who,
			Signer:    o.signer,
		})
		if err != nil {
			return res, err
		}
		slog.Debug("replayed", slog.String("from", hash.String()), slog.String("to", next.String()))
		res.tip = next
		res.applied = append(res.applied, next)
	}
	return res, nil
}

func (o *Orchestrator) rebase(ctx context.Context, rep Report, t target) (Report, error) {
	st := rep.State
	chain, err := o.repo.FirstParentChain(st.LocalTip, st.RemoteTip)
	if err != nil {
		return rep, err
	}
	commits := make([]plumbing.Hash, 0, len(chain))
	for _, c := range chain {
		commits = append(commits, c.Hash)
	}
	res, err := o.replay(ctx, st.RemoteTip, commits)
	if err != nil {
		return rep, err
	}
	localFiles, err := o.repo.FlattenCommit(st.LocalTip)
	if err != nil {
		return rep, err
	}
	rep.Rebased = res.applied
	if !res.stopped.IsZero() {
		return o.stopRebase(ctx, rep, localFiles, git.RebaseState{
			HeadName: t.localRef,
			Onto:     st.RemoteTip,
			OrigHead: st.LocalTip,
		}, res)
	}
	tipFiles, err := o.repo.FlattenCommit(res.tip)
	if err != nil {
		return rep, err
	}
	if err := o.advance(ctx, t.localRef, st.LocalTip, res.tip, localFiles, tipFiles); err != nil {
		return rep, err
	}
	rep.Outcome = Rebased
	return rep, nil
}

// stopRebase leaves the conflicting commit's result in the working copy and
// index, detaches HEAD at the replayed prefix and records the rebase state.
func (o *Orchestrator) stopRebase(ctx context.Context, rep Report, from []diff.File, state git.RebaseState, res replayResult) (Report, error) {
	if err := o.materialize(ctx, from, res.merge); err != nil {
		return rep, err
	}
	if err := o.repo.DetachHead(res.tip); err != nil {
		return rep, err
	}
	state.Stopped = res.stopped
	state.Todo = res.remaining
	if err := o.repo.WriteRebaseState(state); err != nil {
		return rep, err
	}
	if err := o.repo.SetOrigHead(state.OrigHead); err != nil {
		return rep, err
	}
	rep.Outcome = ConflictsPresent
	rep.StoppedAt = res.stopped
	rep.Remaining = res.remaining
	rep.Conflicts = res.merge.conflictList()
	rep.State.Conflicts = rep.Conflicts
	return rep, nil
}
