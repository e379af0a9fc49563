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
)

// target is a resolved sync request.
type target struct {
	localRef     plumbing.ReferenceName
	checkedOut   bool
	remote       string
	remoteBranch string
}

func (o *Orchestrator) resolveTarget(req Request) (target, error) {
	head, err := o.repo.Head()
	if err != nil {
		return target{}, err
	}
	branch := req.Branch
	if branch == "" {
		if head.Detached {
			return target{}, ErrDetachedHead
		}
		branch = head.Branch.Short()
	}
	t := target{
		localRef:     plumbing.NewBranchReferenceName(branch),
		remote:       req.Remote,
		remoteBranch: req.RemoteBranch,
	}
	t.checkedOut = !head.Detached && head.Branch == t.localRef
	if t.remote == "" || t.remoteBranch == "" {
		remote, remoteBranch, err := o.repo.Upstream(branch)
		if err != nil {
			return target{}, err
		}
		if t.remote == "" {
			t.remote = remote
		}
		if t.remoteBranch == "" {
			t.remoteBranch = remoteBranch
		}
	}
	return t, nil
}

// Sync fetches the remote branch, integrates it into the local one and,
// when asked, pushes the result. Conflicts are reported through
// Report.Outcome, not as an error.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (Report, error) {
	if err := o.requireNoPendingState(); err != nil {
		return Report{}, err
	}
	t, err := o.resolveTarget(req)
	if err != nil {
		return Report{}, err
	}
	slog.Info("sync start",
		slog.String("branch", t.localRef.Short()),
		slog.String("remote", t.remote),
		slog.String("remote_branch", t.remoteBranch),
		slog.String("strategy", req.Strategy.String()),
	)
	fetched, err := o.transport.Fetch(ctx, t.remote, t.remoteBranch)
	if err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{Outcome: Aborted}, err
	}

	var rep Report
	for attempt := 1; ; attempt++ {
		rep, err = o.integrate(ctx, req, t, fetched)
		if !errors.Is(err, git.ErrRefConcurrentlyModified) || attempt == maxAttempts {
			break
		}
		slog.Warn("branch moved during sync, restarting", slog.String("ref", t.localRef.String()), slog.Int("attempt", attempt))
		if err := ctx.Err(); err != nil {
			return Report{Outcome: Aborted}, err
		}
	}
	if err != nil {
		return rep, err
	}
	slog.Info("sync integrated", slog.String("outcome", rep.Outcome.String()))

	if !req.Push || rep.Outcome == ConflictsPresent {
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	pushed, err := o.pushIfAhead(ctx, t, fetched.Tip, req.Force)
	rep.Pushed = pushed
	return rep, err
}

// Pull is Sync without the push phase.
func (o *Orchestrator) Pull(ctx context.Context, req Request) (Report, error) {
	req.Push = false
	return o.Sync(ctx, req)
}

func (o *Orchestrator) classify(t target, fetched git.FetchResult) (State, error) {
	st := State{LocalRef: t.localRef, RemoteRef: fetched.Ref, RemoteTip: fetched.Tip}
	if st.RemoteRef == "" {
		st.RemoteRef = git.RemoteTrackingRef(t.remote, t.remoteBranch)
	}
	local, err := o.repo.ReadRef(t.localRef)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return st, err
	}
	st.LocalTip = local
	if st.LocalTip.IsZero() || st.RemoteTip.IsZero() {
		return st, nil
	}
	if st.MergeBase, err = o.repo.MergeBase(st.LocalTip, st.RemoteTip); err != nil {
		return st, err
	}
	st.Ahead, st.Behind, err = o.repo.AheadBehind(st.LocalTip, st.RemoteTip)
	return st, err
}

func (o *Orchestrator) integrate(ctx context.Context, req Request, t target, fetched git.FetchResult) (Report, error) {
	st, err := o.classify(t, fetched)
	if err != nil {
		return Report{}, err
	}
	rep := Report{State: st}
	slog.Debug("sync classified",
		slog.String("local", st.LocalTip.String()),
		slog.String("remote", st.RemoteTip.String()),
		slog.Int("ahead", st.Ahead),
		slog.Int("behind", st.Behind),
	)
	switch {
	case st.RemoteTip.IsZero() || st.LocalTip == st.RemoteTip:
		rep.Outcome = UpToDate
	case st.LocalTip.IsZero() || st.MergeBase == st.LocalTip:
		if err := o.fastForward(ctx, t, st.LocalTip, st.RemoteTip); err != nil {
			return rep, err
		}
		rep.Outcome = FastForward
	case st.MergeBase == st.RemoteTip:
		rep.Outcome = UpToDate
	default:
		if !t.checkedOut {
			return rep, fmt.Errorf("%w: %s has diverged from %s", ErrNotCheckedOut, t.localRef.Short(), st.RemoteRef.Short())
		}
		if err := o.requireClean(ctx); err != nil {
			return rep, err
		}
		if req.Strategy == StrategyRebase {
			return o.rebase(ctx, rep, t)
		}
		return o.merge(ctx, rep, t)
	}
	return rep, nil
}

// fastForward moves the local branch to a descendant. For the checked-out
// branch the working copy and index follow; unstaged edits survive unless
// the target touches the same paths.
func (o *Orchestrator) fastForward(ctx context.Context, t target, from, to plumbing.Hash) error {
	if !t.checkedOut {
		return o.repo.CompareAndSwapRef(t.localRef, from, to)
	}
	st, err := o.repo.Status(ctx)
	if err != nil {
		return err
	}
	if st.HasStaged() || len(st.Conflicted) > 0 {
		return fmt.Errorf("%w: staged changes present", ErrDirtyWorktree)
	}
	fromFiles, err := o.repo.FlattenCommit(from)
	if err != nil {
		return err
	}
	toFiles, err := o.repo.FlattenCommit(to)
	if err != nil {
		return err
	}
	blocked, err := o.repo.Overwritten(ctx, fromFiles, toFiles)
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		return fmt.Errorf("%w: would overwrite %s", ErrDirtyWorktree, strings.Join(blocked, ", "))
	}
	return o.advance(ctx, t.localRef, from, to, fromFiles, toFiles)
}

// advance switches the working copy and index to the to files, then moves
// ref from the from commit to the to commit. If the ref moved meanwhile the
// switch is undone.
func (o *Orchestrator) advance(ctx context.Context, ref plumbing.ReferenceName, from, to plumbing.Hash, fromFiles, toFiles []diff.File) error {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer closeTx(tx)
	if err := o.repo.UpdateWorktree(fromFiles, toFiles); err != nil {
		return err
	}
	if err := tx.ReplaceAll(toFiles); err != nil {
		return err
	}
	if err := o.repo.CompareAndSwapRef(ref, from, to); err != nil {
		if rollback := errors.Join(o.repo.UpdateWorktree(toFiles, fromFiles), tx.ReplaceAll(fromFiles)); rollback != nil {
			slog.Error("roll back working copy", slog.Any("error", rollback))
		}
		return err
	}
	slog.Debug("branch advanced", slog.String("ref", ref.String()), slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}

func (o *Orchestrator) mergeMessage(t target) string {
	return fmt.Sprintf("Merge branch '%s' of %s", t.remoteBranch, t.remote)
}

func (o *Orchestrator) merge(ctx context.Context, rep Report, t target) (Report, error) {
	st := rep.State
	labels := diff.Labels{Ours: "HEAD", Theirs: st.RemoteRef.Short()}
	m, ourFiles, err := o.mergeCommits(st.MergeBase, st.LocalTip, st.RemoteTip, labels)
	if err != nil {
		return rep, err
	}
	message := o.mergeMessage(t)
	if len(m.conflicts) > 0 {
		if err := o.materialize(ctx, ourFiles, m); err != nil {
			return rep, err
		}
		if err := o.repo.SetOrigHead(st.LocalTip); err != nil {
			return rep, err
		}
		if err := o.repo.WriteMergeState(git.MergeState{Head: st.RemoteTip, Message: message}); err != nil {
			return rep, err
		}
		rep.Outcome = ConflictsPresent
		rep.Conflicts = m.conflictList()
		rep.State.Conflicts = rep.Conflicts
		slog.Info("merge stopped on conflicts", slog.Int("conflicts", len(rep.Conflicts)))
		return rep, nil
	}
	commit, err := o.commitFiles(ctx, m.merged, []plumbing.Hash{st.LocalTip, st.RemoteTip}, message)
	if err != nil {
		return rep, err
	}
	if err := o.advance(ctx, t.localRef, st.LocalTip, commit, ourFiles, m.merged); err != nil {
		return rep, err
	}
	rep.Outcome = Merged
	rep.MergeCommit = commit
	return rep, nil
}

// commitFiles writes a tree for files and a commit on top of parents,
// authored and committed now by the configured identity.
func (o *Orchestrator) commitFiles(ctx context.Context, files []diff.File, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	tree, err := o.repo.BuildTree(files)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return o.commitTree(ctx, tree, parents, message)
}

// pushIfAhead pushes the local branch when it is strictly ahead of the
// fetched remote tip. A moved remote is rejected, never retried.
func (o *Orchestrator) pushIfAhead(ctx context.Context, t target, remoteTip plumbing.Hash, force bool) (bool, error) {
	tip, err := o.repo.ReadRef(t.localRef)
	if err != nil {
		return false, err
	}
	if tip == remoteTip {
		return false, nil
	}
	if !remoteTip.IsZero() {
		ahead, err := o.repo.IsAncestor(remoteTip, tip)
		if err != nil {
			return false, err
		}
		if !ahead && !force {
			return false, nil
		}
	}
	if err := o.transport.Push(ctx, t.remote, plumbing.NewBranchReferenceName(t.remoteBranch), remoteTip, tip, force); err != nil {
		return false, err
	}
	slog.Info("pushed", slog.String("remote", t.remote), slog.String("branch", t.remoteBranch), slog.String("tip", tip.String()))
	return true, nil
}

type PushRequest struct {
	Remote string
	Branch string
	Force  bool
}

type PushReport struct {
	Remote       string
	RemoteBranch string
	Tip          plumbing.Hash
	UpToDate     bool
	// UpstreamSet is true when push.autoSetupRemote recorded the upstream.
	UpstreamSet bool
}

// Push sends the current branch to its upstream without integrating. The
// expected remote value is the last fetched remote-tracking tip.
func (o *Orchestrator) Push(ctx context.Context, req PushRequest) (PushReport, error) {
	t, err := o.resolveTarget(Request{Remote: req.Remote, Branch: req.Branch})
	if err != nil {
		return PushReport{}, err
	}
	rep := PushReport{Remote: t.remote, RemoteBranch: t.remoteBranch}
	if rep.Tip, err = o.repo.ReadRef(t.localRef); err != nil {
		return rep, fmt.Errorf("%w: %s", git.ErrNoHead, t.localRef.Short())
	}
	expected, err := o.repo.ReadRef(git.RemoteTrackingRef(t.remote, t.remoteBranch))
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return rep, err
	}
	if expected == rep.Tip {
		rep.UpToDate = true
		return rep, nil
	}
	if err := o.transport.Push(ctx, t.remote, plumbing.NewBranchReferenceName(t.remoteBranch), expected, rep.Tip, req.Force); err != nil {
		return rep, err
	}
	slog.Info("pushed", slog.String("remote", t.remote), slog.String("branch", t.remoteBranch), slog.String("tip", rep.Tip.String()))
	branch := t.localRef.Short()
	if o.settings.AutoSetupRemote && !o.repo.HasUpstreamConfig(branch) {
		if err := o.repo.SetUpstream(branch, t.remote, t.remoteBranch); err != nil {
			return rep, err
		}
		rep.UpstreamSet = true
	}
	return rep, nil
}
