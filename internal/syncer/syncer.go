// Package syncer integrates local and remote history: fetch, fast-forward,
// merge or rebase, conflict materialization and push. It also hosts the
// porcelain operations that create commits or move HEAD, since they share
// the same guarded tree switching.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
)

var (
	ErrDirtyWorktree     = errors.New("working copy has uncommitted changes")
	ErrConflictsPresent  = errors.New("conflicts present")
	ErrNothingInProgress = errors.New("no merge or rebase in progress")
	ErrInProgress        = errors.New("a merge or rebase is in progress")
	ErrDetachedHead      = errors.New("HEAD is detached")
	ErrNotCheckedOut     = errors.New("branch is not checked out")
)

// maxAttempts bounds restarts after a concurrent ref update.
const maxAttempts = 3

// Transport is the network side of a sync.
type Transport interface {
	Fetch(ctx context.Context, remote, branch string) (git.FetchResult, error)
	Push(ctx context.Context, remote string, ref plumbing.ReferenceName, expected, next plumbing.Hash, force bool) error
}

type Strategy int

const (
	StrategyMerge Strategy = iota
	StrategyRebase
)

func (s Strategy) String() string {
	if s == StrategyRebase {
		return "rebase"
	}
	return "merge"
}

type Outcome int

const (
	UpToDate Outcome = iota
	FastForward
	Merged
	Rebased
	ConflictsPresent
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case FastForward:
		return "fast-forward"
	case Merged:
		return "merged"
	case Rebased:
		return "rebased"
	case ConflictsPresent:
		return "conflicts present"
	case Aborted:
		return "aborted"
	default:
		return "up to date"
	}
}

// State describes the local branch against its remote counterpart.
type State struct {
	LocalRef  plumbing.ReferenceName
	RemoteRef plumbing.ReferenceName
	LocalTip  plumbing.Hash
	RemoteTip plumbing.Hash
	MergeBase plumbing.Hash
	Ahead     int
	Behind    int
	Conflicts []Conflict
}

// Conflict records the sides of a conflicted path. A zero hash is an
// absent side.
type Conflict struct {
	Path   string
	Base   plumbing.Hash
	Ours   plumbing.Hash
	Theirs plumbing.Hash
}

type Request struct {
	Remote string
	// Branch is the local branch; empty means the current one.
	Branch string
	// RemoteBranch defaults to the branch's upstream.
	RemoteBranch string
	Strategy     Strategy
	Push         bool
	Force        bool
}

type Report struct {
	Outcome     Outcome
	State       State
	MergeCommit plumbing.Hash
	// Rebased lists the replayed commits in order.
	Rebased   []plumbing.Hash
	StoppedAt plumbing.Hash
	Remaining []plumbing.Hash
	Conflicts []Conflict
	Pushed    bool
}

// Orchestrator runs sync pipelines and commit-creating operations against
// one repository. Index writes go through the index manager.
type Orchestrator struct {
	repo      *git.Repository
	index     *index.Manager
	transport Transport
	signer    git.Signer
	settings  git.Settings
	engine    *diff.Engine
	now       func() time.Time
}

func New(repo *git.Repository, idx *index.Manager, transport Transport, signer git.Signer, settings git.Settings) *Orchestrator {
	opts := diff.DefaultOptions()
	opts.ContextLines = settings.ContextLines
	opts.RenameThreshold = settings.RenameThreshold
	return &Orchestrator{
		repo:      repo,
		index:     idx,
		transport: transport,
		signer:    signer,
		settings:  settings,
		engine:    diff.New(opts),
		now:       time.Now,
	}
}

func (o *Orchestrator) committer() (object.Signature, error) {
	return o.settings.Signature(o.now())
}

// requireClean fails when tracked files differ from HEAD in the index or
// the working copy, or when conflicts are pending.
func (o *Orchestrator) requireClean(ctx context.Context) error {
	st, err := o.repo.Status(ctx)
	if err != nil {
		return err
	}
	if len(st.Conflicted) > 0 {
		return fmt.Errorf("%w: %s", index.ErrUnresolvedConflicts, strings.Join(st.Conflicted, ", "))
	}
	if len(st.Staged) > 0 || len(st.Unstaged) > 0 {
		var paths []string
		for _, e := range slices.Concat(st.Staged, st.Unstaged) {
			if !slices.Contains(paths, e.Path) {
				paths = append(paths, e.Path)
			}
		}
		return fmt.Errorf("%w: %s", ErrDirtyWorktree, strings.Join(paths, ", "))
	}
	return nil
}

func (o *Orchestrator) requireNoPendingState() error {
	ms, err := o.repo.MergeState()
	if err != nil {
		return err
	}
	rs, err := o.repo.RebaseState()
	if err != nil {
		return err
	}
	if ms != nil || rs != nil {
		return fmt.Errorf("%w: resolve and run gitp sync --continue, or gitp sync --abort", ErrInProgress)
	}
	return nil
}

// switchTree moves the working copy and the index from one file set to
// another under a single index transaction.
func (o *Orchestrator) switchTree(ctx context.Context, from, to []diff.File) error {
	tx, err := o.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer closeTx(tx)
	if err := o.repo.UpdateWorktree(from, to); err != nil {
		return err
	}
	return tx.ReplaceAll(to)
}

func closeTx(tx *index.Tx) {
	if err := tx.Close(); err != nil {
		slog.Error("release index lock", slog.Any("error", err))
	}
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

func toConflicts(cs []index.Conflict) []Conflict {
	out := make([]Conflict, 0, len(cs))
	for _, c := range cs {
		out = append(out, Conflict{Path: c.Path, Base: c.Base, Ours: c.Ours, Theirs: c.Theirs})
	}
	return out
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return line
}
