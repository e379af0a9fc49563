package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
	"github.com/thiagokokada/gitp/internal/selection"
	"github.com/thiagokokada/gitp/internal/syncer"
	"github.com/thiagokokada/gitp/internal/term"
)

const clearScreen = "\x1b[H\x1b[2J"

func (a *app) statusCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the branch and the state of the working copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.status(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redraw whenever the repository changes")
	return cmd
}

func (a *app) status(ctx context.Context, watch bool) error {
	if err := a.open(); err != nil {
		return err
	}
	if !watch {
		return a.writeStatus(ctx)
	}
	return term.Watch(ctx, a.repo.Path(), a.repo.GitDir(), func() {
		if !a.renderer.Plain() {
			fmt.Fprint(a.stdout, clearScreen)
		}
		if err := a.writeStatus(ctx); err != nil && ctx.Err() == nil {
			slog.Error("status", slog.Any("error", err))
		}
	})
}

func (a *app) writeStatus(ctx context.Context) error {
	st, err := a.repo.Status(ctx)
	if err != nil {
		return err
	}
	term.WriteStatus(a.stdout, st, a.tracking(st.Head))
	return nil
}

// tracking relates the current branch to its upstream. It returns nil
// when there is nothing to compare against.
func (a *app) tracking(head git.Head) *term.Tracking {
	if head.Detached || head.Branch == "" {
		return nil
	}
	branch := head.Branch.Short()
	remote, remoteBranch, err := a.repo.Upstream(branch)
	if err != nil {
		return nil
	}
	t := &term.Tracking{Upstream: remote + "/" + remoteBranch}
	tip, err := a.repo.ReadRef(git.RemoteTrackingRef(remote, remoteBranch))
	if err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) || !a.repo.HasUpstreamConfig(branch) {
			return nil
		}
		t.Gone = true
		return t
	}
	if head.Hash.IsZero() {
		return nil
	}
	t.Ahead, t.Behind, err = a.repo.AheadBehind(head.Hash, tip)
	if err != nil {
		slog.Warn("ahead/behind", slog.String("branch", branch), slog.Any("error", err))
		return nil
	}
	return t
}

// engine builds a diff engine for the repository settings restricted to
// paths.
func (a *app) engine(paths []string) *diff.Engine {
	opts := diff.DefaultOptions()
	opts.ContextLines = a.settings.ContextLines
	opts.RenameThreshold = a.settings.RenameThreshold
	opts.Paths = paths
	return diff.New(opts)
}

func (a *app) diffCommand() *cobra.Command {
	var staged bool
	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show unstaged changes, or staged ones with --staged",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			var from, to diff.Source = a.repo.IndexSource(), a.repo.WorktreeSource(false)
			if staged {
				head, err := a.repo.Head()
				if err != nil {
					return err
				}
				from, to = a.repo.CommitSource(head.Hash), a.repo.IndexSource()
			}
			for patch, err := range a.engine(args).Patches(cmd.Context(), from, to) {
				if err != nil {
					var contentErr *diff.ContentError
					if errors.As(err, &contentErr) {
						slog.Warn("skipping unreadable file", slog.String("path", contentErr.Path), slog.Any("error", contentErr.Err))
						continue
					}
					return err
				}
				fmt.Fprint(a.stdout, a.renderer.Patch(patch))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&staged, "staged", false, "compare HEAD with the index")
	return cmd
}

func (a *app) addCommand() *cobra.Command {
	var patch bool
	cmd := &cobra.Command{
		Use:   "add [-p] <paths...>",
		Short: "Stage whole files, or pick hunks with -p",
		Long: `Stage the given files, including deletions. Use "." for everything.
With -p every changed hunk is shown and can be staged, skipped or split.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if patch {
				return a.addInteractive(cmd.Context(), args)
			}
			if len(args) == 0 {
				return errors.New("nothing specified, nothing added (use gitp add .)")
			}
			return a.addPaths(cmd.Context(), args)
		},
	}
	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "choose hunks interactively")
	return cmd
}

func (a *app) addPaths(ctx context.Context, paths []string) (err error) {
	tx, err := a.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, tx.Close())
	}()
	added, err := tx.AddPaths(ctx, paths)
	if err != nil {
		return err
	}
	term.WriteAdded(a.stdout, added)
	return nil
}

func (a *app) addInteractive(ctx context.Context, paths []string) error {
	patches := a.engine(paths).Patches(ctx, a.repo.IndexSource(), a.repo.WorktreeSource(true))
	rep, err := selection.New(a.prompter, "Stage").Run(ctx, patches, a.stageHunks)
	term.WriteSelection(a.stdout, "Staged", rep)
	if rep.Outcome == selection.Aborted {
		a.outcome = syncer.Aborted
	}
	return err
}

// stageHunks applies one file's selection to the index under its own
// lock, so that each file is staged atomically.
func (a *app) stageHunks(ctx context.Context, patch *diff.Patch, hunks []*diff.Hunk) (err error) {
	tx, err := a.index.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, tx.Close())
	}()
	return tx.Apply(patch, hunks)
}

func (a *app) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [paths...]",
		Short: "Mark conflicted files as resolved",
		Long:  "Stage the working copy content of conflicted files. Without paths every conflicted file is resolved.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			resolved, err := a.sync.Resolve(cmd.Context(), args)
			if err != nil {
				return err
			}
			term.WriteAdded(a.stdout, resolved)
			left, err := a.index.Conflicts()
			if err != nil {
				return err
			}
			if len(left) > 0 {
				fmt.Fprintf(a.stdout, "%d conflicted files left\n", len(left))
				return nil
			}
			if ms, _ := a.repo.MergeState(); ms != nil {
				fmt.Fprintln(a.stdout, "All conflicts resolved; run gitp sync --continue or gitp commit")
			} else if rs, _ := a.repo.RebaseState(); rs != nil {
				fmt.Fprintln(a.stdout, "All conflicts resolved; run gitp sync --continue")
			}
			return nil
		},
	}
}

// discardHunks undoes the selected hunks of one file in the working copy.
// A fully selected file is restored from the index.
func (a *app) discardHunks(_ context.Context, patch *diff.Patch, hunks []*diff.Hunk) error {
	var reversed []*diff.Hunk
	for _, h := range hunks {
		if h.Selected {
			reversed = append(reversed, diff.Reverse(h))
		}
	}
	path := patch.Path()
	if len(reversed) == len(hunks) {
		if !patch.From.Exists() {
			return a.repo.RemoveWorktreeFile(path)
		}
		if patch.To.Exists() && patch.To.Path != patch.From.Path {
			if err := a.repo.RemoveWorktreeFile(patch.To.Path); err != nil {
				return err
			}
		}
		return a.repo.Materialize(patch.From)
	}
	current, err := a.repo.ReadWorktreeFile(path)
	if err != nil {
		return err
	}
	result, err := diff.Apply(current, reversed)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return a.repo.WriteWorktreeFile(path, result, patch.To.Mode)
}

func (a *app) discardInteractive(ctx context.Context, paths []string) error {
	conflicts, err := a.index.Conflicts()
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("resolve %s first: %w", conflicts[0].Path, index.ErrUnresolvedConflicts)
	}
	patches := a.engine(paths).Patches(ctx, a.repo.IndexSource(), a.repo.WorktreeSource(false))
	rep, err := selection.New(a.prompter, "Discard").Run(ctx, patches, a.discardHunks)
	term.WriteSelection(a.stdout, "Discarded", rep)
	if rep.Outcome == selection.Aborted {
		a.outcome = syncer.Aborted
	}
	return err
}
