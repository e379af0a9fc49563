package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/syncer"
	"github.com/thiagokokada/gitp/internal/term"
)

// defaultRemote is the upstream remote of the current branch, falling
// back to origin.
func (a *app) defaultRemote() string {
	head, err := a.repo.Head()
	if err == nil && !head.Detached && head.Branch != "" {
		if remote, _, err := a.repo.Upstream(head.Branch.Short()); err == nil {
			return remote
		}
	}
	return git.DefaultRemote
}

func (a *app) cloneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <url|owner/name> [directory]",
		Short: "Copy a repository and check out its default branch",
		Long: `Clone a repository into a new directory. An owner/name shorthand is
cloned from GitHub over ssh. The directory defaults to the last component
of the URL.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := git.CloneURL(args[0])
			dir := git.CloneDir(url)
			if len(args) == 2 {
				dir = args[1]
			}
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(a.opts.dir, dir)
			}
			repo, err := git.Clone(cmd.Context(), url, dir, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Cloned %s into %s\n", url, dir)
			if head, err := repo.Head(); err == nil && !head.Hash.IsZero() {
				fmt.Fprintf(a.stdout, "On branch %s at %s\n", head.Name(), commitColor.Sprint(head.Hash.String()[:7]))
			}
			return nil
		},
	}
}

func (a *app) fetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download branches from a remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			remote := a.defaultRemote()
			if len(args) == 1 {
				remote = args[0]
			}
			res, err := a.transport.Fetch(cmd.Context(), remote, "")
			if err != nil {
				return err
			}
			if res.Updated {
				fmt.Fprintf(a.stdout, "Fetched %s\n", remote)
			} else {
				fmt.Fprintf(a.stdout, "%s is up to date\n", remote)
			}
			return nil
		},
	}
}

func (a *app) pullCommand() *cobra.Command {
	var rebase, merge bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch and integrate the upstream branch without pushing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			req := syncer.Request{Strategy: a.strategy(rebase, merge)}
			rep, err := a.sync.Pull(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.report(rep)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&rebase, "rebase", "r", false, "rebase local commits instead of merging")
	cmd.Flags().BoolVar(&merge, "no-rebase", false, "merge even when pull.rebase is set")
	cmd.MarkFlagsMutuallyExclusive("rebase", "no-rebase")
	return cmd
}

// strategy picks rebase or merge from the flags, defaulting to pull.rebase.
func (a *app) strategy(rebase, merge bool) syncer.Strategy {
	if rebase || (a.settings.PullRebase && !merge) {
		return syncer.StrategyRebase
	}
	return syncer.StrategyMerge
}

func (a *app) pushCommand() *cobra.Command {
	var req syncer.PushRequest
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send the current branch to its upstream",
		Long: `Push the current branch. The remote is only updated while it still
points at the last fetched commit; --force overrides that check. With
push.autoSetupRemote the upstream is recorded on the first push.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			head, err := a.repo.Head()
			if err != nil {
				return err
			}
			rep, err := a.sync.Push(cmd.Context(), req)
			if err != nil {
				return err
			}
			term.WritePushReport(a.stdout, head.Name(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&req.Force, "force", "f", false, "overwrite the remote branch")
	cmd.Flags().StringVar(&req.Remote, "remote", "", "remote to push to")
	return cmd
}

func (a *app) syncCommand() *cobra.Command {
	var (
		rebase, merge bool
		abort, resume bool
		noPush        bool
		req           syncer.Request
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, integrate and push the current branch",
		Long: `Bring the current branch and its upstream together: fetch, then
fast-forward, merge or rebase, then push local commits. Conflicts stop the
run with the conflicted files marked; fix them, run gitp resolve, then
gitp sync --continue, or give up with gitp sync --abort.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()
			var (
				rep syncer.Report
				err error
			)
			switch {
			case abort:
				rep, err = a.sync.Abort(ctx)
			case resume:
				rep, err = a.sync.Continue(ctx)
			default:
				req.Strategy = a.strategy(rebase, merge)
				req.Push = !noPush
				rep, err = a.sync.Sync(ctx, req)
			}
			if err != nil {
				// Integration happened even though the push failed.
				if errors.Is(err, git.ErrPushRejected) {
					a.report(rep)
				}
				return err
			}
			a.report(rep)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&rebase, "rebase", "r", false, "rebase local commits instead of merging")
	flags.BoolVar(&merge, "no-rebase", false, "merge even when pull.rebase is set")
	flags.BoolVar(&abort, "abort", false, "give up a conflicted merge or rebase")
	flags.BoolVar(&resume, "continue", false, "finish a merge or rebase after resolving conflicts")
	flags.BoolVar(&noPush, "no-push", false, "do not push afterwards")
	flags.BoolVarP(&req.Force, "force", "f", false, "force the push")
	flags.StringVar(&req.Remote, "remote", "", "remote to sync with")
	cmd.MarkFlagsMutuallyExclusive("rebase", "no-rebase")
	cmd.MarkFlagsMutuallyExclusive("abort", "continue")
	return cmd
}
