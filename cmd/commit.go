package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitp/internal/syncer"
	"github.com/thiagokokada/gitp/internal/term"
)

func (a *app) commitCommand() *cobra.Command {
	var req syncer.CommitRequest
	cmd := &cobra.Command{
		Use:   "commit [-a] [-b] <message...>",
		Short: "Record the staged changes",
		Long: `Record the index as a new commit on the current branch. With -a every
change in the working copy is staged first. With -b the commit goes to
a new branch named after the message ("feat: add x" becomes feat/add-x).
While a merge is in progress the commit concludes it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			req.Message = strings.Join(args, " ")
			rep, err := a.sync.Commit(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.writeCommit(rep, req.Message)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&req.All, "all", "a", false, "stage every change first")
	cmd.Flags().BoolVarP(&req.NewBranch, "branch", "b", false, "commit to a new branch named after the message")
	return cmd
}

func (a *app) amendCommand() *cobra.Command {
	var req syncer.AmendRequest
	cmd := &cobra.Command{
		Use:   "amend [-a] [message...]",
		Short: "Replace the last commit with the staged changes",
		Long:  "Rewrite HEAD with the current index. The message is kept unless a new one is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			req.Message = strings.Join(args, " ")
			rep, err := a.sync.Amend(cmd.Context(), req)
			if err != nil {
				return err
			}
			c, err := a.repo.Commit(rep.Commit)
			if err != nil {
				return err
			}
			a.writeCommit(rep, c.Message)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&req.All, "all", "a", false, "stage every change first")
	return cmd
}

func (a *app) writeCommit(rep syncer.CommitReport, message string) {
	subject, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	fmt.Fprintf(a.stdout, "[%s %s] %s\n", rep.Branch, rep.Commit.String()[:7], subject)
	term.WriteStats(a.stdout, rep.Files, rep.Added, rep.Removed)
}

func (a *app) branchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "branch <name>",
		Short: "Create a branch at HEAD and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ref, err := a.sync.CreateBranch(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Switched to a new branch '%s'\n", ref.Short())
			return nil
		},
	}
}

func (a *app) checkoutCommand() *cobra.Command {
	var (
		patch bool
		req   syncer.CheckoutRequest
	)
	cmd := &cobra.Command{
		Use:   "checkout [branch] | checkout -p [paths...]",
		Short: "Switch branches, or discard hunks with -p",
		Long: `Switch to a branch, picking it from a list when none is given. A branch
that only exists on the remote is fetched and set up to track it. Local
changes that the switch would overwrite are stashed first.
With -p the unstaged hunks of the given paths can be discarded one by one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if patch {
				return a.discardInteractive(ctx, args)
			}
			switch len(args) {
			case 0:
				branches, err := a.repo.LocalBranches()
				if err != nil {
					return err
				}
				req.Branch, err = a.prompter.Pick(ctx, "Switch to branch:", branches)
				if err != nil {
					return err
				}
			case 1:
				req.Branch = args[0]
			default:
				return fmt.Errorf("expected one branch, got %d arguments", len(args))
			}
			rep, err := a.sync.Checkout(ctx, req)
			if err != nil {
				return err
			}
			if rep.Already {
				fmt.Fprintf(a.stdout, "Already on '%s'\n", rep.Branch)
				return nil
			}
			if rep.Stash != nil {
				term.WriteStash(a.stdout, *rep.Stash)
			}
			fmt.Fprintf(a.stdout, "Switched to branch '%s'\n", rep.Branch)
			if rep.Tracking != "" {
				fmt.Fprintf(a.stdout, "branch '%s' set up to track '%s'\n", rep.Branch, rep.Tracking)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "discard hunks interactively")
	cmd.Flags().StringVar(&req.Remote, "remote", "", "remote to look for a missing branch on")
	return cmd
}
