package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitp/internal/buildinfo"
	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/syncer"
	"github.com/thiagokokada/gitp/internal/term"
)

const defaultListLimit = 50

var (
	commitColor = color.New(color.FgYellow)
	labelColor  = color.New(color.FgGreen, color.Bold)
	graphColor  = color.New(color.FgRed)
)

func (a *app) stashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stash [message...]",
		Short: "Save local changes, including untracked files, and reset to HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			rep, err := a.sync.Stash(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			term.WriteStash(a.stdout, rep)
			return nil
		},
	}
}

func (a *app) unstashCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "unstash",
		Short: "Re-apply a stash entry and drop it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("invalid stash index %d", n)
			}
			rep, err := a.sync.Unstash(cmd.Context(), n)
			if err != nil {
				return err
			}
			term.WriteUnstash(a.stdout, n, rep)
			if len(rep.Conflicts) > 0 {
				a.outcome = syncer.ConflictsPresent
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 0, "stash entry to apply, 0 is the newest")
	return cmd
}

func (a *app) listCommand() *cobra.Command {
	var (
		short bool
		limit int
		grep  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the history of HEAD with a branch graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			entries, err := a.repo.History(limit)
			if err != nil {
				return err
			}
			for _, e := range git.FilterLog(entries, grep) {
				a.writeLogEntry(e, short)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "one line per commit")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "maximum number of commits")
	cmd.Flags().StringVarP(&grep, "grep", "g", "", "only show commits whose hash, author, message or refs contain this text")
	return cmd
}

func (a *app) writeLogEntry(e *git.LogEntry, short bool) {
	labels := ""
	if len(e.Labels) > 0 {
		labels = " " + labelColor.Sprintf("(%s)", strings.Join(e.Labels, ", "))
	}
	graph := graphColor.Sprint(e.Graph)
	if short {
		fmt.Fprintf(a.stdout, "%s %s%s\n", graph, e.Summary, labels)
		return
	}
	header := strings.Split(strings.TrimRight(git.FormatCommitHeader(e.Commit), "\n"), "\n")
	fmt.Fprintf(a.stdout, "%s %s%s\n", graph, commitColor.Sprint(header[0]), labels)
	pad := graphColor.Sprint(continuation(e.Graph))
	for _, line := range header[1:] {
		fmt.Fprintf(a.stdout, "%s %s\n", pad, line)
	}
	fmt.Fprintln(a.stdout, pad)
}

// continuation is the graph prefix for the lines below a commit: its lane
// and the lanes beside it keep going, merge edges do not.
func continuation(graph string) string {
	var b strings.Builder
	for _, r := range graph {
		switch r {
		case '*', '|':
			b.WriteRune('|')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "gitp %s\n", buildinfo.VersionWithTags())
		},
	}
}
