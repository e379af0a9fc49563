package term

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/selection"
	"github.com/thiagokokada/gitp/internal/syncer"
)

var (
	hashColor = color.New(color.FgYellow)
	hintColor = color.New(color.FgCyan)
)

func short(h plumbing.Hash) string {
	return hashColor.Sprint(h.String()[:7])
}

// WriteSyncReport describes the result of sync, pull, continue or abort.
func WriteSyncReport(w io.Writer, rep syncer.Report) {
	st := rep.State
	local, remote := st.LocalRef.Short(), st.RemoteRef.Short()
	switch rep.Outcome {
	case syncer.UpToDate:
		if st.Ahead > 0 {
			fmt.Fprintf(w, "%s is ahead of %s by %s\n", local, remote, plural(st.Ahead, "commit"))
		} else {
			fmt.Fprintln(w, "Already up to date.")
		}
	case syncer.FastForward:
		fmt.Fprintf(w, "Fast-forwarded %s to %s\n", local, short(st.RemoteTip))
	case syncer.Merged:
		if remote != "" {
			fmt.Fprintf(w, "Merged %s into %s (%s)\n", remote, local, short(rep.MergeCommit))
		} else {
			fmt.Fprintf(w, "Merge committed as %s\n", short(rep.MergeCommit))
		}
	case syncer.Rebased:
		fmt.Fprintf(w, "Rebased %s", plural(len(rep.Rebased), "commit"))
		if remote != "" {
			fmt.Fprintf(w, " of %s onto %s", local, remote)
		}
		fmt.Fprintln(w)
	case syncer.ConflictsPresent:
		WriteConflicts(w, rep.Conflicts)
		if !rep.StoppedAt.IsZero() {
			fmt.Fprintf(w, "Rebase stopped at %s, %s left to apply\n", short(rep.StoppedAt), plural(len(rep.Remaining), "commit"))
		}
		hintColor.Fprintln(w, "hint: fix the files, run gitp resolve, then gitp sync --continue (or gitp sync --abort)")
	case syncer.Aborted:
		fmt.Fprintln(w, "Aborted.")
	}
	if rep.Pushed {
		fmt.Fprintf(w, "Pushed %s to %s\n", local, remote)
	}
}

// WriteConflicts lists conflicted paths with the sides present for each.
func WriteConflicts(w io.Writer, conflicts []syncer.Conflict) {
	if len(conflicts) == 0 {
		return
	}
	headingColor.Fprintln(w, "Conflicts:")
	for _, c := range conflicts {
		var sides []string
		for _, s := range []struct {
			name string
			hash plumbing.Hash
		}{{"base", c.Base}, {"ours", c.Ours}, {"theirs", c.Theirs}} {
			if !s.hash.IsZero() {
				sides = append(sides, s.name)
			}
		}
		fmt.Fprintf(w, "  %s (%s)\n", conflictedColor.Sprint(c.Path), strings.Join(sides, ", "))
	}
}

// WritePushReport describes the result of a standalone push.
func WritePushReport(w io.Writer, branch string, rep syncer.PushReport) {
	target := rep.Remote + "/" + rep.RemoteBranch
	if rep.UpToDate {
		fmt.Fprintf(w, "%s is up to date with %s\n", branch, target)
		return
	}
	fmt.Fprintf(w, "Pushed %s to %s (%s)\n", branch, target, short(rep.Tip))
	if rep.UpstreamSet {
		fmt.Fprintf(w, "branch %s set up to track %s\n", branch, target)
	}
}

// WriteSelection summarizes an interactive add or discard.
func WriteSelection(w io.Writer, verb string, rep selection.Report) {
	for _, e := range rep.Unreadable {
		fmt.Fprintf(w, "%s %s: %v\n", unstagedColor.Sprint("skipped"), e.Path, e.Err)
	}
	if rep.Outcome == selection.Aborted {
		fmt.Fprintln(w, "Aborted.")
	}
	fmt.Fprintf(w, "%s %s in %s, %s skipped\n", verb, plural(rep.Staged, "hunk"), plural(len(rep.Committed), "file"), plural(rep.Skipped, "hunk"))
}

// WriteStash reports a new stash entry.
func WriteStash(w io.Writer, rep syncer.StashReport) {
	fmt.Fprintf(w, "Saved working changes as stash@{0}: %s\n", rep.Message)
	for _, p := range rep.Paths {
		fmt.Fprintf(w, "  %s\n", untrackedColor.Sprint(p))
	}
}

// WriteUnstash reports a re-applied stash entry.
func WriteUnstash(w io.Writer, n int, rep syncer.UnstashReport) {
	if len(rep.Conflicts) > 0 {
		WriteConflicts(w, rep.Conflicts)
		hintColor.Fprintf(w, "hint: fix the files and run gitp resolve; stash@{%d} is kept\n", n)
		return
	}
	fmt.Fprintf(w, "Applied %s", rep.Message)
	if rep.Dropped {
		fmt.Fprintf(w, " and dropped stash@{%d}", n)
	}
	fmt.Fprintln(w)
}
