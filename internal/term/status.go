package term

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/thiagokokada/gitp/internal/git"
)

var (
	stagedColor     = color.New(color.FgGreen)
	unstagedColor   = color.New(color.FgRed)
	untrackedColor  = color.New(color.FgHiBlack)
	conflictedColor = color.New(color.FgYellow, color.Bold)
	headingColor    = color.New(color.Bold)
)

// Tracking is the relation of the current branch to its upstream.
type Tracking struct {
	Upstream string
	Ahead    int
	Behind   int
	// Gone is set when the upstream branch does not exist.
	Gone bool
}

func (t *Tracking) describe() string {
	switch {
	case t.Gone:
		return fmt.Sprintf("upstream %s is gone", t.Upstream)
	case t.Ahead > 0 && t.Behind > 0:
		return fmt.Sprintf("diverged from %s (%d ahead, %d behind)", t.Upstream, t.Ahead, t.Behind)
	case t.Ahead > 0:
		return fmt.Sprintf("ahead of %s by %s", t.Upstream, plural(t.Ahead, "commit"))
	case t.Behind > 0:
		return fmt.Sprintf("behind %s by %s", t.Upstream, plural(t.Behind, "commit"))
	default:
		return fmt.Sprintf("up to date with %s", t.Upstream)
	}
}

// WriteStatus prints the branch line followed by the conflicted, staged,
// unstaged and untracked sections. tracking may be nil.
func WriteStatus(w io.Writer, st git.Status, tracking *Tracking) {
	name := st.Head.Name()
	if st.Head.Detached {
		name = fmt.Sprintf("detached at %s", st.Head.Hash.String()[:7])
	}
	headingColor.Fprintf(w, "On %s", name)
	if tracking != nil {
		fmt.Fprintf(w, ", %s", tracking.describe())
	}
	fmt.Fprintln(w)

	section := func(title string, c *color.Color, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s\n", headingColor.Sprint(title))
		for _, line := range lines {
			fmt.Fprintf(w, "  %s\n", c.Sprint(line))
		}
	}
	section("Conflicts (fix and run gitp resolve):", conflictedColor, st.Conflicted)
	section("Staged:", stagedColor, entryLines(st.Staged))
	section("Not staged:", unstagedColor, entryLines(st.Unstaged))
	section("Untracked:", untrackedColor, st.Untracked)
	if st.Clean() && len(st.Untracked) == 0 {
		fmt.Fprintln(w, "\nnothing to commit, working tree clean")
	}
}

func entryLines(entries []git.StatusEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%-9s %s", e.Kind.String()+":", e.Path))
	}
	return lines
}

// WriteStats prints a git-style shortstat line.
func WriteStats(w io.Writer, files, added, removed int) {
	fmt.Fprintf(w, " %s changed", plural(files, "file"))
	if added > 0 {
		fmt.Fprintf(w, ", %s", stagedColor.Sprintf("%s(+)", plural(added, "insertion")))
	}
	if removed > 0 {
		fmt.Fprintf(w, ", %s", unstagedColor.Sprintf("%s(-)", plural(removed, "deletion")))
	}
	fmt.Fprintln(w)
}

// WriteAdded prints one "+ path" line per staged file.
func WriteAdded(w io.Writer, paths []string) {
	for _, p := range paths {
		fmt.Fprintf(w, "%s %s\n", stagedColor.Sprint("+"), p)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
