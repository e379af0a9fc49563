package term

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
)

func init() {
	color.NoColor = true
}

func TestWriteStatus(t *testing.T) {
	t.Parallel()

	st := git.Status{
		Head:       git.Head{Branch: plumbing.NewBranchReferenceName("main")},
		Staged:     []git.StatusEntry{{Path: "a.go", Kind: diff.Added}},
		Unstaged:   []git.StatusEntry{{Path: "b.go", Kind: diff.Modified}},
		Untracked:  []string{"notes.txt"},
		Conflicted: []string{"c.go"},
	}
	var out bytes.Buffer
	WriteStatus(&out, st, &Tracking{Upstream: "origin/main", Ahead: 2, Behind: 1})
	want := `On main, diverged from origin/main (2 ahead, 1 behind)

Conflicts (fix and run gitp resolve):
  c.go

Staged:
  added:    a.go

Not staged:
  modified: b.go

Untracked:
  notes.txt
`
	if out.String() != want {
		t.Fatalf("status =\n%s\nwant\n%s", out.String(), want)
	}

	out.Reset()
	WriteStatus(&out, git.Status{Head: git.Head{Branch: plumbing.NewBranchReferenceName("main")}}, &Tracking{Upstream: "origin/main", Ahead: 1})
	if !strings.Contains(out.String(), "ahead of origin/main by 1 commit\n") || !strings.Contains(out.String(), "working tree clean") {
		t.Fatalf("clean status = %q", out.String())
	}
}

func TestWriteStats(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	WriteStats(&out, 2, 1, 3)
	if got := out.String(); got != " 2 files changed, 1 insertion(+), 3 deletions(-)\n" {
		t.Fatalf("stats = %q", got)
	}
}
