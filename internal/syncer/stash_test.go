package syncer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/thiagokokada/gitp/internal/git"
)

func TestStashAndUnstash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.commit(t, "base commit", map[string]string{"f": "1\n", "g": "g\n"})
	f.checkout(t, a)
	f.write(t, "f", "edited\n")
	f.write(t, "notes", "untracked\n")

	rep, err := f.o.Stash(ctx, "")
	if err != nil {
		t.Fatalf("Stash: %v", err)
	}
	if !slices.Equal(rep.Paths, []string{"f", "notes"}) {
		t.Fatalf("paths = %v", rep.Paths)
	}
	if want := "WIP on main: " + a.String()[:7] + " base commit"; rep.Message != want {
		t.Fatalf("message = %q, want %q", rep.Message, want)
	}
	if got := f.read(t, "f"); got != "1\n" {
		t.Fatalf("f = %q after stash", got)
	}
	if f.exists("notes") {
		t.Fatal("untracked file not stashed away")
	}
	if st := f.status(t); !st.Clean() || len(st.Untracked) != 0 {
		t.Fatalf("status = %+v", st)
	}
	entries, err := f.repo.Stashes()
	if err != nil || len(entries) != 1 || entries[0].Commit != rep.Commit {
		t.Fatalf("stashes = %+v, %v", entries, err)
	}
	commit, err := f.repo.Commit(rep.Commit)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commit.NumParents() != 3 || commit.ParentHashes[0] != a {
		t.Fatalf("stash parents = %v", commit.ParentHashes)
	}

	un, err := f.o.Unstash(ctx, 0)
	if err != nil {
		t.Fatalf("Unstash: %v", err)
	}
	if !un.Dropped || len(un.Conflicts) != 0 {
		t.Fatalf("report = %+v", un)
	}
	if got := f.read(t, "f"); got != "edited\n" {
		t.Fatalf("f = %q after unstash", got)
	}
	if got := f.read(t, "notes"); got != "untracked\n" {
		t.Fatalf("notes = %q after unstash", got)
	}
	st := f.status(t)
	if st.HasStaged() || len(st.Unstaged) != 1 {
		t.Fatalf("status = %+v, want f unstaged", st)
	}
	if entries, _ := f.repo.Stashes(); len(entries) != 0 {
		t.Fatalf("stash not dropped: %+v", entries)
	}
}

func TestStashNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.commit(t, "a", map[string]string{"f": "1\n"})
	f.checkout(t, a)
	if _, err := f.o.Stash(context.Background(), "msg"); !errors.Is(err, ErrNothingToStash) {
		t.Fatalf("err = %v, want ErrNothingToStash", err)
	}
	if _, err := f.o.Unstash(context.Background(), 0); !errors.Is(err, git.ErrNoStash) {
		t.Fatalf("Unstash err = %v, want ErrNoStash", err)
	}
}

func TestUnstashOntoMovedHead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.commit(t, "a", map[string]string{"f": "1\n2\n3\n4\n5\n6\n7\n8\n"})
	f.checkout(t, a)
	f.write(t, "f", "1\n2\n3\n4\n5\n6\n7\nstashed\n")
	if _, err := f.o.Stash(ctx, "tail"); err != nil {
		t.Fatalf("Stash: %v", err)
	}
	b := f.commit(t, "b", map[string]string{"f": "head\n2\n3\n4\n5\n6\n7\n8\n"}, a)
	f.checkout(t, b)

	rep, err := f.o.Unstash(ctx, 0)
	if err != nil {
		t.Fatalf("Unstash: %v", err)
	}
	if !rep.Dropped {
		t.Fatalf("report = %+v", rep)
	}
	if got := f.read(t, "f"); got != "head\n2\n3\n4\n5\n6\n7\nstashed\n" {
		t.Fatalf("f = %q", got)
	}
}

func TestUnstashConflictKeepsEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.commit(t, "a", map[string]string{"f": "1\n"})
	f.checkout(t, a)
	f.write(t, "f", "stashed\n")
	if _, err := f.o.Stash(ctx, ""); err != nil {
		t.Fatalf("Stash: %v", err)
	}
	b := f.commit(t, "b", map[string]string{"f": "committed\n"}, a)
	f.checkout(t, b)

	rep, err := f.o.Unstash(ctx, 0)
	if err != nil {
		t.Fatalf("Unstash: %v", err)
	}
	if rep.Dropped || len(rep.Conflicts) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := f.read(t, "f"); !strings.Contains(got, "<<<<<<< Updated upstream\ncommitted\n=======\nstashed\n>>>>>>> Stashed changes\n") {
		t.Fatalf("f = %q", got)
	}
	if entries, _ := f.repo.Stashes(); len(entries) != 1 {
		t.Fatalf("stash dropped despite conflicts")
	}
}

func TestUnstashRefusesDirty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	a := f.commit(t, "a", map[string]string{"f": "1\n", "g": "1\n"})
	f.checkout(t, a)
	f.write(t, "f", "2\n")
	if _, err := f.o.Stash(ctx, ""); err != nil {
		t.Fatalf("Stash: %v", err)
	}
	f.write(t, "g", "dirty\n")
	if _, err := f.o.Unstash(ctx, 0); !errors.Is(err, ErrDirtyWorktree) {
		t.Fatalf("err = %v, want ErrDirtyWorktree", err)
	}
}
