package git

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/thiagokokada/gitp/internal/diff"
)

// checkoutCommit materializes a commit and records it as HEAD and index.
func checkoutCommit(t *testing.T, r *Repository, commit plumbing.Hash) []diff.File {
	t.Helper()
	files, err := r.FlattenCommit(commit)
	if err != nil {
		t.Fatalf("FlattenCommit: %v", err)
	}
	if err := r.UpdateWorktree(nil, files); err != nil {
		t.Fatalf("UpdateWorktree: %v", err)
	}
	setIndex(t, r, files)
	if err := r.Storer().SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), commit)); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	return files
}

func setIndex(t *testing.T, r *Repository, files []diff.File) {
	t.Helper()
	idx := &index.Index{Version: 2}
	for _, f := range files {
		idx.Entries = append(idx.Entries, &index.Entry{Name: f.Path, Mode: f.Mode, Hash: f.Hash})
	}
	if err := r.Storer().SetIndex(idx); err != nil {
		t.Fatalf("SetIndex: %v", err)
	}
}

func paths(files []diff.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestUpdateWorktree(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"keep": "k\n", "gone/x": "x\n", "edit": "1\n"})
	b := commitFiles(t, r, "b", map[string]string{"keep": "k\n", "edit": "2\n", "new/y": "y\n"}, a)
	from := checkoutCommit(t, r, a)
	to, err := r.FlattenCommit(b)
	if err != nil {
		t.Fatalf("FlattenCommit: %v", err)
	}
	if err := r.UpdateWorktree(from, to); err != nil {
		t.Fatalf("UpdateWorktree: %v", err)
	}
	if _, err := os.Stat(r.WorktreePath("gone")); !os.IsNotExist(err) {
		t.Fatalf("empty directory not pruned: %v", err)
	}
	data, err := os.ReadFile(r.WorktreePath("edit"))
	if err != nil || string(data) != "2\n" {
		t.Fatalf("edit = %q, %v", data, err)
	}
	if _, err := os.Stat(r.WorktreePath("new/y")); err != nil {
		t.Fatalf("new/y: %v", err)
	}
}

func TestWorktreeSourceHonorsIgnore(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"tracked.log": "t\n", ".gitignore": "*.log\nbuild/\n"})
	checkoutCommit(t, r, a)
	writeFile(t, r, "debug.log", "ignored\n")
	writeFile(t, r, "build/out", "ignored\n")
	writeFile(t, r, "notes.txt", "untracked\n")

	ctx := context.Background()
	all, err := r.WorktreeSource(true).Files(ctx)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{".gitignore", "notes.txt", "tracked.log"}
	if got := paths(all); !slices.Equal(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	tracked, err := r.WorktreeSource(false).Files(ctx)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want = []string{".gitignore", "tracked.log"}
	if got := paths(tracked); !slices.Equal(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
}

func TestWorktreeSourceHashesContent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"f": "old\n"})
	checkoutCommit(t, r, a)
	writeFile(t, r, "f", "new\n")
	files, err := r.WorktreeSource(false).Files(context.Background())
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := plumbing.ComputeHash(plumbing.BlobObject, []byte("new\n"))
	if len(files) != 1 || files[0].Hash != want || files[0].Mode != filemode.Regular {
		t.Fatalf("files = %+v, want hash %s", files, want)
	}
}

func TestOverwritten(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"f": "1\n", "g": "1\n"})
	b := commitFiles(t, r, "b", map[string]string{"f": "2\n", "g": "1\n", "h": "2\n"}, a)
	from := checkoutCommit(t, r, a)
	to, err := r.FlattenCommit(b)
	if err != nil {
		t.Fatalf("FlattenCommit: %v", err)
	}
	ctx := context.Background()

	got, err := r.Overwritten(ctx, from, to)
	if err != nil {
		t.Fatalf("Overwritten: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("clean worktree: got %v", got)
	}

	writeFile(t, r, "g", "local\n")
	got, err = r.Overwritten(ctx, from, to)
	if err != nil {
		t.Fatalf("Overwritten: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("edit on unchanged path: got %v", got)
	}

	writeFile(t, r, "f", "local\n")
	writeFile(t, r, "h", "untracked\n")
	got, err = r.Overwritten(ctx, from, to)
	if err != nil {
		t.Fatalf("Overwritten: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"f", "h"}) {
		t.Fatalf("Overwritten = %v, want [f h]", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"staged": "1\n", "dirty": "1\n", "removed": "1\n"})
	files := checkoutCommit(t, r, a)

	stagedHash, err := r.WriteBlob([]byte("2\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	for i := range files {
		if files[i].Path == "staged" {
			files[i].Hash = stagedHash
		}
	}
	setIndex(t, r, files)
	writeFile(t, r, "staged", "2\n")
	writeFile(t, r, "dirty", "changed\n")
	writeFile(t, r, "untracked", "u\n")
	if err := os.Remove(r.WorktreePath("removed")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	st, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Staged) != 1 || st.Staged[0] != (StatusEntry{Path: "staged", Kind: diff.Modified}) {
		t.Fatalf("staged = %+v", st.Staged)
	}
	wantUnstaged := []StatusEntry{{Path: "dirty", Kind: diff.Modified}, {Path: "removed", Kind: diff.Deleted}}
	if !slices.Equal(st.Unstaged, wantUnstaged) {
		t.Fatalf("unstaged = %+v, want %+v", st.Unstaged, wantUnstaged)
	}
	if !slices.Equal(st.Untracked, []string{"untracked"}) {
		t.Fatalf("untracked = %v", st.Untracked)
	}
	if st.Clean() || !st.HasStaged() {
		t.Fatalf("Clean/HasStaged = %v/%v", st.Clean(), st.HasStaged())
	}
}

func TestStatusConflicted(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"f": "1\n"})
	files := checkoutCommit(t, r, a)
	idx := &index.Index{Version: 2}
	for stage := index.Stage(1); stage <= 3; stage++ {
		idx.Entries = append(idx.Entries, &index.Entry{Name: "f", Mode: filemode.Regular, Hash: files[0].Hash, Stage: stage})
	}
	if err := r.Storer().SetIndex(idx); err != nil {
		t.Fatalf("SetIndex: %v", err)
	}
	st, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !slices.Equal(st.Conflicted, []string{"f"}) {
		t.Fatalf("conflicted = %v", st.Conflicted)
	}
	if len(st.Unstaged) != 0 || len(st.Untracked) != 0 {
		t.Fatalf("unstaged = %v untracked = %v", st.Unstaged, st.Untracked)
	}
}
