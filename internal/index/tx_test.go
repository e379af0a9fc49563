package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/git"
)

type fixture struct {
	repo *git.Repository
	mgr  *Manager
}

// newFixture creates a repository whose HEAD, index and working copy all
// hold files.
func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	repo, err := git.Init(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	f := &fixture{repo: repo, mgr: NewManager(repo, 200*time.Millisecond)}
	var list []diff.File
	for path, content := range files {
		hash, err := repo.WriteBlob([]byte(content))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		list = append(list, diff.File{Path: path, Mode: filemode.Regular, Hash: hash})
		f.write(t, path, content)
	}
	if len(list) > 0 {
		tree, err := repo.BuildTree(list)
		if err != nil {
			t.Fatalf("BuildTree: %v", err)
		}
		commit, err := repo.WriteCommit(context.Background(), git.CommitRequest{
			Tree:    tree,
			Message: "init",
			Author:  object.Signature{Name: "T", Email: "t@example.com", When: time.Unix(1700000000, 0)},
		})
		if err != nil {
			t.Fatalf("WriteCommit: %v", err)
		}
		if err := repo.CompareAndSwapRef(plumbing.NewBranchReferenceName("main"), plumbing.ZeroHash, commit); err != nil {
			t.Fatalf("CAS: %v", err)
		}
		tx := f.begin(t)
		if err := tx.ReplaceAll(list); err != nil {
			t.Fatalf("ReplaceAll: %v", err)
		}
		tx.Close()
	}
	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	p := f.repo.WorktreePath(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (f *fixture) begin(t *testing.T) *Tx {
	t.Helper()
	tx, err := f.mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { tx.Close() })
	return tx
}

// unstaged returns the index-to-worktree patches.
func (f *fixture) unstaged(t *testing.T) []*diff.Patch {
	t.Helper()
	engine := diff.New(diff.DefaultOptions())
	patches, err := diff.Collect(engine.Patches(context.Background(), f.repo.IndexSource(), f.repo.WorktreeSource(true)))
	if err != nil {
		t.Fatalf("Patches: %v", err)
	}
	return patches
}

func (f *fixture) staged(t *testing.T, path string) string {
	t.Helper()
	files, err := f.mgr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, file := range files {
		if file.Path == path {
			data, err := f.repo.ReadBlob(file.Hash)
			if err != nil {
				t.Fatalf("ReadBlob: %v", err)
			}
			return string(data)
		}
	}
	return "<absent>"
}

func lines(n int, edit map[int]string) string {
	var out []byte
	for i := 1; i <= n; i++ {
		if s, ok := edit[i]; ok {
			out = append(out, s...)
			continue
		}
		out = fmt.Appendf(out, "line %d\n", i)
	}
	return string(out)
}

func TestApplySelectedHunkOnly(t *testing.T) {
	t.Parallel()

	orig := lines(30, nil)
	f := newFixture(t, map[string]string{"f.txt": orig})
	f.write(t, "f.txt", lines(30, map[int]string{2: "first\n", 28: "second\n"}))

	patches := f.unstaged(t)
	if len(patches) != 1 || len(patches[0].Hunks) != 2 {
		t.Fatalf("patches = %+v", patches)
	}
	patches[0].Hunks[0].Selected = true
	tx := f.begin(t)
	if err := tx.Apply(patches[0], patches[0].Hunks); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tx.Close()

	if got, want := f.staged(t, "f.txt"), lines(30, map[int]string{2: "first\n"}); got != want {
		t.Fatalf("staged = %q, want %q", got, want)
	}
	rest := f.unstaged(t)
	if len(rest) != 1 || len(rest[0].Hunks) != 1 || rest[0].Hunks[0].Old.Offset < 20 {
		t.Fatalf("remaining = %+v", rest)
	}
}

func TestApplyStaleBaseline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"f.txt": "one\ntwo\n"})
	f.write(t, "f.txt", "one\nTWO\n")
	patches := f.unstaged(t)
	for _, h := range patches[0].Hunks {
		h.Selected = true
	}

	tx := f.begin(t)
	other, err := f.repo.WriteBlob([]byte("changed elsewhere\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := tx.ReplaceAll([]diff.File{{Path: "f.txt", Mode: filemode.Regular, Hash: other}}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	err = tx.Apply(patches[0], patches[0].Hunks)
	if !errors.Is(err, ErrPatchConflict) {
		t.Fatalf("Apply: err = %v, want ErrPatchConflict", err)
	}
	if got := f.staged(t, "f.txt"); got != "changed elsewhere\n" {
		t.Fatalf("index changed by failed apply: %q", got)
	}
}

func TestApplyThenUnstageRestoresHead(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"f.txt": "a\nb\nc\n"})
	before, err := f.mgr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	f.write(t, "f.txt", "a\nB\nc\n")
	f.write(t, "new.txt", "fresh\n")
	tx := f.begin(t)
	for _, p := range f.unstaged(t) {
		for _, h := range p.Hunks {
			h.Selected = true
		}
		if err := tx.Apply(p, p.Hunks); err != nil {
			t.Fatalf("Apply %s: %v", p.Path(), err)
		}
	}
	if got := f.staged(t, "new.txt"); got != "fresh\n" {
		t.Fatalf("new.txt staged = %q", got)
	}
	for _, path := range []string{"f.txt", "new.txt"} {
		if err := tx.Unstage(path); err != nil {
			t.Fatalf("Unstage %s: %v", path, err)
		}
	}
	tx.Close()
	after, err := f.mgr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !slices.Equal(before, after) {
		t.Fatalf("after unstage = %+v, want %+v", after, before)
	}
}

func TestApplyDeletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"gone.txt": "x\n", "keep.txt": "k\n"})
	if err := os.Remove(f.repo.WorktreePath("gone.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	patches := f.unstaged(t)
	if len(patches) != 1 || patches[0].Kind != diff.Deleted {
		t.Fatalf("patches = %+v", patches)
	}
	for _, h := range patches[0].Hunks {
		h.Selected = true
	}
	tx := f.begin(t)
	if err := tx.Apply(patches[0], patches[0].Hunks); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := f.staged(t, "gone.txt"); got != "<absent>" {
		t.Fatalf("gone.txt still staged: %q", got)
	}
}

func TestConflictStagesAndResolve(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"f.txt": "base\n"})
	hash := func(s string) plumbing.Hash {
		h, err := f.repo.WriteBlob([]byte(s))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		return h
	}
	tx := f.begin(t)
	c := Conflict{Path: "f.txt", Mode: filemode.Regular, Base: hash("base\n"), Ours: hash("ours\n"), Theirs: hash("theirs\n")}
	if err := tx.SetConflict(c); err != nil {
		t.Fatalf("SetConflict: %v", err)
	}
	got := tx.Conflicts()
	if len(got) != 1 || got[0] != c {
		t.Fatalf("Conflicts = %+v, want %+v", got, c)
	}
	if _, err := tx.WriteTree(); !errors.Is(err, ErrUnresolvedConflicts) {
		t.Fatalf("WriteTree: err = %v", err)
	}
	if got := f.staged(t, "f.txt"); got != "<absent>" {
		t.Fatalf("stage 0 present during conflict: %q", got)
	}
	if err := tx.Resolve("f.txt", []byte("merged\n"), filemode.Regular); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tx.Conflicts()) != 0 {
		t.Fatalf("conflicts left: %+v", tx.Conflicts())
	}
	if _, err := tx.WriteTree(); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	tx.Close()
	if got := f.staged(t, "f.txt"); got != "merged\n" {
		t.Fatalf("resolved = %q", got)
	}
	persisted, err := f.mgr.Conflicts()
	if err != nil || len(persisted) != 0 {
		t.Fatalf("Conflicts = %+v, %v", persisted, err)
	}
}

func TestResetStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"f.txt": "base\n"})
	ours, err := f.repo.WriteBlob([]byte("ours\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	tx := f.begin(t)
	if err := tx.SetConflict(Conflict{Path: "f.txt", Mode: filemode.Regular, Ours: ours, Theirs: ours}); err != nil {
		t.Fatalf("SetConflict: %v", err)
	}
	if err := tx.ResetStage("f.txt", 3); err != nil {
		t.Fatalf("ResetStage: %v", err)
	}
	got := tx.Conflicts()
	if len(got) != 1 || !got[0].Theirs.IsZero() || got[0].Ours != ours {
		t.Fatalf("Conflicts = %+v", got)
	}
	if err := tx.ResetStage("f.txt", git.StageNormal); !errors.Is(err, ErrIndexInvariant) {
		t.Fatalf("ResetStage(0): err = %v", err)
	}
}

func TestAddPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"src/a.go": "a\n", "src/b.go": "b\n", "README": "r\n"})
	f.write(t, "src/a.go", "A\n")
	f.write(t, "src/c.go", "c\n")
	f.write(t, "README", "R\n")
	if err := os.Remove(f.repo.WorktreePath("src/b.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tx := f.begin(t)
	changed, err := tx.AddPaths(context.Background(), []string{"src"})
	if err != nil {
		t.Fatalf("AddPaths: %v", err)
	}
	if want := []string{"src/a.go", "src/b.go", "src/c.go"}; !slices.Equal(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	tx.Close()
	if got := f.staged(t, "README"); got != "r\n" {
		t.Fatalf("README staged outside the path: %q", got)
	}
	if got := f.staged(t, "src/b.go"); got != "<absent>" {
		t.Fatalf("src/b.go = %q", got)
	}
	if got := f.staged(t, "src/c.go"); got != "c\n" {
		t.Fatalf("src/c.go = %q", got)
	}
}

func TestBeginTimesOutOnHeldLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	held := f.begin(t)
	start := time.Now()
	_, err := f.mgr.Begin(context.Background())
	if !errors.Is(err, ErrIndexLocked) {
		t.Fatalf("Begin: err = %v, want ErrIndexLocked", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Fatalf("gave up before the timeout")
	}
	held.Close()
	tx, err := f.mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	tx.Close()
}

func TestBeginWaitsForRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.mgr.timeout = 5 * time.Second
	held := f.begin(t)
	released := make(chan struct{})
	go func() {
		defer close(released)
		time.Sleep(100 * time.Millisecond)
		held.Close()
	}()
	tx, err := f.mgr.Begin(context.Background())
	<-released
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Close()
}

type indexEntry struct {
	name  string
	stage index.Stage
}

func toEntries(in []*indexEntry) []*index.Entry {
	out := make([]*index.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, &index.Entry{Name: e.name, Stage: e.stage, Mode: filemode.Regular})
	}
	return out
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []*indexEntry
		wantErr bool
	}{
		{"ok", []*indexEntry{{"a", 0}, {"b", 1}, {"b", 2}}, false},
		{"duplicate", []*indexEntry{{"a", 0}, {"a", 0}}, true},
		{"mixed stages", []*indexEntry{{"a", 2}, {"a", 0}}, true},
		{"dot git", []*indexEntry{{".git/config", 0}}, true},
		{"absolute", []*indexEntry{{"/etc/passwd", 0}}, true},
		{"dot dot", []*indexEntry{{"a/../b", 0}}, true},
	}
	for _, tt := range tests {
		err := validate(toEntries(tt.entries))
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrIndexInvariant) {
			t.Fatalf("%s: err = %v, want ErrIndexInvariant", tt.name, err)
		}
	}
}
