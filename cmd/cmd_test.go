package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
	"github.com/thiagokokada/gitp/internal/syncer"
)

// The commands set process-wide state (slog default, color.NoColor), so
// these tests do not run in parallel.

type fakeTransport struct {
	fetchFunc func(ctx context.Context, remote, branch string) (git.FetchResult, error)
}

func (f *fakeTransport) Fetch(ctx context.Context, remote, branch string) (git.FetchResult, error) {
	if f.fetchFunc == nil {
		return git.FetchResult{Remote: remote, Branch: branch}, nil
	}
	return f.fetchFunc(ctx, remote, branch)
}

func (f *fakeTransport) Push(context.Context, string, plumbing.ReferenceName, plumbing.Hash, plumbing.Hash, bool) error {
	return errors.New("push not expected")
}

type testRepo struct {
	dir string
	tr  *fakeTransport
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.Init(dir, "main")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := repo.Lib().Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	cfg.User.Name = "Test"
	cfg.User.Email = "test@example.com"
	cfg.Raw.Section("gitp").SetOption("signing", "off")
	cfg.Remotes[git.DefaultRemote] = &config.RemoteConfig{Name: git.DefaultRemote, URLs: []string{"file:///nonexistent"}}
	if err := repo.Lib().SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	return &testRepo{dir: dir, tr: &fakeTransport{}}
}

func (r *testRepo) run(t *testing.T, stdin string, args ...string) (string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.newTransport = func(*git.Repository) syncer.Transport { return r.tr }
	err := a.execute(context.Background(), append([]string{"-C", r.dir, "--color", "never"}, args...))
	if err != nil {
		fmt.Fprintf(&out, "error: %v\n", err)
	}
	return out.String(), ExitCode(err, a.outcome)
}

func (r *testRepo) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, code := r.run(t, "", args...)
	if code != ExitOK {
		t.Fatalf("gitp %s exited %d:\n%s", strings.Join(args, " "), code, out)
	}
	return out
}

func (r *testRepo) write(t *testing.T, path, content string) {
	t.Helper()
	p := filepath.Join(r.dir, path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (r *testRepo) read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.dir, path))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func numbered(n int, edits map[int]string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if line, ok := edits[i]; ok {
			b.WriteString(line + "\n")
			continue
		}
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		outcome syncer.Outcome
		want    int
	}{
		{"success", nil, syncer.Merged, ExitOK},
		{"conflicts outcome", nil, syncer.ConflictsPresent, ExitConflicts},
		{"aborted outcome", nil, syncer.Aborted, ExitAborted},
		{"interrupted", fmt.Errorf("fetch: %w", context.Canceled), syncer.UpToDate, ExitAborted},
		{"unresolved", fmt.Errorf("commit: %w", index.ErrUnresolvedConflicts), syncer.UpToDate, ExitConflicts},
		{"rejected", &git.PushRejectedError{Remote: "origin", Ref: "refs/heads/main"}, syncer.Merged, ExitError},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err, tt.outcome); got != tt.want {
			t.Errorf("%s: ExitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestHintFor(t *testing.T) {
	t.Parallel()

	if hint := hintFor(&git.PushRejectedError{Remote: "origin"}); !strings.Contains(hint, "gitp sync") {
		t.Fatalf("push rejected hint = %q", hint)
	}
	if hint := hintFor(errors.New("other")); hint != "" {
		t.Fatalf("unexpected hint %q", hint)
	}
}

func TestAddCommitStatusList(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "a.txt", "hello\n")
	r.write(t, "dir/b.txt", "b\n")

	out := r.mustRun(t, "status")
	if !strings.Contains(out, "Untracked:") || !strings.Contains(out, "a.txt") {
		t.Fatalf("status =\n%s", out)
	}
	if out := r.mustRun(t, "add", "."); !strings.Contains(out, "+ a.txt") || !strings.Contains(out, "+ dir/b.txt") {
		t.Fatalf("add =\n%s", out)
	}
	out = r.mustRun(t, "commit", "initial", "import")
	if !strings.Contains(out, "[main ") || !strings.Contains(out, "] initial import") || !strings.Contains(out, "2 files changed") {
		t.Fatalf("commit =\n%s", out)
	}
	if out := r.mustRun(t); !strings.Contains(out, "working tree clean") {
		t.Fatalf("bare gitp =\n%s", out)
	}

	r.write(t, "a.txt", "hello\nworld\n")
	if out := r.mustRun(t, "diff"); !strings.Contains(out, "+world") {
		t.Fatalf("diff =\n%s", out)
	}
	r.mustRun(t, "commit", "-a", "feat: add world")
	out = r.mustRun(t, "list", "--short")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "* ") || !strings.HasSuffix(lines[0], "feat: add world (HEAD -> main)") {
		t.Fatalf("list =\n%s", out)
	}
	if out := r.mustRun(t, "list", "--short", "--grep", "WORLD"); strings.Count(out, "\n") != 1 {
		t.Fatalf("filtered list =\n%s", out)
	}
	if out := r.mustRun(t, "list"); !strings.Contains(out, "Author: Test <test@example.com>") {
		t.Fatalf("long list =\n%s", out)
	}

	if out, code := r.run(t, "", "commit", "nothing"); code != ExitError || !strings.Contains(out, syncer.ErrNothingToCommit.Error()) {
		t.Fatalf("empty commit exited %d:\n%s", code, out)
	}
}

func TestAddPatch(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", numbered(20, nil))
	r.mustRun(t, "add", "f")
	r.mustRun(t, "commit", "base")
	r.write(t, "f", numbered(20, map[int]string{1: "first", 20: "last"}))

	out, code := r.run(t, "y\nn\n", "add", "-p")
	if code != ExitOK {
		t.Fatalf("add -p exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Staged 1 hunk in 1 file, 1 hunk skipped") {
		t.Fatalf("add -p =\n%s", out)
	}
	staged := r.mustRun(t, "diff", "--staged")
	if !strings.Contains(staged, "+first") || strings.Contains(staged, "+last") {
		t.Fatalf("staged diff =\n%s", staged)
	}
	unstaged := r.mustRun(t, "diff")
	if !strings.Contains(unstaged, "+last") || strings.Contains(unstaged, "+first") {
		t.Fatalf("unstaged diff =\n%s", unstaged)
	}
}

func TestAddPatchAbort(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", "1\n")
	r.mustRun(t, "add", "f")
	r.mustRun(t, "commit", "base")
	r.write(t, "f", "2\n")

	out, code := r.run(t, "q\n", "add", "-p")
	if code != ExitAborted {
		t.Fatalf("add -p q exited %d:\n%s", code, out)
	}
	if staged := r.mustRun(t, "diff", "--staged"); staged != "" {
		t.Fatalf("aborted selection staged:\n%s", staged)
	}
}

func TestCheckoutPatchDiscards(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", numbered(20, nil))
	r.mustRun(t, "add", "f")
	r.mustRun(t, "commit", "base")
	r.write(t, "f", numbered(20, map[int]string{1: "first", 20: "last"}))

	out, code := r.run(t, "y\nn\n", "checkout", "-p")
	if code != ExitOK {
		t.Fatalf("checkout -p exited %d:\n%s", code, out)
	}
	if got, want := r.read(t, "f"), numbered(20, map[int]string{20: "last"}); got != want {
		t.Fatalf("f =\n%s\nwant\n%s", got, want)
	}
}

func TestBranchAndCheckout(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", "1\n")
	r.mustRun(t, "commit", "-a", "base")

	if out := r.mustRun(t, "branch", "topic"); !strings.Contains(out, "Switched to a new branch 'topic'") {
		t.Fatalf("branch =\n%s", out)
	}
	r.write(t, "f", "topic\n")
	r.mustRun(t, "commit", "-a", "on topic")

	if out := r.mustRun(t, "checkout", "main"); !strings.Contains(out, "Switched to branch 'main'") {
		t.Fatalf("checkout =\n%s", out)
	}
	if got := r.read(t, "f"); got != "1\n" {
		t.Fatalf("f = %q on main", got)
	}
	// The picker reads the choice by number when stdin is not a terminal.
	if out, code := r.run(t, "2\n", "checkout"); code != ExitOK || !strings.Contains(out, "Switched to branch 'topic'") {
		t.Fatalf("picker checkout exited %d:\n%s", code, out)
	}
	if out := r.mustRun(t, "checkout", "topic"); !strings.Contains(out, "Already on 'topic'") {
		t.Fatalf("checkout same =\n%s", out)
	}
}

func TestStashAndUnstash(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", "1\n")
	r.mustRun(t, "commit", "-a", "base")
	r.write(t, "f", "2\n")

	if out := r.mustRun(t, "stash", "wip"); !strings.Contains(out, "stash@{0}: On main: wip") {
		t.Fatalf("stash =\n%s", out)
	}
	if got := r.read(t, "f"); got != "1\n" {
		t.Fatalf("f = %q after stash", got)
	}
	if out := r.mustRun(t, "unstash"); !strings.Contains(out, "dropped stash@{0}") {
		t.Fatalf("unstash =\n%s", out)
	}
	if got := r.read(t, "f"); got != "2\n" {
		t.Fatalf("f = %q after unstash", got)
	}
}

func TestSyncUpToDate(t *testing.T) {
	r := newTestRepo(t)
	r.write(t, "f", "1\n")
	r.mustRun(t, "commit", "-a", "base")

	out := r.mustRun(t, "sync", "--no-push")
	if out != "Already up to date.\n" {
		t.Fatalf("sync =\n%s", out)
	}
	if out, code := r.run(t, "", "sync", "--continue"); code != ExitError || !strings.Contains(out, syncer.ErrNothingInProgress.Error()) {
		t.Fatalf("continue exited %d:\n%s", code, out)
	}
}

func TestFetchNetworkError(t *testing.T) {
	r := newTestRepo(t)
	r.tr.fetchFunc = func(context.Context, string, string) (git.FetchResult, error) {
		return git.FetchResult{}, fmt.Errorf("dial: %w", git.ErrNetwork)
	}
	out, code := r.run(t, "", "fetch")
	if code != ExitError || !strings.Contains(out, git.ErrNetwork.Error()) {
		t.Fatalf("fetch exited %d:\n%s", code, out)
	}
}

func TestVersionOutsideRepository(t *testing.T) {
	var out bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &bytes.Buffer{})
	if err := a.execute(context.Background(), []string{"-C", t.TempDir(), "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "gitp ") {
		t.Fatalf("version = %q", out.String())
	}
}

func TestCloneRefusesExistingDirectory(t *testing.T) {
	parent := t.TempDir()
	if err := os.Mkdir(filepath.Join(parent, "name"), 0o755); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &bytes.Buffer{})
	err := a.execute(context.Background(), []string{"-C", parent, "clone", "owner/name"})
	if !errors.Is(err, git.ErrDestinationExists) {
		t.Fatalf("clone: err = %v, want ErrDestinationExists", err)
	}
	if code := ExitCode(err, a.outcome); code != ExitError {
		t.Fatalf("exit code = %d, want %d", code, ExitError)
	}
}

func TestContinuation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		graph string
		want  string
	}{
		{"*", "|"},
		{"| * \\", "| |"},
		{"* /", "|"},
	}
	for _, tt := range tests {
		if got := continuation(tt.graph); got != tt.want {
			t.Errorf("continuation(%q) = %q, want %q", tt.graph, got, tt.want)
		}
	}
}
