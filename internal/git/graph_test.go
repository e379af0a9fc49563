package git

import (
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestMergeBaseAndAheadBehind(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"f": "1\n"})
	b := commitFiles(t, r, "b", map[string]string{"f": "2\n"}, a)
	c := commitFiles(t, r, "c", map[string]string{"g": "1\n"}, a)
	d := commitFiles(t, r, "d", map[string]string{"g": "2\n"}, c)

	base, err := r.MergeBase(b, d)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if base != a {
		t.Fatalf("MergeBase = %s, want %s", base, a)
	}
	ahead, behind, err := r.AheadBehind(b, d)
	if err != nil {
		t.Fatalf("AheadBehind: %v", err)
	}
	if ahead != 1 || behind != 2 {
		t.Fatalf("ahead/behind = %d/%d, want 1/2", ahead, behind)
	}

	tests := []struct {
		name                 string
		ancestor, descendant plumbing.Hash
		want                 bool
	}{
		{"parent", a, b, true},
		{"self", b, b, true},
		{"sibling", b, d, false},
		{"reverse", d, a, false},
		{"zero ancestor", plumbing.ZeroHash, d, true},
	}
	for _, tt := range tests {
		got, err := r.IsAncestor(tt.ancestor, tt.descendant)
		if err != nil {
			t.Fatalf("%s: IsAncestor: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: IsAncestor = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMergeBaseUnrelated(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", map[string]string{"f": "1\n"})
	b := commitFiles(t, r, "b", map[string]string{"g": "1\n"})
	base, err := r.MergeBase(a, b)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if !base.IsZero() {
		t.Fatalf("MergeBase = %s, want zero", base)
	}
}

func TestFirstParentChain(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "a", nil)
	b := commitFiles(t, r, "b", map[string]string{"b": "b\n"}, a)
	c := commitFiles(t, r, "c", map[string]string{"c": "c\n"}, b)
	up := commitFiles(t, r, "up", map[string]string{"u": "u\n"}, a)

	chain, err := r.FirstParentChain(c, up)
	if err != nil {
		t.Fatalf("FirstParentChain: %v", err)
	}
	if len(chain) != 2 || chain[0].Hash != b || chain[1].Hash != c {
		t.Fatalf("chain = %v, want [b c]", chain)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a := commitFiles(t, r, "first", nil)
	b := commitFiles(t, r, "second\n\nbody", map[string]string{"f": "x\n"}, a)
	if err := r.CompareAndSwapRef(plumbing.NewBranchReferenceName("main"), plumbing.ZeroHash, b); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	entries, err := r.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Commit.Hash != b || !strings.HasSuffix(entries[0].Summary, "second") {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if len(entries[0].Labels) != 1 || entries[0].Labels[0] != "HEAD -> main" {
		t.Fatalf("labels = %v", entries[0].Labels)
	}
	limited, err := r.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(limited) = %d, want 1", len(limited))
	}
}

func TestFormatCommitHeader(t *testing.T) {
	t.Parallel()

	ts := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)
	commit := &object.Commit{
		Hash:      plumbing.NewHash("1234567890abcdef1234567890abcdef12345678"),
		Author:    object.Signature{Name: "Alice", Email: "alice@example.com", When: ts},
		Committer: object.Signature{Name: "Alice", Email: "alice@example.com", When: ts},
		Message:   "Subject line\n\nBody line",
	}
	got := FormatCommitHeader(commit)
	for _, want := range []string{
		"commit 1234567890abcdef1234567890abcdef12345678",
		"Author: Alice <alice@example.com>  2023-07-01 12:00:00 +0000",
		"    Subject line\n\n    Body line\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("header missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Commit:") || strings.Contains(got, "Merge:") {
		t.Fatalf("unexpected lines:\n%s", got)
	}
}

func TestGraphBuilderLine(t *testing.T) {
	t.Parallel()

	h := func(c byte) plumbing.Hash {
		return plumbing.NewHash(strings.Repeat(string(c), 40))
	}
	m, a, b, base := h('1'), h('a'), h('b'), h('c')

	builder := newGraphBuilder()
	steps := []struct {
		commit *object.Commit
		want   string
	}{
		{&object.Commit{Hash: m, ParentHashes: []plumbing.Hash{a, b}}, "* \\"},
		{&object.Commit{Hash: a, ParentHashes: []plumbing.Hash{base}}, "* |"},
		{&object.Commit{Hash: b, ParentHashes: []plumbing.Hash{base}}, "| *"},
		{&object.Commit{Hash: base}, "* /"},
	}
	for i, step := range steps {
		if got := builder.Line(step.commit); got != step.want {
			t.Fatalf("step %d: line = %q, want %q", i, got, step.want)
		}
	}
	if len(builder.lanes) != 0 {
		t.Fatalf("lanes left open: %v", builder.lanes)
	}
}

func TestFilterLog(t *testing.T) {
	t.Parallel()

	entry := func(msg, author string, labels ...string) *LogEntry {
		c := &object.Commit{
			Hash:    plumbing.ComputeHash(plumbing.CommitObject, []byte(msg)),
			Author:  object.Signature{Name: author, Email: strings.ToLower(author) + "@example.com"},
			Message: msg,
		}
		return &LogEntry{Commit: c, Labels: labels}
	}
	entries := []*LogEntry{
		entry("fix: parser crash\n", "Ada"),
		entry("feat: sync command\n", "Linus", "HEAD -> main"),
		entry("docs: readme\n", "Grace", "tag: v1.0"),
	}
	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"  ", 3},
		{"SYNC", 1},
		{"grace@", 1},
		{"v1.0", 1},
		{entries[0].Commit.Hash.String()[:7], 1},
		{":", 3},
		{"nothing", 0},
	}
	for _, tt := range tests {
		if got := FilterLog(entries, tt.query); len(got) != tt.want {
			t.Errorf("FilterLog(%q) kept %d entries, want %d", tt.query, len(got), tt.want)
		}
	}
}
