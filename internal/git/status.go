package git

import (
	"context"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/gitp/internal/diff"
)

type StatusEntry struct {
	Path string
	Kind diff.ChangeKind
}

type Status struct {
	Head       Head
	Staged     []StatusEntry
	Unstaged   []StatusEntry
	Untracked  []string
	Conflicted []string
}

// HasStaged reports changes between HEAD and the index.
func (s Status) HasStaged() bool {
	return len(s.Staged) > 0
}

// Clean reports a working copy matching HEAD for tracked files.
func (s Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Conflicted) == 0
}

func (r *Repository) Status(ctx context.Context) (Status, error) {
	var st Status
	head, err := r.Head()
	if err != nil {
		return st, err
	}
	st.Head = head
	headFiles, err := r.FlattenCommit(head.Hash)
	if err != nil {
		return st, err
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return st, err
	}
	indexFiles := IndexFiles(idx)
	conflicted := map[string]struct{}{}
	for _, e := range idx.Entries {
		if e.Stage != StageNormal {
			conflicted[e.Name] = struct{}{}
		}
	}
	for path := range conflicted {
		st.Conflicted = append(st.Conflicted, path)
	}
	slices.Sort(st.Conflicted)

	worktree, err := r.WorktreeSource(true).Files(ctx)
	if err != nil {
		return st, err
	}
	var tracked, untracked []diff.File
	inIndex := make(map[string]struct{}, len(idx.Entries))
	for _, e := range idx.Entries {
		inIndex[e.Name] = struct{}{}
	}
	for _, f := range worktree {
		if _, ok := inIndex[f.Path]; ok {
			if _, c := conflicted[f.Path]; !c {
				tracked = append(tracked, f)
			}
			continue
		}
		untracked = append(untracked, f)
	}
	for _, f := range untracked {
		st.Untracked = append(st.Untracked, f.Path)
	}
	st.Staged = compareFiles(headFiles, indexFiles, conflicted)
	st.Unstaged = compareFiles(indexFiles, tracked, conflicted)
	return st, nil
}

// compareFiles lists path-level changes between two sorted file sets.
// Paths in skip are ignored.
func compareFiles(from, to []diff.File, skip map[string]struct{}) []StatusEntry {
	prev := make(map[string]diff.File, len(from))
	for _, f := range from {
		prev[f.Path] = f
	}
	var out []StatusEntry
	seen := make(map[string]struct{}, len(to))
	for _, f := range to {
		seen[f.Path] = struct{}{}
		p, ok := prev[f.Path]
		switch {
		case !ok:
			out = append(out, StatusEntry{Path: f.Path, Kind: diff.Added})
		case p.Hash != f.Hash || p.Mode != f.Mode:
			out = append(out, StatusEntry{Path: f.Path, Kind: diff.Modified})
		}
	}
	for _, f := range from {
		if _, ok := seen[f.Path]; ok {
			continue
		}
		if _, ok := skip[f.Path]; ok {
			continue
		}
		out = append(out, StatusEntry{Path: f.Path, Kind: diff.Deleted})
	}
	slices.SortFunc(out, func(a, b StatusEntry) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// WorktreeClean reports whether tracked files match HEAD, ignoring
// untracked files.
func (r *Repository) WorktreeClean(ctx context.Context) (bool, error) {
	st, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Clean(), nil
}

// HeadFiles returns HEAD's files and commit id; both are empty on an
// unborn branch.
func (r *Repository) HeadFiles() ([]diff.File, plumbing.Hash, error) {
	head, err := r.Head()
	if err != nil {
		return nil, plumbing.ZeroHash, err
	}
	files, err := r.FlattenCommit(head.Hash)
	return files, head.Hash, err
}
