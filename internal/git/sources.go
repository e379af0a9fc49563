package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/thiagokokada/gitp/internal/diff"
)

// BlobSource serves a fixed file list backed by blobs in the object store.
type BlobSource struct {
	repo  *Repository
	load  func() ([]diff.File, error)
	once  sync.Once
	files []diff.File
	err   error
}

func (s *BlobSource) Files(ctx context.Context) ([]diff.File, error) {
	s.once.Do(func() {
		s.files, s.err = s.load()
	})
	return s.files, s.err
}

func (s *BlobSource) Read(_ context.Context, f diff.File) ([]byte, error) {
	return s.repo.ReadBlob(f.Hash)
}

// CommitSource views a commit's tree. The zero hash is an empty tree.
func (r *Repository) CommitSource(commit plumbing.Hash) *BlobSource {
	return &BlobSource{repo: r, load: func() ([]diff.File, error) {
		return r.FlattenCommit(commit)
	}}
}

// FilesSource views an explicit list of blob-backed files.
func (r *Repository) FilesSource(files []diff.File) *BlobSource {
	return &BlobSource{repo: r, load: func() ([]diff.File, error) {
		return files, nil
	}}
}

// IndexSource views the stage-0 entries of the index as it is on disk
// when Files is first called.
func (r *Repository) IndexSource() *BlobSource {
	return &BlobSource{repo: r, load: func() ([]diff.File, error) {
		idx, err := r.ReadIndex()
		if err != nil {
			return nil, err
		}
		return IndexFiles(idx), nil
	}}
}

func (r *Repository) ReadIndex() (*index.Index, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return idx, nil
}

// StageNormal marks an entry without conflicts. go-git's index.Merged
// constant is 1, which is the base stage of a conflict.
const StageNormal index.Stage = 0

// IndexFiles returns the stage-0 entries of idx sorted by path.
func IndexFiles(idx *index.Index) []diff.File {
	files := make([]diff.File, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		if e.Stage != StageNormal {
			continue
		}
		files = append(files, diff.File{Path: e.Name, Mode: e.Mode, Hash: e.Hash})
	}
	slices.SortFunc(files, func(a, b diff.File) int { return strings.Compare(a.Path, b.Path) })
	return files
}

// WorktreeSource views files on disk. Tracked files are always included;
// untracked ones only when IncludeUntracked is set and .gitignore does not
// exclude them.
type WorktreeSource struct {
	repo             *Repository
	IncludeUntracked bool

	once  sync.Once
	files []diff.File
	err   error
}

func (r *Repository) WorktreeSource(includeUntracked bool) *WorktreeSource {
	return &WorktreeSource{repo: r, IncludeUntracked: includeUntracked}
}

func (s *WorktreeSource) Files(ctx context.Context) ([]diff.File, error) {
	s.once.Do(func() {
		s.files, s.err = s.repo.scanWorktree(ctx, s.IncludeUntracked)
	})
	return s.files, s.err
}

func (s *WorktreeSource) Read(_ context.Context, f diff.File) ([]byte, error) {
	if f.Mode == filemode.Submodule {
		return nil, nil
	}
	return s.repo.ReadWorktreeFile(f.Path)
}

func (r *Repository) ignoreMatcher() gitignore.Matcher {
	root := osfs.New(r.repo.path)
	patterns, err := gitignore.ReadPatterns(root, nil)
	if err != nil {
		patterns = nil
	}
	if global, err := gitignore.LoadGlobalPatterns(osfs.New("/")); err == nil {
		patterns = append(global, patterns...)
	}
	return gitignore.NewMatcher(patterns)
}

func (r *Repository) scanWorktree(ctx context.Context, includeUntracked bool) ([]diff.File, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]*index.Entry, len(idx.Entries))
	trackedDirs := map[string]struct{}{}
	for _, e := range idx.Entries {
		tracked[e.Name] = e
		for dir := filepath.Dir(filepath.FromSlash(e.Name)); dir != "."; dir = filepath.Dir(dir) {
			trackedDirs[filepath.ToSlash(dir)] = struct{}{}
		}
	}
	// Entries modified at or after the index was written are racily clean
	// and always rehashed.
	var indexTime time.Time
	if info, err := os.Stat(r.GitPath("index")); err == nil {
		indexTime = info.ModTime()
	}
	matcher := r.ignoreMatcher()
	var files []diff.File
	root := r.repo.path
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		parts := strings.Split(rel, "/")
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if e, ok := tracked[rel]; ok && e.Mode == filemode.Submodule {
				return filepath.SkipDir
			}
			if _, ok := trackedDirs[rel]; ok {
				return nil
			}
			if !includeUntracked || matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			if _, err := os.Lstat(filepath.Join(p, ".git")); err == nil {
				return filepath.SkipDir
			}
			return nil
		}
		entry, isTracked := tracked[rel]
		if !isTracked && (!includeUntracked || matcher.Match(parts, false)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode, ok := worktreeMode(info)
		if !ok {
			return nil
		}
		if isTracked && entry.Stage == StageNormal && entry.Mode == mode && statMatches(entry, info, indexTime) {
			files = append(files, diff.File{Path: rel, Mode: mode, Hash: entry.Hash})
			return nil
		}
		data, err := r.ReadWorktreeFile(rel)
		if err != nil {
			return err
		}
		files = append(files, diff.File{
			Path: rel,
			Mode: mode,
			Hash: plumbing.ComputeHash(plumbing.BlobObject, data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan working copy: %w", err)
	}
	// Submodules are reported as recorded in the index.
	for _, e := range idx.Entries {
		if e.Mode == filemode.Submodule && e.Stage == StageNormal {
			files = append(files, diff.File{Path: e.Name, Mode: e.Mode, Hash: e.Hash})
		}
	}
	slices.SortFunc(files, func(a, b diff.File) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func worktreeMode(info fs.FileInfo) (filemode.FileMode, bool) {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return filemode.Symlink, true
	case info.Mode().IsRegular():
		if info.Mode()&0o111 != 0 {
			return filemode.Executable, true
		}
		return filemode.Regular, true
	default:
		return filemode.Empty, false
	}
}

func statMatches(e *index.Entry, info fs.FileInfo, indexTime time.Time) bool {
	return e.Size == uint32(info.Size()) &&
		e.ModifiedAt.Equal(info.ModTime()) &&
		info.ModTime().Before(indexTime)
}

// ReadWorktreeFile reads a file, or a symlink's target, from the working
// copy.
func (r *Repository) ReadWorktreeFile(rel string) ([]byte, error) {
	p := r.WorktreePath(rel)
	info, err := os.Lstat(p)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return nil, err
		}
		return []byte(filepath.ToSlash(target)), nil
	}
	return os.ReadFile(p)
}

// StatWorktreeFile returns the file info of a working copy path, or nil if
// it does not exist.
func (r *Repository) StatWorktreeFile(rel string) (fs.FileInfo, error) {
	info, err := os.Lstat(r.WorktreePath(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return info, err
}
