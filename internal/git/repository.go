package git

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
	lru "github.com/hashicorp/golang-lru/v2"
)

const blobCacheSize = 512

// Repository is the explicit handle every component goes through to reach
// objects, refs, config and the working copy.
type Repository struct {
	// mu guards settings, loaded lazily.
	mu sync.Mutex

	repo     repoState
	blobs    *lru.Cache[plumbing.Hash, []byte]
	settings *Settings
}

type repoState struct {
	*gitlib.Repository
	path   string
	gitDir string
}

// Open opens the repository containing repoPath.
func Open(repoPath string) (*Repository, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return newRepository(repo)
}

// Init creates a repository at path with an initial branch.
func Init(path string, branch string) (*Repository, error) {
	if branch == "" {
		branch = "main"
	}
	repo, err := gitlib.PlainInitWithOptions(path, &gitlib.PlainInitOptions{
		InitOptions: gitlib.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return newRepository(repo)
}

func newRepository(repo *gitlib.Repository) (*Repository, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("bare repositories are not supported: %w", err)
	}
	fs, ok := repo.Storer.(*filesystem.Storage)
	if !ok {
		return nil, errors.New("repository storage is not on disk")
	}
	blobs, err := lru.New[plumbing.Hash, []byte](blobCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		repo: repoState{
			Repository: repo,
			path:       wt.Filesystem.Root(),
			gitDir:     fs.Filesystem().Root(),
		},
		blobs: blobs,
	}
	slog.Debug("repository opened",
		slog.String("path", r.repo.path),
		slog.String("git_dir", r.repo.gitDir),
	)
	return r, nil
}

func (r *Repository) Path() string {
	return r.repo.path
}

func (r *Repository) GitDir() string {
	return r.repo.gitDir
}

// Storer exposes the object and reference storage.
func (r *Repository) Storer() storer.Storer {
	return r.repo.Storer
}

// Lib returns the underlying go-git handle.
func (r *Repository) Lib() *gitlib.Repository {
	return r.repo.Repository
}

func (r *Repository) WorktreePath(rel string) string {
	return filepath.Join(r.repo.path, filepath.FromSlash(rel))
}

func (r *Repository) GitPath(name string) string {
	return filepath.Join(r.repo.gitDir, name)
}

// ReadGitFile returns the content of a file in the git directory, or nil
// when it does not exist.
func (r *Repository) ReadGitFile(name string) ([]byte, error) {
	data, err := os.ReadFile(r.GitPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (r *Repository) WriteGitFile(name string, data []byte) error {
	return writeFileAtomic(r.GitPath(name), data, 0o644)
}

func (r *Repository) RemoveGitFile(name string) error {
	err := os.Remove(r.GitPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (r *Repository) Commit(hash plumbing.Hash) (*object.Commit, error) {
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", shortHash(hash), err)
	}
	return c, nil
}

// ResolveRevision resolves a branch, remote branch, tag or hash.
func (r *Repository) ResolveRevision(rev string) (plumbing.Hash, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", rev, err)
	}
	return *h, nil
}

// writeFileAtomic writes data to a temporary sibling and renames it over
// path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.Sync(); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}
