package git

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"
)

// Head describes what HEAD points at. Hash is zero on an unborn branch.
type Head struct {
	Branch   plumbing.ReferenceName
	Hash     plumbing.Hash
	Detached bool
}

// Name returns the short branch name, or "HEAD" when detached.
func (h Head) Name() string {
	if h.Detached || h.Branch == "" {
		return "HEAD"
	}
	return h.Branch.Short()
}

func (r *Repository) Head() (Head, error) {
	ref, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return Head{}, fmt.Errorf("read HEAD: %w", err)
	}
	if ref.Type() == plumbing.HashReference {
		return Head{Hash: ref.Hash(), Detached: true}, nil
	}
	head := Head{Branch: ref.Target()}
	hash, err := r.ReadRef(ref.Target())
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Head{}, err
	}
	head.Hash = hash
	return head, nil
}

// ReadRef resolves a reference to a hash. Missing references return the
// zero hash and an error wrapping plumbing.ErrReferenceNotFound.
func (r *Repository) ReadRef(name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := r.repo.Reference(name, true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read %s: %w", name, err)
	}
	return ref.Hash(), nil
}

// RefExists reports whether a reference resolves.
func (r *Repository) RefExists(name plumbing.ReferenceName) bool {
	_, err := r.ReadRef(name)
	return err == nil
}

// CompareAndSwapRef moves name from expected to next. A zero expected means
// the reference must not exist; a zero next deletes it.
func (r *Repository) CompareAndSwapRef(name plumbing.ReferenceName, expected, next plumbing.Hash) error {
	current, err := r.repo.Storer.Reference(name)
	exists := err == nil
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("read %s: %w", name, err)
	}
	mismatch := func() error {
		got := plumbing.ZeroHash
		if exists {
			got = current.Hash()
		}
		slog.Debug("ref CAS mismatch",
			slog.String("ref", name.String()),
			slog.String("expected", expected.String()),
			slog.String("current", got.String()),
		)
		return fmt.Errorf("update %s: %w", name.Short(), ErrRefConcurrentlyModified)
	}
	switch {
	case expected.IsZero() && exists:
		return mismatch()
	case !expected.IsZero() && (!exists || current.Hash() != expected):
		return mismatch()
	case next.IsZero():
		if err := r.repo.Storer.RemoveReference(name); err != nil {
			return fmt.Errorf("delete %s: %w", name.Short(), err)
		}
		return nil
	}
	newRef := plumbing.NewHashReference(name, next)
	var oldRef *plumbing.Reference
	if exists {
		oldRef = plumbing.NewHashReference(name, expected)
	}
	if err := r.repo.Storer.CheckAndSetReference(newRef, oldRef); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return mismatch()
		}
		return fmt.Errorf("update %s: %w", name.Short(), err)
	}
	slog.Debug("ref updated",
		slog.String("ref", name.String()),
		slog.String("from", expected.String()),
		slog.String("to", next.String()),
	)
	return nil
}

// SetHeadBranch points HEAD at a branch symbolically.
func (r *Repository) SetHeadBranch(branch plumbing.ReferenceName) error {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, branch)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("switch HEAD to %s: %w", branch.Short(), err)
	}
	return nil
}

// DetachHead points HEAD directly at a commit.
func (r *Repository) DetachHead(hash plumbing.Hash) error {
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hash)); err != nil {
		return fmt.Errorf("detach HEAD: %w", err)
	}
	return nil
}

// LocalBranches returns the sorted local branch names.
func (r *Repository) LocalBranches() ([]string, error) {
	refs, err := r.repo.Branches()
	if err != nil {
		return nil, err
	}
	defer refs.Close()
	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if name := strings.TrimSpace(ref.Name().Short()); name != "" {
			branches = append(branches, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(branches)
	return slices.Compact(branches), nil
}

// BranchLabels maps commit ids to the branch and tag names pointing at them,
// with the HEAD label first.
func (r *Repository) BranchLabels() (map[plumbing.Hash][]string, error) {
	labels := map[plumbing.Hash][]string{}
	refs, err := r.repo.References()
	if err != nil {
		return nil, err
	}
	defer refs.Close()
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		short := name.Short()
		switch {
		case name.IsBranch():
		case name.IsRemote():
			if strings.HasSuffix(short, "/HEAD") {
				return nil
			}
		case name.IsTag():
			hash, ok := r.peelTag(ref.Hash())
			if !ok {
				return nil
			}
			labels[hash] = append(labels[hash], "tag: "+short)
			return nil
		default:
			return nil
		}
		labels[ref.Hash()] = append(labels[ref.Hash()], short)
		return nil
	})
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if err == nil && !head.Hash.IsZero() {
		label := "HEAD"
		rest := labels[head.Hash]
		if !head.Detached {
			label = "HEAD -> " + head.Name()
			rest = slices.DeleteFunc(rest, func(s string) bool { return s == head.Name() })
		}
		labels[head.Hash] = append([]string{label}, rest...)
	}
	return labels, nil
}

func (r *Repository) peelTag(hash plumbing.Hash) (plumbing.Hash, bool) {
	// Lightweight tags point directly at a commit; annotated tags point at a tag object.
	if _, err := r.repo.CommitObject(hash); err == nil {
		return hash, true
	}
	cur := hash
	for range 8 {
		tag, err := r.repo.TagObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		switch tag.TargetType {
		case plumbing.CommitObject:
			return tag.Target, true
		case plumbing.TagObject:
			cur = tag.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}

// RemoteTrackingRef names refs/remotes/<remote>/<branch>.
func RemoteTrackingRef(remote, branch string) plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(remote, branch)
}
