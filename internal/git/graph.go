package git

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// MergeBase returns the best common ancestor of a and b, or the zero hash
// when the histories are unrelated.
func (r *Repository) MergeBase(a, b plumbing.Hash) (plumbing.Hash, error) {
	ca, err := r.Commit(a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	cb, err := r.Commit(b)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("merge base: %w", err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, nil
	}
	// Several best ancestors are possible with criss-cross merges; pick
	// deterministically.
	slices.SortFunc(bases, func(x, y *object.Commit) int {
		return x.Committer.When.Compare(y.Committer.When)
	})
	return bases[len(bases)-1].Hash, nil
}

// IsAncestor reports whether ancestor is reachable from descendant. A
// commit is its own ancestor.
func (r *Repository) IsAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if ancestor.IsZero() {
		return true, nil
	}
	if descendant.IsZero() {
		return false, nil
	}
	ca, err := r.Commit(ancestor)
	if err != nil {
		return false, err
	}
	cd, err := r.Commit(descendant)
	if err != nil {
		return false, err
	}
	return ca.IsAncestor(cd)
}

func (r *Repository) reachable(from plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	seen := map[plumbing.Hash]struct{}{}
	if from.IsZero() {
		return seen, nil
	}
	c, err := r.Commit(from)
	if err != nil {
		return nil, err
	}
	iter := object.NewCommitPreorderIter(c, nil, nil)
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		seen[c.Hash] = struct{}{}
		return nil
	})
	return seen, err
}

// AheadBehind counts commits reachable only from local and only from
// remote.
func (r *Repository) AheadBehind(local, remote plumbing.Hash) (ahead, behind int, err error) {
	if local == remote {
		return 0, 0, nil
	}
	fromLocal, err := r.reachable(local)
	if err != nil {
		return 0, 0, err
	}
	fromRemote, err := r.reachable(remote)
	if err != nil {
		return 0, 0, err
	}
	for h := range fromLocal {
		if _, ok := fromRemote[h]; !ok {
			ahead++
		}
	}
	for h := range fromRemote {
		if _, ok := fromLocal[h]; !ok {
			behind++
		}
	}
	return ahead, behind, nil
}

// FirstParentChain lists the commits from tip back along first parents
// until a commit reachable from upstream, oldest first.
func (r *Repository) FirstParentChain(tip, upstream plumbing.Hash) ([]*object.Commit, error) {
	exclude, err := r.reachable(upstream)
	if err != nil {
		return nil, err
	}
	var chain []*object.Commit
	cur := tip
	for !cur.IsZero() {
		if _, ok := exclude[cur]; ok {
			break
		}
		c, err := r.Commit(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		if c.NumParents() == 0 {
			break
		}
		cur = c.ParentHashes[0]
	}
	slices.Reverse(chain)
	return chain, nil
}

// Log iterates commits from a tip in committer time order, stopping after
// limit commits when limit is positive.
func (r *Repository) Log(from plumbing.Hash, limit int, fn func(*object.Commit) error) error {
	c, err := r.Commit(from)
	if err != nil {
		return err
	}
	iter := object.NewCommitIterCTime(c, nil, nil)
	defer iter.Close()
	n := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && n >= limit {
			return storer.ErrStop
		}
		n++
		return fn(c)
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
