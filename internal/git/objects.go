package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/gitp/internal/diff"
)

// ReadBlob returns the content of a blob. Results are cached; callers must
// not modify the returned slice.
func (r *Repository) ReadBlob(hash plumbing.Hash) ([]byte, error) {
	if hash.IsZero() {
		return nil, nil
	}
	if data, ok := r.blobs.Get(hash); ok {
		return data, nil
	}
	blob, err := r.repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", shortHash(hash), err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", shortHash(hash), err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", shortHash(hash), err)
	}
	r.blobs.Add(hash, data)
	return data, nil
}

// WriteBlob stores data as a blob and returns its id.
func (r *Repository) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		return plumbing.ZeroHash, errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	r.blobs.Add(hash, bytes.Clone(data))
	return hash, nil
}

// CommitTree returns the root tree id of a commit, or the zero hash for the
// zero commit.
func (r *Repository) CommitTree(commit plumbing.Hash) (plumbing.Hash, error) {
	if commit.IsZero() {
		return plumbing.ZeroHash, nil
	}
	c, err := r.Commit(commit)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return c.TreeHash, nil
}

// FlattenTree lists every blob reachable from a tree, sorted by path.
func (r *Repository) FlattenTree(tree plumbing.Hash) ([]diff.File, error) {
	if tree.IsZero() {
		return nil, nil
	}
	t, err := r.repo.TreeObject(tree)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", shortHash(tree), err)
	}
	var files []diff.File
	walker := object.NewTreeWalker(t, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree %s: %w", shortHash(tree), err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		files = append(files, diff.File{Path: name, Mode: entry.Mode, Hash: entry.Hash})
	}
	slices.SortFunc(files, func(a, b diff.File) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

// FlattenCommit lists the files of a commit's tree.
func (r *Repository) FlattenCommit(commit plumbing.Hash) ([]diff.File, error) {
	tree, err := r.CommitTree(commit)
	if err != nil {
		return nil, err
	}
	return r.FlattenTree(tree)
}

type treeNode struct {
	files    []object.TreeEntry
	children map[string]*treeNode
}

// BuildTree writes the nested trees for a flat file list and returns the
// root tree id.
func (r *Repository) BuildTree(files []diff.File) (plumbing.Hash, error) {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, f := range files {
		dir, name := path.Split(f.Path)
		node := root
		if dir != "" {
			for part := range strings.SplitSeq(strings.TrimSuffix(dir, "/"), "/") {
				child, ok := node.children[part]
				if !ok {
					child = &treeNode{children: map[string]*treeNode{}}
					node.children[part] = child
				}
				node = child
			}
		}
		node.files = append(node.files, object.TreeEntry{Name: name, Mode: f.Mode, Hash: f.Hash})
	}
	return r.writeTree(root)
}

func (r *Repository) writeTree(node *treeNode) (plumbing.Hash, error) {
	entries := slices.Clone(node.files)
	for name, child := range node.children {
		hash, err := r.writeTree(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	// Git orders tree entries as if directory names ended with a slash.
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})
	tree := &object.Tree{Entries: entries}
	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write tree: %w", err)
	}
	return hash, nil
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// Signer produces a detached signature over a commit payload.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

type CommitRequest struct {
	Tree      plumbing.Hash
	Parents   []plumbing.Hash
	Message   string
	Author    object.Signature
	Committer object.Signature
	Signer    Signer
}

// WriteCommit stores a commit object, signing it when a signer is given.
func (r *Repository) WriteCommit(ctx context.Context, req CommitRequest) (plumbing.Hash, error) {
	if req.Committer.Name == "" && req.Committer.Email == "" {
		req.Committer = req.Author
	}
	message := req.Message
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	commit := &object.Commit{
		Author:       req.Author,
		Committer:    req.Committer,
		Message:      message,
		TreeHash:     req.Tree,
		ParentHashes: req.Parents,
	}
	if req.Signer != nil {
		payload := r.repo.Storer.NewEncodedObject()
		if err := commit.EncodeWithoutSignature(payload); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
		}
		rd, err := payload.Reader()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		data, err := io.ReadAll(rd)
		rd.Close()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		sig, err := req.Signer.Sign(ctx, data)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("sign commit: %w", err)
		}
		commit.PGPSignature = string(sig)
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write commit: %w", err)
	}
	return hash, nil
}
