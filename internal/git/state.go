package git

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	mergeHeadFile = "MERGE_HEAD"
	mergeMsgFile  = "MERGE_MSG"
	origHeadFile  = "ORIG_HEAD"
	rebaseDir     = "rebase-merge"
)

// MergeState is an in-progress merge recorded in MERGE_HEAD and MERGE_MSG.
type MergeState struct {
	Head    plumbing.Hash
	Message string
}

// MergeState returns the in-progress merge, or nil when there is none.
func (r *Repository) MergeState() (*MergeState, error) {
	data, err := r.ReadGitFile(mergeHeadFile)
	if err != nil || data == nil {
		return nil, err
	}
	head := plumbing.NewHash(strings.TrimSpace(firstLine(data)))
	if head.IsZero() {
		return nil, fmt.Errorf("malformed %s", mergeHeadFile)
	}
	msg, err := r.ReadGitFile(mergeMsgFile)
	if err != nil {
		return nil, err
	}
	return &MergeState{Head: head, Message: string(msg)}, nil
}

func (r *Repository) WriteMergeState(st MergeState) error {
	if err := r.WriteGitFile(mergeMsgFile, []byte(st.Message)); err != nil {
		return err
	}
	return r.WriteGitFile(mergeHeadFile, []byte(st.Head.String()+"\n"))
}

func (r *Repository) ClearMergeState() error {
	return errors.Join(r.RemoveGitFile(mergeHeadFile), r.RemoveGitFile(mergeMsgFile))
}

func (r *Repository) OrigHead() (plumbing.Hash, error) {
	data, err := r.ReadGitFile(origHeadFile)
	if err != nil || data == nil {
		return plumbing.ZeroHash, err
	}
	return plumbing.NewHash(strings.TrimSpace(firstLine(data))), nil
}

func (r *Repository) SetOrigHead(hash plumbing.Hash) error {
	return r.WriteGitFile(origHeadFile, []byte(hash.String()+"\n"))
}

// RebaseState is a stopped rebase, stored in the rebase-merge directory the
// way git lays it out.
type RebaseState struct {
	HeadName plumbing.ReferenceName
	Onto     plumbing.Hash
	OrigHead plumbing.Hash
	Stopped  plumbing.Hash
	Todo     []plumbing.Hash
}

// RebaseState returns the stopped rebase, or nil when there is none.
func (r *Repository) RebaseState() (*RebaseState, error) {
	if _, err := os.Stat(r.GitPath(rebaseDir)); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	read := func(name string) (string, error) {
		data, err := r.ReadGitFile(rebaseDir + "/" + name)
		return strings.TrimSpace(string(data)), err
	}
	var st RebaseState
	headName, err := read("head-name")
	if err != nil {
		return nil, err
	}
	st.HeadName = plumbing.ReferenceName(headName)
	for name, dst := range map[string]*plumbing.Hash{"onto": &st.Onto, "orig-head": &st.OrigHead, "stopped-sha": &st.Stopped} {
		v, err := read(name)
		if err != nil {
			return nil, err
		}
		*dst = plumbing.NewHash(v)
	}
	todo, err := r.ReadGitFile(rebaseDir + "/git-rebase-todo")
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(todo))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "pick" {
			st.Todo = append(st.Todo, plumbing.NewHash(fields[1]))
		}
	}
	return &st, scanner.Err()
}

func (r *Repository) WriteRebaseState(st RebaseState) error {
	if err := os.MkdirAll(r.GitPath(rebaseDir), 0o755); err != nil {
		return err
	}
	var todo strings.Builder
	for _, h := range st.Todo {
		fmt.Fprintf(&todo, "pick %s\n", h)
	}
	files := map[string]string{
		"head-name":       st.HeadName.String() + "\n",
		"onto":            st.Onto.String() + "\n",
		"orig-head":       st.OrigHead.String() + "\n",
		"stopped-sha":     st.Stopped.String() + "\n",
		"git-rebase-todo": todo.String(),
	}
	for name, content := range files {
		if err := r.WriteGitFile(rebaseDir+"/"+name, []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ClearRebaseState() error {
	return os.RemoveAll(r.GitPath(rebaseDir))
}

func firstLine(data []byte) string {
	line, _, _ := strings.Cut(string(data), "\n")
	return line
}
