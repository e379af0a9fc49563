package git

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// StashRef is the ref holding the newest stash; older ones live in its
// reflog.
const StashRef plumbing.ReferenceName = "refs/stash"

const stashLog = "logs/refs/stash"

var ErrNoStash = errors.New("no stash entries")

type StashEntry struct {
	Commit  plumbing.Hash
	Message string
}

type reflogLine struct {
	from, to plumbing.Hash
	who      string
	message  string
}

// Stashes lists stash entries, newest first.
func (r *Repository) Stashes() ([]StashEntry, error) {
	lines, err := r.readStashLog()
	if err != nil {
		return nil, err
	}
	out := make([]StashEntry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		out = append(out, StashEntry{Commit: lines[i].to, Message: lines[i].message})
	}
	return out, nil
}

// PushStash records commit as the newest stash entry.
func (r *Repository) PushStash(commit plumbing.Hash, message string, who object.Signature) error {
	lines, err := r.readStashLog()
	if err != nil {
		return err
	}
	prev := plumbing.ZeroHash
	if len(lines) > 0 {
		prev = lines[len(lines)-1].to
	}
	if err := r.CompareAndSwapRef(StashRef, prev, commit); err != nil {
		return err
	}
	lines = append(lines, reflogLine{from: prev, to: commit, who: formatReflogIdent(who), message: message})
	return r.writeStashLog(lines)
}

// DropStash removes the n-th newest stash entry.
func (r *Repository) DropStash(n int) error {
	lines, err := r.readStashLog()
	if err != nil {
		return err
	}
	if n < 0 || n >= len(lines) {
		return fmt.Errorf("stash@{%d}: %w", n, ErrNoStash)
	}
	pos := len(lines) - 1 - n
	current := lines[len(lines)-1].to
	lines = append(lines[:pos], lines[pos+1:]...)
	next := plumbing.ZeroHash
	if len(lines) > 0 {
		next = lines[len(lines)-1].to
	}
	if pos < len(lines) {
		// The entry after the dropped one now follows its predecessor.
		if pos == 0 {
			lines[pos].from = plumbing.ZeroHash
		} else {
			lines[pos].from = lines[pos-1].to
		}
	}
	if next != current {
		if err := r.CompareAndSwapRef(StashRef, current, next); err != nil {
			return err
		}
	}
	if len(lines) == 0 {
		return r.RemoveGitFile(stashLog)
	}
	return r.writeStashLog(lines)
}

func (r *Repository) readStashLog() ([]reflogLine, error) {
	data, err := r.ReadGitFile(stashLog)
	if err != nil {
		return nil, fmt.Errorf("read stash log: %w", err)
	}
	var lines []reflogLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		head, message, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		fields := strings.SplitN(head, " ", 3)
		if len(fields) < 3 {
			continue
		}
		lines = append(lines, reflogLine{
			from:    plumbing.NewHash(fields[0]),
			to:      plumbing.NewHash(fields[1]),
			who:     fields[2],
			message: message,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stash log: %w", err)
	}
	return lines, nil
}

func (r *Repository) writeStashLog(lines []reflogLine) error {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s %s\t%s\n", l.from, l.to, l.who, l.message)
	}
	return r.WriteGitFile(stashLog, []byte(b.String()))
}

func formatReflogIdent(sig object.Signature) string {
	when := sig.When
	if when.IsZero() {
		when = time.Now()
	}
	return fmt.Sprintf("%s <%s> %d %s", sig.Name, sig.Email, when.Unix(), when.Format("-0700"))
}
