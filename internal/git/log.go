package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// LogEntry is one commit of `gitp list`.
type LogEntry struct {
	Commit  *object.Commit
	Summary string
	Graph   string
	Labels  []string
}

// History returns up to limit commits reachable from HEAD, newest first,
// each with its lane graph prefix and the refs pointing at it.
func (r *Repository) History(limit int) ([]*LogEntry, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	if head.Hash.IsZero() {
		return nil, nil
	}
	labels, err := r.BranchLabels()
	if err != nil {
		return nil, err
	}
	graph := newGraphBuilder()
	var entries []*LogEntry
	err = r.Log(head.Hash, limit, func(c *object.Commit) error {
		entries = append(entries, &LogEntry{
			Commit:  c,
			Summary: formatSummary(c),
			Graph:   graph.Line(c),
			Labels:  labels[c.Hash],
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// FilterLog keeps the entries whose hash, author, message or labels
// contain query, ignoring case. An empty query keeps everything.
func FilterLog(entries []*LogEntry, query string) []*LogEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	var out []*LogEntry
	for _, e := range entries {
		if strings.Contains(e.searchText(), q) {
			out = append(out, e)
		}
	}
	return out
}

func (e *LogEntry) searchText() string {
	c := e.Commit
	parts := []string{c.Hash.String(), c.Author.Name, c.Author.Email, c.Message}
	parts = append(parts, e.Labels...)
	return strings.ToLower(strings.Join(parts, "\n"))
}

// FormatCommitHeader renders a commit the way `git show` prints its header.
func FormatCommitHeader(c *object.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\n", c.Hash)
	if len(c.ParentHashes) > 1 {
		b.WriteString("Merge:")
		for _, p := range c.ParentHashes {
			fmt.Fprintf(&b, " %s", shortHash(p))
		}
		b.WriteByte('\n')
	}
	writeSignature(&b, "Author", c.Author)
	if c.Committer.Name != c.Author.Name || c.Committer.Email != c.Author.Email {
		writeSignature(&b, "Commit", c.Committer)
	}
	if c.PGPSignature != "" {
		b.WriteString("Signed: yes\n")
	}
	b.WriteByte('\n')
	message := strings.TrimRight(c.Message, "\n")
	if message == "" {
		b.WriteString("    (no commit message)\n")
		return b.String()
	}
	for line := range strings.SplitSeq(message, "\n") {
		if line == "" {
			b.WriteByte('\n')
			continue
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return b.String()
}

func writeSignature(b *strings.Builder, label string, sig object.Signature) {
	fmt.Fprintf(b, "%s: %s <%s>", label, sig.Name, sig.Email)
	if !sig.When.IsZero() {
		fmt.Fprintf(b, "  %s", sig.When.Format("2006-01-02 15:04:05 -0700"))
	}
	b.WriteByte('\n')
}

func formatSummary(c *object.Commit) string {
	subject := strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
	if len(subject) > 72 {
		subject = subject[:69] + "..."
	}
	return fmt.Sprintf("%s  %s  %s", shortHash(c.Hash), c.Committer.When.Format("2006-01-02 15:04"), subject)
}

// graphBuilder tracks the open lanes while walking commits newest first.
type graphBuilder struct {
	lanes []plumbing.Hash
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{}
}

// Line returns the lane prefix for c and advances the lanes to its parents.
func (g *graphBuilder) Line(c *object.Commit) string {
	idx := g.lane(c.Hash)
	if idx == -1 {
		g.lanes = append([]plumbing.Hash{c.Hash}, g.lanes...)
		idx = 0
	}
	cells := make([]string, len(g.lanes))
	for i := range g.lanes {
		cells[i] = "|"
	}
	cells[idx] = "*"
	// Lanes already waiting for this commit collapse into idx.
	for i := len(g.lanes) - 1; i > idx; i-- {
		if g.lanes[i] == c.Hash {
			cells[i] = "/"
			g.lanes = append(g.lanes[:i], g.lanes[i+1:]...)
		}
	}
	line := strings.Join(cells, " ")
	g.advance(idx, c.ParentHashes)
	if len(c.ParentHashes) > 1 {
		line += " " + strings.Repeat("\\", len(c.ParentHashes)-1)
	}
	return line
}

func (g *graphBuilder) lane(hash plumbing.Hash) int {
	for i, h := range g.lanes {
		if h == hash {
			return i
		}
	}
	return -1
}

func (g *graphBuilder) advance(idx int, parents []plumbing.Hash) {
	if len(parents) == 0 {
		g.lanes = append(g.lanes[:idx], g.lanes[idx+1:]...)
		return
	}
	g.lanes[idx] = parents[0]
	for i, parent := range parents[1:] {
		if g.lane(parent) != -1 {
			continue
		}
		pos := min(idx+i+1, len(g.lanes))
		g.lanes = append(g.lanes[:pos], append([]plumbing.Hash{parent}, g.lanes[pos:]...)...)
	}
}
