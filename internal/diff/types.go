package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

var (
	ErrContentUnreadable = errors.New("content unreadable")
	ErrPatchConflict     = errors.New("patch does not apply")
)

// ContentError reports a file whose content could not be read while
// computing a patch. It unwraps to ErrContentUnreadable.
type ContentError struct {
	Path string
	Err  error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, ErrContentUnreadable, e.Err)
}

func (e *ContentError) Unwrap() []error {
	return []error{ErrContentUnreadable, e.Err}
}

type ChangeKind int

const (
	Modified ChangeKind = iota
	Added
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "modified"
	}
}

// File is one side of a file pair. A zero Hash means the side is absent.
type File struct {
	Path string
	Mode filemode.FileMode
	Hash plumbing.Hash
}

func (f File) Exists() bool {
	return !f.Hash.IsZero()
}

// Range is a 0-based line span. Count may be zero for pure insertions.
type Range struct {
	Offset int
	Count  int
}

func (r Range) End() int {
	return r.Offset + r.Count
}

func (r Range) unified() string {
	start := r.Offset + 1
	if r.Count == 0 {
		start = r.Offset
	}
	if r.Count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, r.Count)
}

type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

func (k LineKind) prefix() byte {
	switch k {
	case LineAdded:
		return '+'
	case LineRemoved:
		return '-'
	default:
		return ' '
	}
}

// Line holds one line of a hunk. Text keeps its trailing newline; the last
// line of a file without one has none.
type Line struct {
	Kind LineKind
	Text string
}

type Hunk struct {
	OldPath string
	NewPath string
	Old     Range
	New     Range
	Lines   []Line

	Selected bool
	Binary   bool

	// OldData and NewData carry the full contents of a binary hunk.
	OldData []byte
	NewData []byte
}

func (h *Hunk) Header() string {
	if h.Binary {
		return "Binary files differ"
	}
	return fmt.Sprintf("@@ -%s +%s @@", h.Old.unified(), h.New.unified())
}

func (h *Hunk) String() string {
	var b strings.Builder
	b.WriteString(h.Header())
	b.WriteByte('\n')
	if h.Binary {
		return b.String()
	}
	for _, line := range h.Lines {
		b.WriteByte(line.Kind.prefix())
		b.WriteString(line.Text)
		if !strings.HasSuffix(line.Text, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
	return b.String()
}

// Changes returns the number of added and removed lines.
func (h *Hunk) Changes() (added, removed int) {
	for _, line := range h.Lines {
		switch line.Kind {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return added, removed
}

type Patch struct {
	From       File
	To         File
	Kind       ChangeKind
	Similarity float64
	Hunks      []*Hunk
}

// Path returns the path the patch is displayed and ordered under.
func (p *Patch) Path() string {
	if p.To.Path != "" {
		return p.To.Path
	}
	return p.From.Path
}

func (p *Patch) IsBinary() bool {
	return len(p.Hunks) == 1 && p.Hunks[0].Binary
}

// Selected returns the hunks marked for application, in order.
func (p *Patch) Selected() []*Hunk {
	var out []*Hunk
	for _, h := range p.Hunks {
		if h.Selected {
			out = append(out, h)
		}
	}
	return out
}

func (p *Patch) Stats() (added, removed int) {
	for _, h := range p.Hunks {
		a, r := h.Changes()
		added += a
		removed += r
	}
	return added, removed
}

// Unified renders the patch in git's extended unified format.
func (p *Patch) Unified() string {
	var b strings.Builder
	oldPath, newPath := p.From.Path, p.To.Path
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldPath, newPath)
	switch p.Kind {
	case Added:
		fmt.Fprintf(&b, "new file mode %s\n", modeString(p.To.Mode))
	case Deleted:
		fmt.Fprintf(&b, "deleted file mode %s\n", modeString(p.From.Mode))
	case Renamed:
		fmt.Fprintf(&b, "similarity index %d%%\n", int(p.Similarity*100))
		fmt.Fprintf(&b, "rename from %s\n", p.From.Path)
		fmt.Fprintf(&b, "rename to %s\n", p.To.Path)
	default:
		if p.From.Mode != p.To.Mode {
			fmt.Fprintf(&b, "old mode %s\nnew mode %s\n", modeString(p.From.Mode), modeString(p.To.Mode))
		}
	}
	if len(p.Hunks) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "index %s..%s\n", shortHash(p.From.Hash), shortHash(p.To.Hash))
	if p.IsBinary() {
		fmt.Fprintf(&b, "Binary files %s and %s differ\n", sidePath("a", p.From), sidePath("b", p.To))
		return b.String()
	}
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", sidePath("a", p.From), sidePath("b", p.To))
	for _, h := range p.Hunks {
		b.WriteString(h.String())
	}
	return b.String()
}

func sidePath(prefix string, f File) string {
	if !f.Exists() {
		return "/dev/null"
	}
	return prefix + "/" + f.Path
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

func modeString(m filemode.FileMode) string {
	return fmt.Sprintf("%06o", uint32(m))
}
