package diff

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
)

// Apply applies the selected hunks to base. Unselected hunks are ignored.
// Every context and removed line must match base exactly, otherwise the
// result is ErrPatchConflict and base is left untouched.
func Apply(base []byte, hunks []*Hunk) ([]byte, error) {
	selected := make([]*Hunk, 0, len(hunks))
	for _, h := range hunks {
		if h != nil && h.Selected {
			selected = append(selected, h)
		}
	}
	if len(selected) == 0 {
		return base, nil
	}
	if selected[0].Binary {
		if len(selected) != 1 {
			return nil, fmt.Errorf("binary patch with %d hunks: %w", len(selected), ErrPatchConflict)
		}
		if !bytes.Equal(base, selected[0].OldData) {
			return nil, fmt.Errorf("binary content changed: %w", ErrPatchConflict)
		}
		return bytes.Clone(selected[0].NewData), nil
	}
	slices.SortStableFunc(selected, func(a, b *Hunk) int {
		return a.Old.Offset - b.Old.Offset
	})

	lines := SplitLines(base)
	var out strings.Builder
	out.Grow(len(base))
	pos := 0
	for _, h := range selected {
		if h.Binary {
			return nil, fmt.Errorf("binary hunk mixed with text hunks: %w", ErrPatchConflict)
		}
		if h.Old.Offset < pos || h.Old.End() > len(lines) {
			return nil, fmt.Errorf("hunk %s out of range: %w", h.Header(), ErrPatchConflict)
		}
		for _, line := range lines[pos:h.Old.Offset] {
			out.WriteString(line)
		}
		cur := h.Old.Offset
		for _, line := range h.Lines {
			switch line.Kind {
			case LineAdded:
				out.WriteString(line.Text)
			case LineRemoved, LineContext:
				if cur >= len(lines) || lines[cur] != line.Text {
					return nil, fmt.Errorf("hunk %s line %d does not match: %w", h.Header(), cur+1, ErrPatchConflict)
				}
				if line.Kind == LineContext {
					out.WriteString(line.Text)
				}
				cur++
			}
		}
		if cur != h.Old.End() {
			return nil, fmt.Errorf("hunk %s length mismatch: %w", h.Header(), ErrPatchConflict)
		}
		pos = cur
	}
	for _, line := range lines[pos:] {
		out.WriteString(line)
	}
	return []byte(out.String()), nil
}

// ApplyPatch applies the selected hunks of p to base.
func ApplyPatch(base []byte, p *Patch) ([]byte, error) {
	return Apply(base, p.Hunks)
}
