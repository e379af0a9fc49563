package diff

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
)

// binarySniffLen matches the prefix git inspects for NUL bytes.
const binarySniffLen = 8000

func IsBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// SplitLines splits data into lines that keep their trailing newline.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := make([]string, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, string(data))
			break
		}
		lines = append(lines, string(data[:i+1]))
		data = data[i+1:]
	}
	return lines
}

func newMatcher(a, b []string) *difflib.SequenceMatcher {
	return difflib.NewMatcherWithJunk(a, b, false, nil)
}

// Hunks computes the hunks turning oldData into newData with the given
// number of context lines. Binary content yields a single opaque hunk.
func Hunks(oldPath, newPath string, oldData, newData []byte, context int) []*Hunk {
	if bytes.Equal(oldData, newData) {
		return nil
	}
	if IsBinary(oldData) || IsBinary(newData) {
		return []*Hunk{{
			OldPath: oldPath,
			NewPath: newPath,
			Binary:  true,
			OldData: oldData,
			NewData: newData,
		}}
	}
	if context < 0 {
		context = 0
	}
	a, b := SplitLines(oldData), SplitLines(newData)
	var hunks []*Hunk
	for _, group := range newMatcher(a, b).GetGroupedOpCodes(context) {
		if !hasChange(group) {
			continue
		}
		first, last := group[0], group[len(group)-1]
		h := &Hunk{
			OldPath: oldPath,
			NewPath: newPath,
			Old:     Range{Offset: first.I1, Count: last.I2 - first.I1},
			New:     Range{Offset: first.J1, Count: last.J2 - first.J1},
		}
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, line := range a[op.I1:op.I2] {
					h.Lines = append(h.Lines, Line{Kind: LineContext, Text: line})
				}
			case 'd', 'r', 'i':
				for _, line := range a[op.I1:op.I2] {
					h.Lines = append(h.Lines, Line{Kind: LineRemoved, Text: line})
				}
				for _, line := range b[op.J1:op.J2] {
					h.Lines = append(h.Lines, Line{Kind: LineAdded, Text: line})
				}
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func hasChange(group []difflib.OpCode) bool {
	for _, op := range group {
		if op.Tag != 'e' {
			return true
		}
	}
	return false
}

// region is a maximal run of changed lines inside a hunk, as indexes into
// Hunk.Lines.
type region struct {
	start, end int
}

func changeRegions(h *Hunk) []region {
	var regions []region
	inChange := false
	for i, line := range h.Lines {
		changed := line.Kind != LineContext
		switch {
		case changed && !inChange:
			regions = append(regions, region{start: i, end: i + 1})
			inChange = true
		case changed:
			regions[len(regions)-1].end = i + 1
		default:
			inChange = false
		}
	}
	return regions
}

func CanSplit(h *Hunk) bool {
	return h != nil && !h.Binary && len(changeRegions(h)) >= 2
}

// Split breaks a hunk with several change regions into one sub-hunk per
// region. Context between two regions is divided between the neighbours,
// the first getting the extra line, so the sub-hunks never overlap. A hunk
// that cannot be split is returned unchanged.
func Split(h *Hunk) []*Hunk {
	regions := changeRegions(h)
	if h.Binary || len(regions) < 2 {
		return []*Hunk{h}
	}
	// bounds[i] is the line index range [lo, hi) owned by sub-hunk i.
	bounds := make([]region, len(regions))
	for i, r := range regions {
		lo := 0
		if i > 0 {
			prev := regions[i-1]
			gap := r.start - prev.end
			lo = prev.end + (gap+1)/2
		}
		hi := len(h.Lines)
		if i < len(regions)-1 {
			next := regions[i+1]
			gap := next.start - r.end
			hi = r.end + (gap+1)/2
		}
		bounds[i] = region{start: lo, end: hi}
	}

	out := make([]*Hunk, 0, len(bounds))
	oldPos, newPos := h.Old.Offset, h.New.Offset
	idx := 0
	for _, b := range bounds {
		for ; idx < b.start; idx++ {
			oldPos, newPos = advance(h.Lines[idx].Kind, oldPos, newPos)
		}
		sub := &Hunk{
			OldPath:  h.OldPath,
			NewPath:  h.NewPath,
			Old:      Range{Offset: oldPos},
			New:      Range{Offset: newPos},
			Selected: h.Selected,
			Lines:    append([]Line(nil), h.Lines[b.start:b.end]...),
		}
		for ; idx < b.end; idx++ {
			oldPos, newPos = advance(h.Lines[idx].Kind, oldPos, newPos)
		}
		sub.Old.Count = oldPos - sub.Old.Offset
		sub.New.Count = newPos - sub.New.Offset
		out = append(out, sub)
	}
	return out
}

func advance(kind LineKind, oldPos, newPos int) (int, int) {
	switch kind {
	case LineAdded:
		return oldPos, newPos + 1
	case LineRemoved:
		return oldPos + 1, newPos
	default:
		return oldPos + 1, newPos + 1
	}
}

// Reverse returns the hunk undoing h. It applies to the new side of the
// original pair.
func Reverse(h *Hunk) *Hunk {
	r := &Hunk{
		OldPath:  h.NewPath,
		NewPath:  h.OldPath,
		Old:      h.New,
		New:      h.Old,
		Selected: h.Selected,
		Binary:   h.Binary,
		OldData:  h.NewData,
		NewData:  h.OldData,
		Lines:    make([]Line, 0, len(h.Lines)),
	}
	// Removed lines must precede added ones within a change run.
	var added []Line
	flush := func() {
		r.Lines = append(r.Lines, added...)
		added = added[:0]
	}
	for _, line := range h.Lines {
		switch line.Kind {
		case LineAdded:
			r.Lines = append(r.Lines, Line{Kind: LineRemoved, Text: line.Text})
		case LineRemoved:
			added = append(added, Line{Kind: LineAdded, Text: line.Text})
		default:
			flush()
			r.Lines = append(r.Lines, line)
		}
	}
	flush()
	return r
}
