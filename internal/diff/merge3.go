package diff

import (
	"bytes"
	"slices"
	"strings"
)

type Labels struct {
	Ours   string
	Theirs string
}

type MergeResult struct {
	Content   []byte
	Conflicts int
}

func (r MergeResult) Clean() bool {
	return r.Conflicts == 0
}

// change is a non-equal opcode: base[i1:i2] became side[j1:j2].
type change struct {
	i1, i2, j1, j2 int
}

func changes(base, side []string) []change {
	var out []change
	for _, op := range newMatcher(base, side).GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, change{op.I1, op.I2, op.J1, op.J2})
	}
	return out
}

// sideText returns the side's lines replacing base[lo:hi] given the side's
// changes falling inside that span.
func sideText(base, side []string, cs []change, lo, hi int) []string {
	if len(cs) == 0 {
		return base[lo:hi]
	}
	first, last := cs[0], cs[len(cs)-1]
	return side[first.j1-(first.i1-lo) : last.j2+(hi-last.i2)]
}

// Merge3 merges ours and theirs relative to base line by line. Changes that
// overlap or touch in base coordinates and differ are written as conflict
// blocks; identical changes on both sides merge cleanly.
func Merge3(base, ours, theirs []byte, labels Labels) MergeResult {
	if labels.Ours == "" {
		labels.Ours = "ours"
	}
	if labels.Theirs == "" {
		labels.Theirs = "theirs"
	}
	switch {
	case bytes.Equal(ours, theirs), bytes.Equal(base, theirs):
		return MergeResult{Content: bytes.Clone(ours)}
	case bytes.Equal(base, ours):
		return MergeResult{Content: bytes.Clone(theirs)}
	}

	b, o, t := SplitLines(base), SplitLines(ours), SplitLines(theirs)
	co, ct := changes(b, o), changes(b, t)

	var out strings.Builder
	var result MergeResult
	pos, i, j := 0, 0, 0
	for i < len(co) || j < len(ct) {
		var lo, hi int
		switch {
		case j >= len(ct) || (i < len(co) && co[i].i1 <= ct[j].i1):
			lo, hi = co[i].i1, co[i].i2
		default:
			lo, hi = ct[j].i1, ct[j].i2
		}
		si, sj := i, j
		for {
			grew := false
			for i < len(co) && co[i].i1 <= hi {
				hi = max(hi, co[i].i2)
				i++
				grew = true
			}
			for j < len(ct) && ct[j].i1 <= hi {
				hi = max(hi, ct[j].i2)
				j++
				grew = true
			}
			if !grew {
				break
			}
		}
		writeLines(&out, b[pos:lo])
		oursText := sideText(b, o, co[si:i], lo, hi)
		theirsText := sideText(b, t, ct[sj:j], lo, hi)
		switch {
		case sj == j:
			writeLines(&out, oursText)
		case si == i:
			writeLines(&out, theirsText)
		case slices.Equal(oursText, theirsText):
			writeLines(&out, oursText)
		default:
			result.Conflicts++
			out.WriteString("<<<<<<< " + labels.Ours + "\n")
			writeBlock(&out, oursText)
			out.WriteString("=======\n")
			writeBlock(&out, theirsText)
			out.WriteString(">>>>>>> " + labels.Theirs + "\n")
		}
		pos = hi
	}
	writeLines(&out, b[pos:])
	result.Content = []byte(out.String())
	return result
}

func writeLines(b *strings.Builder, lines []string) {
	for _, line := range lines {
		b.WriteString(line)
	}
}

func writeBlock(b *strings.Builder, lines []string) {
	writeLines(b, lines)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		b.WriteByte('\n')
	}
}
