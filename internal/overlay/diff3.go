package overlay

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MergeResult is the outcome of a three-way merge.
type MergeResult struct {
	Merged     []byte
	Conflicted bool
}

const (
	conflictOursMarker     = "<<<<<<< ours\n"
	conflictSepMarker      = "=======\n"
	conflictUpstreamMarker = ">>>>>>> upstream\n"
)

// edit replaces base lines [bStart, bEnd) with lines.
type edit struct {
	bStart, bEnd int
	lines        []string
}

// MergeThreeWay merges ours and theirs against their common base using a
// line-oriented diff3. Non-overlapping changes combine; overlapping,
// disagreeing changes produce git-style conflict markers and set
// Conflicted.
func MergeThreeWay(base, ours, theirs []byte) MergeResult {
	baseLines := splitLinesKeepEnds(string(base))
	oursLines := splitLinesKeepEnds(string(ours))
	theirsLines := splitLinesKeepEnds(string(theirs))

	oursEdits := editsAgainstBase(baseLines, oursLines)
	theirsEdits := editsAgainstBase(baseLines, theirsLines)

	groups := groupEdits(oursEdits, theirsEdits)

	var out strings.Builder
	conflicted := false
	pos := 0
	for _, g := range groups {
		for _, line := range baseLines[pos:g.start] {
			out.WriteString(line)
		}
		pos = g.end

		oursSpan := applyEditsInRange(baseLines, oursEdits, g.start, g.end)
		theirsSpan := applyEditsInRange(baseLines, theirsEdits, g.start, g.end)
		baseSpan := baseLines[g.start:g.end]

		switch {
		case linesEqual(oursSpan, theirsSpan):
			writeLines(&out, oursSpan)
		case linesEqual(oursSpan, baseSpan):
			writeLines(&out, theirsSpan)
		case linesEqual(theirsSpan, baseSpan):
			writeLines(&out, oursSpan)
		default:
			conflicted = true
			out.WriteString(conflictOursMarker)
			writeLinesTerminated(&out, oursSpan)
			out.WriteString(conflictSepMarker)
			writeLinesTerminated(&out, theirsSpan)
			out.WriteString(conflictUpstreamMarker)
		}
	}
	for _, line := range baseLines[pos:] {
		out.WriteString(line)
	}

	return MergeResult{Merged: []byte(out.String()), Conflicted: conflicted}
}

// editsAgainstBase derives the edit script transforming base into other.
// The pairwise diff runs in diffmatchpatch's line mode: lines are encoded
// as characters so the diff operates on whole lines, then mapped back.
func editsAgainstBase(base, other []string) []edit {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	baseChars, otherChars, lineArray := dmp.DiffLinesToChars(
		strings.Join(base, ""), strings.Join(other, ""))
	diffs := dmp.DiffMain(baseChars, otherChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var edits []edit
	baseIdx := 0
	pendStart, pendEnd := -1, 0
	var pendLines []string
	flush := func() {
		if pendStart >= 0 {
			edits = append(edits, edit{bStart: pendStart, bEnd: pendEnd, lines: pendLines})
			pendStart = -1
			pendLines = nil
		}
	}

	for _, d := range diffs {
		lines := splitLinesKeepEnds(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			baseIdx += len(lines)
		case diffmatchpatch.DiffDelete:
			if pendStart < 0 {
				pendStart, pendEnd = baseIdx, baseIdx
			}
			baseIdx += len(lines)
			pendEnd = baseIdx
		case diffmatchpatch.DiffInsert:
			if pendStart < 0 {
				pendStart, pendEnd = baseIdx, baseIdx
			}
			pendLines = append(pendLines, lines...)
		}
	}
	flush()
	return edits
}

type group struct {
	start, end int
}

// groupEdits unions transitively overlapping edit spans from both sides.
// Replacements that merely touch stay separate; insertions at a shared
// boundary are grouped, since their relative order is ambiguous.
func groupEdits(ours, theirs []edit) []group {
	type span struct {
		start, end int
		zero       bool
	}
	var spans []span
	for _, e := range append(append([]edit{}, ours...), theirs...) {
		spans = append(spans, span{start: e.bStart, end: e.bEnd, zero: e.bStart == e.bEnd})
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})

	// Strict overlap for replacements; boundary contact counts when either
	// side is an insertion.
	overlaps := func(aStart, aEnd int, aZero bool, b span) bool {
		if b.zero || aZero {
			return b.start <= aEnd && aStart <= b.end
		}
		return b.start < aEnd && aStart < b.end
	}

	var out []group
	cur := group{start: spans[0].start, end: spans[0].end}
	curZero := spans[0].zero
	for _, s := range spans[1:] {
		if overlaps(cur.start, cur.end, curZero, s) {
			if s.end > cur.end {
				cur.end = s.end
			}
			curZero = curZero && s.zero
			continue
		}
		out = append(out, cur)
		cur = group{start: s.start, end: s.end}
		curZero = s.zero
	}
	out = append(out, cur)
	return out
}

// applyEditsInRange renders one side's version of base[start:end].
func applyEditsInRange(base []string, edits []edit, start, end int) []string {
	var out []string
	pos := start
	for _, e := range edits {
		// Group spans are unions of edit spans, so an edit is either fully
		// inside this range or fully outside it.
		if e.bStart < start || e.bEnd > end {
			continue
		}
		if e.bStart > pos {
			out = append(out, base[pos:e.bStart]...)
		}
		out = append(out, e.lines...)
		if e.bEnd > pos {
			pos = e.bEnd
		}
	}
	if pos < end {
		out = append(out, base[pos:end]...)
	}
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeLines(b *strings.Builder, lines []string) {
	for _, line := range lines {
		b.WriteString(line)
	}
}

// writeLinesTerminated writes lines, forcing a trailing newline so conflict
// markers stay on their own lines.
func writeLinesTerminated(b *strings.Builder, lines []string) {
	for i, line := range lines {
		b.WriteString(line)
		if i == len(lines)-1 && !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
}

// splitLinesKeepEnds splits text into lines retaining terminators, so
// concatenation restores the input byte-for-byte.
func splitLinesKeepEnds(text string) []string {
	var out []string
	for len(text) > 0 {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:idx+1])
		text = text[idx+1:]
	}
	return out
}
