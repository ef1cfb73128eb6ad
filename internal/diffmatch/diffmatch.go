// Package diffmatch implements the differential-synchronization diff/patch
// engine: a Myers-family character diff (common prefix/suffix stripped
// first; no semantic-cleanup pass is run on the result), and a fuzzy
// patcher tolerant of context that has drifted since the diff was
// computed.
package diffmatch

import (
	"crypto/md5"
	"encoding/hex"

	"collabtext/internal/protocol"
)

// Tuning constants from spec §4.1.
const (
	// MatchDistance bounds how far from a hunk's recorded offset the
	// fuzzy locator will search for a better context match.
	MatchDistance = 1000
	// MatchThreshold is the minimum similarity score (0..1) a fuzzy
	// match must reach to be accepted.
	MatchThreshold = 0.5
	// PatchMargin is how many runes of surrounding context are kept on
	// each side of a hunk's edit.
	PatchMargin = 4
)

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind opKind
	text []rune
}

// Diff returns the ordered hunks needed to transform a into b.
func Diff(a, b string) []protocol.Hunk {
	if a == b {
		return nil
	}
	ra, rb := []rune(a), []rune(b)
	ops := diffRunes(ra, rb)
	return hunksFromOps(ops)
}

// diffRunes computes a Myers edit script between ra and rb, after
// stripping common prefix/suffix (Fraser's optimization 1.1/1.2), and
// emits it as a flat sequence of equal/delete/insert runs.
func diffRunes(ra, rb []rune) []op {
	// Strip common prefix.
	prefix := 0
	for prefix < len(ra) && prefix < len(rb) && ra[prefix] == rb[prefix] {
		prefix++
	}
	// Strip common suffix.
	suffix := 0
	for suffix < len(ra)-prefix && suffix < len(rb)-prefix &&
		ra[len(ra)-1-suffix] == rb[len(rb)-1-suffix] {
		suffix++
	}

	midA := ra[prefix : len(ra)-suffix]
	midB := rb[prefix : len(rb)-suffix]

	var ops []op
	if prefix > 0 {
		ops = append(ops, op{opEqual, ra[:prefix]})
	}
	ops = append(ops, myers(midA, midB)...)
	if suffix > 0 {
		ops = append(ops, op{opEqual, ra[len(ra)-suffix:]})
	}
	return mergeRuns(ops)
}

// myers runs the classic Myers O((N+M)D) shortest-edit-script algorithm
// over the two (already prefix/suffix-stripped) rune slices and returns
// the edit script as a sequence of equal/delete/insert runs.
func myers(a, b []rune) []op {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return nil
	}
	if n == 0 {
		return []op{{opInsert, b}}
	}
	if m == 0 {
		return []op{{opDelete, a}}
	}

	max := n + m
	v := make(map[int]int, 2*max+1)
	v[1] = 0
	trace := make([]map[int]int, 0, max)

	found := false
	var finalD int
loop:
	for d := 0; d <= max; d++ {
		snapshot := make(map[int]int, len(v))
		for k, x := range v {
			snapshot[k] = x
		}
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[k-1] < v[k+1]) {
				x = v[k+1]
			} else {
				x = v[k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[k] = x
			if x >= n && y >= m {
				finalD = d
				found = true
				break loop
			}
		}
	}
	if !found {
		// Degenerate fallback: replace everything. Should not happen
		// since d is bounded by max = n+m.
		return []op{{opDelete, a}, {opInsert, b}}
	}

	return backtrack(a, b, trace, finalD)
}

// backtrack walks the Myers trace from (n,m) to (0,0) to recover the
// edit script, then reverses it into forward order.
func backtrack(a, b []rune, trace []map[int]int, finalD int) []op {
	x, y := len(a), len(b)
	var rev []op

	for d := finalD; d > 0; d-- {
		v := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && v[k-1] < v[k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			rev = append(rev, op{opEqual, a[x-1 : x]})
			x--
			y--
		}
		if x == prevX {
			rev = append(rev, op{opInsert, b[prevY:prevY+1]})
			y--
		} else {
			rev = append(rev, op{opDelete, a[prevX:prevX+1]})
			x--
		}
	}
	for x > 0 && y > 0 {
		rev = append(rev, op{opEqual, a[x-1 : x]})
		x--
		y--
	}

	// rev is in reverse order; flip it.
	ops := make([]op, len(rev))
	for i, o := range rev {
		ops[len(rev)-1-i] = o
	}
	return mergeRuns(ops)
}

// mergeRuns coalesces adjacent runs of the same kind (the backtracker
// emits one rune at a time).
func mergeRuns(ops []op) []op {
	var out []op
	for _, o := range ops {
		if len(o.text) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].kind == o.kind {
			out[n-1].text = append(out[n-1].text, o.text...)
			continue
		}
		out = append(out, op{o.kind, append([]rune(nil), o.text...)})
	}
	return out
}

// hunksFromOps converts a flat equal/delete/insert run sequence into
// context-bearing hunks, merging adjacent delete+insert runs into a
// single hunk (a "replace") the way diff-match-patch's patch_make does.
func hunksFromOps(ops []op) []protocol.Hunk {
	var hunks []protocol.Hunk
	pos := 0 // rune position in `a` consumed so far

	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			pos += len(ops[i].text)
			i++
			continue
		}

		var deleteText, insertText []rune
		start := i
		for i < len(ops) && ops[i].kind != opEqual {
			switch ops[i].kind {
			case opDelete:
				deleteText = append(deleteText, ops[i].text...)
			case opInsert:
				insertText = append(insertText, ops[i].text...)
			}
			i++
		}
		_ = start

		before := contextBefore(ops, pos, start)
		after := contextAfter(ops, i)

		hunks = append(hunks, protocol.Hunk{
			ContextBefore: string(before),
			ContextAfter:  string(after),
			Delete:        string(deleteText),
			Insert:        string(insertText),
			Offset:        pos - len(before),
		})

		pos += len(deleteText)
	}
	return hunks
}

func contextBefore(ops []op, pos, idx int) []rune {
	if idx == 0 {
		return nil
	}
	prev := ops[idx-1]
	if prev.kind != opEqual {
		return nil
	}
	n := len(prev.text)
	if n > PatchMargin {
		n = PatchMargin
	}
	return prev.text[len(prev.text)-n:]
}

func contextAfter(ops []op, idx int) []rune {
	if idx >= len(ops) {
		return nil
	}
	next := ops[idx]
	if next.kind != opEqual {
		return nil
	}
	n := len(next.text)
	if n > PatchMargin {
		n = PatchMargin
	}
	return next.text[:n]
}

// Apply applies each hunk in batch order to text, reporting per-hunk
// success. Later hunks always see the result of earlier hunks, even when
// an earlier hunk failed to apply.
func Apply(text string, hunks []protocol.Hunk) (string, []bool) {
	result := []rune(text)
	applied := make([]bool, len(hunks))

	for i, h := range hunks {
		newResult, ok := applyOne(result, h)
		if ok {
			result = newResult
			applied[i] = true
		}
	}
	return string(result), applied
}

// applyOne attempts to apply a single hunk to text (as runes), returning
// the updated text and whether the hunk applied.
func applyOne(text []rune, h protocol.Hunk) ([]rune, bool) {
	before := []rune(h.ContextBefore)
	del := []rune(h.Delete)
	after := []rune(h.ContextAfter)
	insert := []rune(h.Insert)
	pattern := append(append(append([]rune{}, before...), del...), after...)

	if len(pattern) == 0 {
		// Pure insert with no surrounding context (e.g. into an empty
		// document): splice at the clamped offset.
		loc := h.Offset
		if loc < 0 {
			loc = 0
		}
		if loc > len(text) {
			loc = len(text)
		}
		out := make([]rune, 0, len(text)+len(insert))
		out = append(out, text[:loc]...)
		out = append(out, insert...)
		out = append(out, text[loc:]...)
		return out, true
	}

	loc, ok := locate(text, pattern, h.Offset)
	if !ok {
		return text, false
	}

	delStart := loc + len(before)
	delEnd := delStart + len(del)
	if delEnd > len(text) {
		delEnd = len(text)
	}
	if delStart > delEnd {
		delStart = delEnd
	}

	out := make([]rune, 0, len(text)-len(del)+len(insert))
	out = append(out, text[:delStart]...)
	out = append(out, insert...)
	out = append(out, text[delEnd:]...)
	return out, true
}

// locate finds the best-scoring position of pattern within text, first
// trying an exact match closest to expectedLoc, then falling back to a
// bounded fuzzy search. Returns false if nothing clears MatchThreshold.
func locate(text, pattern []rune, expectedLoc int) (int, bool) {
	if expectedLoc < 0 {
		expectedLoc = 0
	}
	if expectedLoc > len(text) {
		expectedLoc = len(text)
	}

	if loc, ok := exactMatchNear(text, pattern, expectedLoc); ok {
		return loc, true
	}

	lo := expectedLoc - MatchDistance
	if lo < 0 {
		lo = 0
	}
	hi := expectedLoc + MatchDistance
	maxStart := len(text) - len(pattern)
	if maxStart < 0 {
		maxStart = 0
	}
	if hi > maxStart {
		hi = maxStart
	}

	bestScore := -1.0
	bestLoc := -1
	for start := lo; start <= hi; start++ {
		end := start + len(pattern)
		if end > len(text) {
			break
		}
		score := similarity(pattern, text[start:end])
		if score > bestScore {
			bestScore = score
			bestLoc = start
		}
	}
	if bestLoc >= 0 && bestScore >= MatchThreshold {
		return bestLoc, true
	}
	return 0, false
}

func exactMatchNear(text, pattern []rune, expectedLoc int) (int, bool) {
	if len(pattern) == 0 || len(pattern) > len(text) {
		return 0, false
	}
	bestLoc := -1
	bestDist := -1
	for start := 0; start+len(pattern) <= len(text); start++ {
		if runesEqual(text[start:start+len(pattern)], pattern) {
			dist := start - expectedLoc
			if dist < 0 {
				dist = -dist
			}
			if bestLoc == -1 || dist < bestDist {
				bestLoc = start
				bestDist = dist
			}
		}
	}
	if bestLoc == -1 {
		return 0, false
	}
	return bestLoc, true
}

func runesEqual(a, b []rune) bool {
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

// similarity returns a length-normalized 1 - (edit distance / max length)
// score in [0,1] (spec §9 Open Question (c)). The score does not weight a
// candidate by its distance from the expected location; among equal
// scores, locate keeps the leftmost start in its window.
func similarity(a, b []rune) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for j := 0; j <= m; j++ {
		prev[j] = j
	}
	for i := 1; i <= n; i++ {
		curr[0] = i
		for j := 1; j <= m; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			best := del
			if ins < best {
				best = ins
			}
			if sub < best {
				best = sub
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// Checksum returns the lower-case hex MD5 digest of text (spec §3/§6).
func Checksum(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
