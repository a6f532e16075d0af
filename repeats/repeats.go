// Package repeats locates short tandem repeats and homopolymer runs in DNA
// sequences, and estimates how far an indel allele can drift along the
// reference. Sequences are plain byte slices; Find operates on whatever
// alphabet it is given, while HomopolymerRun and Extent expect ASCII
// reference bases ('N' and lowercase accepted).
package repeats

import "sort"

// A Repeat is a maximal tandem-repeat region. Unit is the repeat period in
// bases and the repeated pattern covers the half-open interval [Start, End),
// so End-Start >= 2*Unit always holds and (End-Start)/Unit is the copy count.
type Repeat struct {
	Start int
	End   int
	Unit  int
}

// maxUnit is the largest repeat period searched for.
const maxUnit = 8

// A Finder locates short tandem repeats. The zero value is ready to use; it
// retains its result buffer across calls, so the slice returned by Find is
// only valid until the next call.
type Finder struct {
	reps []Repeat
}

// Find returns every maximal tandem repeat in seq with a period of at most
// maxUnit and at least two full copies. Each repeated region is reported
// once, at its primitive period: an AAAA run comes back as a single
// unit-1 repeat, not additionally as the unit-2 repeat AA x2. Results are
// ordered by (Start, End, Unit).
func (f *Finder) Find(seq []byte) []Repeat {
	f.reps = f.reps[:0]
	for unit := 1; unit <= maxUnit && 2*unit <= len(seq); unit++ {
		runStart := 0
		for p := 0; p <= len(seq)-unit; p++ {
			if p < len(seq)-unit && seq[p] == seq[p+unit] {
				continue
			}
			// [runStart, p) matched at distance unit.
			if p-runStart >= unit && primitive(seq[runStart:runStart+unit]) {
				f.reps = append(f.reps, Repeat{Start: runStart, End: p + unit, Unit: unit})
			}
			runStart = p + 1
		}
	}
	sort.Slice(f.reps, func(i, j int) bool {
		ri, rj := f.reps[i], f.reps[j]
		if ri.Start != rj.Start {
			return ri.Start < rj.Start
		}
		if ri.End != rj.End {
			return ri.End < rj.End
		}
		return ri.Unit < rj.Unit
	})
	return f.reps
}

// primitive reports whether the repeat unit is not itself periodic with a
// shorter period dividing its length.
func primitive(unit []byte) bool {
	for d := 1; d <= len(unit)/2; d++ {
		if len(unit)%d != 0 {
			continue
		}
		periodic := true
		for i := 0; i+d < len(unit); i++ {
			if unit[i] != unit[i+d] {
				periodic = false
				break
			}
		}
		if periodic {
			return false
		}
	}
	return true
}

// HomopolymerRun returns the length of the homopolymer run of the reference
// base just right of pos, counting contiguous copies on both sides of it.
// 'N' and other ambiguity codes report a run of 1.
func HomopolymerRun(ref []byte, pos int) int {
	if pos+1 < 0 || pos+1 >= len(ref) {
		return 1
	}
	c := upper(ref[pos+1])
	if c != 'A' && c != 'C' && c != 'G' && c != 'T' {
		return 1
	}
	i := pos + 2
	for i < len(ref) && upper(ref[i]) == c {
		i++
	}
	run := i
	i = pos
	for i >= 0 && upper(ref[i]) == c {
		i--
	}
	return run - (i + 1)
}

// enumToASCII maps the 0-4 base enum used for insertion consensus sequences
// back to reference letters.
const enumToASCII = "ACGTN"

// Extent estimates how many reference bases right of pos an indel allele can
// shift into before the repeated unit stops matching. ins holds the inserted
// sequence for insertions, in 0-4 enum form; deletions pass nil and reuse
// the deleted reference bases starting at pos+1. The walk scores +1 per
// matching base and -10 per mismatch, stops when the score goes negative,
// and returns the offset of the best score seen (0 when nothing matches).
func Extent(ref []byte, pos, size int, ins []byte) int {
	l := size
	if l < 0 {
		l = -l
	}
	if l == 0 || pos+1 >= len(ref) {
		return 0
	}
	max, maxI, score := 0, pos, 0
	for i, j := pos+1, 0; i < len(ref); i, j = i+1, j+1 {
		var unitBase byte
		if ins != nil {
			unitBase = enumToASCII[ins[j%l]]
		} else {
			if pos+1+j%l >= len(ref) {
				break
			}
			unitBase = upper(ref[pos+1+j%l])
		}
		if upper(ref[i]) == unitBase {
			score++
		} else {
			score -= 10
		}
		if score < 0 {
			break
		}
		if max < score {
			max, maxI = score, i
		}
	}
	return maxI - pos
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
