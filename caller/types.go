package caller

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/indel/pileup"
)

// typeSet is the outcome of candidate discovery at one position: the
// distinct indel sizes worth genotyping, plus pileup-wide tallies reused by
// the later stages.
type typeSet struct {
	// types holds the distinct indel sizes in ascending order. Zero (the
	// reference type) is always present, at index refIdx.
	types  []int
	refIdx int
	// maxReadLen is the longest query length seen in the pileup.
	maxReadLen int
	// nReads is the total read count across samples.
	nReads int
	// maxSupport and maxFraction describe the best-supported single sample.
	maxSupport  int
	maxFraction float64
}

// findTypes scans the pileup for distinct indel sizes at pos and filters
// them by support. It reports false when no candidate survives, i.e. the
// position has no callable indel signal.
func findTypes(opts *Opts, samples [][]pileup.Read, pos int, ref []byte) (typeSet, bool) {
	var (
		ts         typeSet
		nAlt, nTot int
		supportOK  bool
	)
	sizes := make([]int, 1, 16)
	sizes[0] = 0 // zero indel is always a type (REF)
	for _, sample := range samples {
		na, nt := 0, 0
		for i := range sample {
			rd := &sample[i]
			nt++
			if rd.Indel != 0 {
				na++
				sizes = append(sizes, rd.Indel)
			}
			if l := rd.QueryLen(); l > ts.maxReadLen {
				ts.maxReadLen = l
			}
		}
		frac := 0.0
		if nt > 0 {
			frac = float64(na) / float64(nt)
		}
		if !supportOK && na >= opts.MinSupport && frac >= opts.MinFraction {
			supportOK = true
		}
		if na > ts.maxSupport && frac > 0 {
			ts.maxSupport, ts.maxFraction = na, frac
		}
		nAlt += na
		nTot += nt
		ts.nReads += nt
	}
	sort.Ints(sizes)
	nTypes := 1
	for i := 1; i < len(sizes); i++ {
		if sizes[i] != sizes[i-1] {
			nTypes++
		}
	}

	// Taking totals makes it hard to call rare indels in deep multi-sample
	// pileups, hence the per-sample mode.
	if !opts.PerSampleFilter {
		supportOK = nTot > 0 &&
			float64(nAlt)/float64(nTot) >= opts.MinFraction &&
			nAlt >= opts.MinSupport
	}
	if nTypes == 1 || !supportOK {
		return typeSet{}, false
	}
	if nTypes >= maxTypes {
		log.Debug.Printf("excessive indel alleles at position %d, skipping", pos+1)
		return typeSet{}, false
	}

	// Long stretches of N in the reference can masquerade as indels,
	// sometimes thousands of bases long. Skip places where half or more of
	// the reference bases ahead are N.
	iEnd := 2 * opts.WinSize
	if ts.maxReadLen < iEnd {
		iEnd = ts.maxReadLen
	}
	iEnd += pos
	if iEnd > len(ref) {
		iEnd = len(ref)
	}
	nN := 0
	for i := pos; i < iEnd; i++ {
		if ref[i] == 'N' {
			nN++
		}
	}
	if nN*2 > iEnd-pos {
		return typeSet{}, false
	}

	// Keep only the sizes with enough pooled support. Zero always survives.
	ts.types = make([]int, 0, nTypes)
	for i := 0; i < len(sizes); {
		j := i + 1
		for j < len(sizes) && sizes[j] == sizes[i] {
			j++
		}
		count := j - i
		if sizes[i] == 0 ||
			(count >= opts.MinSupport &&
				(opts.PerSampleFilter || float64(count)/float64(nTot) >= opts.MinFraction)) {
			ts.types = append(ts.types, sizes[i])
		}
		i = j
	}
	if len(ts.types) <= 1 {
		return typeSet{}, false
	}
	for t, sz := range ts.types {
		if sz == 0 {
			ts.refIdx = t
			break
		}
	}
	return ts, true
}
