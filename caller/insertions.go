package caller

import (
	"bytes"

	"github.com/grailbio/indel/pileup"
)

// insRegistryCap bounds the distinct insertion sequences tracked per window
// slot. The expectation is a tiny number of alternatives, so a bounded
// linear scan beats a hash; overflow is silently dropped.
const insRegistryCap = 100

// insEntry is one observed insertion sequence, in base enums, with its vote
// weight. Borrowed votes are fractional and truncate, so a weight may be 0.
type insEntry struct {
	seq    []byte
	weight int
}

// insRegistry accumulates insertion observations at one consensus slot.
type insRegistry struct {
	entries []insEntry
}

// add registers weight votes for an insertion sequence, copying it on first
// sight. Sequences beyond the registry capacity are discarded.
func (r *insRegistry) add(seq []byte, weight int) {
	for i := range r.entries {
		if bytes.Equal(r.entries[i].seq, seq) {
			r.entries[i].weight += weight
			return
		}
	}
	if len(r.entries) >= insRegistryCap {
		return // too many choices; discard
	}
	s := make([]byte, len(seq))
	copy(s, seq)
	r.entries = append(r.entries, insEntry{seq: s, weight: weight})
}

func (r *insRegistry) reset() {
	r.entries = r.entries[:0]
}

// mergeByLength folds insertions of equal length but different sequences
// into a single per-base majority entry, zeroing the weight of absorbed
// entries. A base keeps its identity only with more than 60% of the votes
// at its offset; otherwise it becomes N. votes is caller-provided scratch.
func (r *insRegistry) mergeByLength(votes *[maxInsLen][5]int) {
	for j := range r.entries {
		ej := &r.entries[j]
		if ej.weight == 0 {
			continue // already merged
		}
		for l, b := range ej.seq {
			votes[l] = [5]int{}
			votes[l][b] = ej.weight
		}
		for k := j + 1; k < len(r.entries); k++ {
			ek := &r.entries[k]
			if len(ek.seq) != len(ej.seq) || ek.weight == 0 {
				continue
			}
			for l, b := range ek.seq {
				votes[l][b] += ek.weight
			}
			ej.weight += ek.weight
			ek.weight = 0
		}
		for l := range ej.seq {
			maxV, base, tot := 0, 0, 0
			for b := 0; b < 5; b++ {
				tot += votes[l][b]
				if maxV < votes[l][b] {
					maxV, base = votes[l][b], b
				}
			}
			if float64(maxV) > 0.6*float64(tot) {
				ej.seq[l] = byte(base)
			} else {
				ej.seq[l] = pileup.BaseN
			}
		}
	}
}

// insertionConsensus builds the majority-rule insertion sequence for every
// positive indel type, pooled across samples. Entries for non-insertion
// types stay nil. An N majority ends the walk early; any bases after it
// keep the zero value, i.e. A.
func insertionConsensus(samples [][]pileup.Read, types []int) [][]byte {
	inscns := make([][]byte, len(types))
	var counts [][5]int
	for t, typ := range types {
		if typ <= 0 {
			continue
		}
		if cap(counts) < typ {
			counts = make([][5]int, typ)
		}
		counts = counts[:typ]
		for i := range counts {
			counts[i] = [5]int{}
		}
		for _, sample := range samples {
			for i := range sample {
				rd := &sample[i]
				if rd.Indel != typ {
					continue
				}
				for k := 1; k <= typ; k++ {
					counts[k-1][rd.Base(rd.QPos+k)]++
				}
			}
		}
		cns := make([]byte, typ)
		for j := 0; j < typ; j++ {
			maxV, maxK := 0, -1
			for k := 0; k < 5; k++ {
				if counts[j][k] > maxV {
					maxV, maxK = counts[j][k], k
				}
			}
			if maxV > 0 {
				cns[j] = byte(maxK)
			} else {
				cns[j] = pileup.BaseN
			}
			if maxK == int(pileup.BaseN) {
				cns[j] = pileup.BaseN
				break
			}
		}
		inscns[t] = cns
	}
	return inscns
}
