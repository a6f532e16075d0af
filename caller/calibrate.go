package caller

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/indel/pileup"
)

// indelQDampen is the normalized-score ceiling above which a read's IndelQ
// is zeroed. Below it IndelQ shrinks linearly with the normalized score.
const indelQDampen = 111

// estSeqQ estimates the sequence quality of an indel of the given size
// inside a homopolymer run of length lRun. GapOpenQ and GapExtendQ are
// phred-scaled error likelihoods rather than alignment costs, so a high
// GapOpenQ means indels are rarely miscalled. Small indels score as
// open+extend; the tandem penalty caps the score as the run grows relative
// to the indel. strLen is unused by the current model.
func (c *Caller) estSeqQ(size, lRun, strLen int) int {
	q := c.opts.GapOpenQ + c.opts.GapExtendQ*(abs(size)-1)
	qh := int(float64(c.opts.TandemQ)*float64(abs(size))/float64(lRun) + .499)
	if q < qh {
		return q
	}
	return qh
}

type rankedScore struct {
	score   typeScore
	typeIdx int
}

// computeIndelQ converts per-type alignment scores into per-read calls with
// calibrated SeqQ/IndelQ, reduces the candidate types to at most four
// alleles with the reference type first, and remaps every call onto the
// retained alleles.
func (c *Caller) computeIndelQ(samples [][]pileup.Read, types []int, refIdx int,
	scores []typeScore, lRun int, qavg float64, strLen1 int,
	inscns [][]byte) *Result {

	nTypes := len(types)
	sumq := make([]int, nTypes)
	calls := make([][]Call, len(samples))
	ranks := make([]rankedScore, nTypes)

	K := 0
	for s := range samples {
		calls[s] = make([]Call, len(samples[s]))
		for i := range samples[s] {
			rd := &samples[s][i]
			row := scores[K*nTypes : (K+1)*nTypes]
			K++
			if rd.Unmapped() || rd.HasRefSkip() {
				continue // keeps the zero Call
			}
			for t := 0; t < nTypes; t++ {
				ranks[t] = rankedScore{score: row[t], typeIdx: t}
			}
			sort.Slice(ranks, func(a, b int) bool {
				return ranks[a].score.less(ranks[b].score, ranks[a].typeIdx, ranks[b].typeIdx)
			})

			// IndelQ is the score gap between the best type and the
			// reference type (or the runner-up when the reference wins).
			// SeqQ estimates whether the winning indel is real at all.
			var indelQ, seqQ int
			if ranks[0].typeIdx == refIdx {
				indelQ = ranks[1].score.raw - ranks[0].score.raw
				seqQ = c.estSeqQ(types[ranks[1].typeIdx], lRun, strLen1)
			} else {
				t := 0
				for ; t < nTypes; t++ {
					if ranks[t].typeIdx == refIdx {
						break
					}
				}
				indelQ = ranks[t].score.raw - ranks[0].score.raw
				seqQ = c.estSeqQ(types[ranks[0].typeIdx], lRun, strLen1)
			}

			// Skew SeqQ and IndelQ by a portion of the minimum quality in
			// the homopolymer around the indel site. Useful where quality
			// values wobble within homopolymers; harmful on clocked
			// sequencing technologies, hence the option.
			if c.opts.PolyMinQual {
				qpos := rd.QPos
				if qpos >= rd.SeqLen() {
					qpos = rd.SeqLen() - 1
				}
				minQ := int(rd.Qual(qpos))
				bl := qpos + 1
				if bl >= rd.SeqLen() {
					bl = qpos
				}
				baseL := rd.Base(bl)
				for l := qpos; l >= 0; l-- {
					if rd.Base(l) != baseL {
						break
					}
					if q := int(rd.Qual(l)); minQ > q {
						minQ = q
					}
				}
				if qpos+1 < rd.SeqLen() {
					base := rd.Base(qpos + 1)
					for l := qpos + 1; l < rd.SeqLen(); l++ {
						if q := int(rd.Qual(l)); minQ > q {
							minQ = q
						}
						if rd.Base(l) != base {
							break
						}
					}
				}
				seqQ = int(float64(seqQ) + math.Min(qavg/20, float64(minQ)-qavg/10))
				indelQ = int(float64(indelQ) + math.Min(qavg/20, float64(minQ)-qavg/5))
				if seqQ < 0 {
					seqQ = 0
				}
				if indelQ < 0 {
					indelQ = 0
				}
			}

			// High normalized scores mean a poor alignment per base, so
			// they drag IndelQ toward zero.
			norm := int(ranks[0].score.norm)
			if norm > indelQDampen {
				indelQ = 0
			} else {
				indelQ = int((1 - float64(norm)/indelQDampen)*float64(indelQ) + .499)
			}
			if indelQ > seqQ {
				indelQ = seqQ
			}
			if indelQ > 255 {
				indelQ = 255
			}
			if seqQ > 255 {
				seqQ = 255
			}
			calls[s][i] = Call{
				Allele: int8(ranks[0].typeIdx),
				SeqQ:   uint8(seqQ),
				IndelQ: uint8(indelQ),
			}
			sumq[ranks[0].typeIdx] += indelQ
		}
	}

	// Rank types by summed IndelQ and force the reference type to the
	// front; everything past the fourth allele is dropped.
	order := make([]int, nTypes)
	for t := range order {
		order[t] = t
	}
	sort.SliceStable(order, func(a, b int) bool {
		if sumq[order[a]] != sumq[order[b]] {
			return sumq[order[a]] > sumq[order[b]]
		}
		return order[a] < order[b]
	})
	refRank := 0
	for ; refRank < nTypes; refRank++ {
		if order[refRank] == refIdx {
			break
		}
	}
	if refRank == nTypes {
		log.Panicf("computeIndelQ: reference type missing from rank order %v", order)
	}
	if refRank > 0 {
		copy(order[1:refRank+1], order[:refRank])
		order[0] = refIdx
	}

	nAllele := nTypes
	if nAllele > 4 {
		nAllele = 4
	}
	alleles := make([]int, nAllele)
	insCons := make([][]byte, nAllele)
	for j := 0; j < nAllele; j++ {
		alleles[j] = types[order[j]]
		if inscns != nil {
			insCons[j] = inscns[order[j]]
		}
	}

	altReads := 0
	for s := range samples {
		for i := range samples[s] {
			rd := &samples[s][i]
			if rd.Unmapped() || rd.HasRefSkip() {
				continue
			}
			x := types[calls[s][i].Allele]
			j := 0
			for ; j < nAllele; j++ {
				if x == alleles[j] {
					break
				}
			}
			if j == nAllele {
				// Called type didn't survive the reduction. Still evidence
				// against the reference, so it counts as alt.
				calls[s][i] = Call{Allele: -1}
				altReads++
			} else {
				calls[s][i].Allele = int8(j)
				if j > 0 {
					altReads++
				}
			}
		}
	}

	return &Result{
		Types:    types,
		Alleles:  alleles,
		InsCons:  insCons,
		Calls:    calls,
		AltReads: altReads,
	}
}
