package caller

import (
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/indel/pileup"
)

// Consensus voting cutoffs.
const (
	consCutoff    = .40 // majority needed to call a base, or het indel evidence
	consCutoffHom = .80 // majority above which an indel is taken as homozygous
	consCutoffIns = .60 // majority needed for inserted bases; below it they are N
	consCutoffAlt = .30 // weaker het evidence, deferred to the alternative pass
)

// consensusPair is the dual consensus for one (sample, indel type) pair.
// seq[0] is the most likely haplotype and seq[1] the heterozygous
// alternative; both embed strongly homozygous indels and the indel under
// evaluation. Bases are pileup enums. The slices alias scratch owned by the
// Caller and are only valid until its next buildConsensus call.
type consensusPair struct {
	seq [2][]byte
	// posIdx is the index in seq[0] of the first base after the call
	// site, or -1 when the window ends at the site.
	posIdx int
	// leftShift is the net count of inserted(+) minus deleted(-) bases
	// placed before the call site; rightShift counts indel bases after
	// it. Both are taken from the first pass.
	leftShift  int
	rightShift int
}

// resizeConsensus readies the per-slot accumulators for a window of n slots.
func (c *Caller) resizeConsensus(n int) {
	if cap(c.consBase) < n {
		c.consBase = make([][6]int, n)
		c.refBase = make([][6]int, n)
		c.consIns = make([]insRegistry, n)
		c.refIns = make([]insRegistry, n)
		c.hetIns = make([]int8, n)
		c.hetDel = make([]int8, n)
	}
	c.consBase = c.consBase[:n]
	c.refBase = c.refBase[:n]
	c.consIns = c.consIns[:n]
	c.refIns = c.refIns[:n]
	c.hetIns = c.hetIns[:n]
	c.hetDel = c.hetDel[:n]
	for i := 0; i < n; i++ {
		c.consBase[i] = [6]int{}
		c.refBase[i] = [6]int{}
		c.consIns[i].reset()
		c.refIns[i].reset()
		c.hetIns[i] = 0
		c.hetDel[i] = 0
	}
}

// buildConsensus computes the dual consensus across [left,right) for one
// sample and one indel type, and returns it along with the updated band
// estimate (the largest deviation from the alignment diagonal seen so far).
//
// Reads whose indel matches typ vote into the primary accumulators; the
// remainder vote into reference accumulators, a damped fraction of which is
// borrowed back so that shallow slots are not dominated by sequencing
// error. Very low coverage due to most reads carrying another type still
// yields a usable consensus that way, while conflicted slots degrade to N
// rather than flipping to a correlated variant.
func (c *Caller) buildConsensus(sample []pileup.Read, pos int, ref []byte,
	left, right, typ, biggestDel, band int) (consensusPair, int) {

	n := right - left
	c.resizeConsensus(n)

	// Accumulate read observations into the per-slot counters.
	for rdIdx := range sample {
		rd := &sample[rdIdx]
		x := rd.Rec.Pos
		y := 0
		localBand, localBandMax := 0, 0
		for _, co := range rd.Rec.Cigar {
			opLen := co.Len()
			switch co.Type() {
			case sam.CigarSoftClipped:
				y += opLen

			case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
				for j := 0; j < opLen; j++ {
					xx := x + j
					if xx < left {
						continue
					}
					if xx >= right {
						break
					}
					b := rd.Base(y + j)
					if rd.Indel == typ {
						c.consBase[xx-left][b]++
					} else if xx != pos+1 { // the indel site under assessment
						c.refBase[xx-left][b]++
					}
				}
				x += opLen
				y += opLen

			case sam.CigarInsertion:
				if x >= left && x < right {
					localBand += rd.Indel
					if localBandMax < localBand {
						localBandMax = localBand
					}
				}
				ins := c.insBuf[:0]
				for j := 0; j < opLen && j < maxInsLen; j++ {
					ins = append(ins, rd.Base(y+j))
				}
				y += opLen
				// Insertions precede a reference match, so consensus
				// choice happens at the position of that match.
				if x >= left && x < right {
					if rd.Indel == typ {
						// Any insertion of the same size counts as the
						// same insertion; this rescues misaligned ones.
						c.consIns[x-left].add(ins, 1)
					} else if x != pos+1 {
						c.refIns[x-left].add(ins, 1)
					}
				}
				c.insBuf = ins[:0]

			case sam.CigarDeletion:
				if x >= left && x < right {
					localBand += rd.Indel
					if localBandMax < -localBand {
						localBandMax = -localBand
					}
				}
				skipTo := 0
				for j := 0; j < opLen; j++ {
					px := x + j
					if px < left {
						continue
					}
					if px >= right {
						break
					}
					switch {
					case (rd.Indel == typ && !rd.IsDel) ||
						(rd.Indel == 0 && rd.IsDel && opLen == -typ):
						c.consBase[px-left][pileup.BaseGap]++
					case px+opLen <= pos+1 || (skipTo != 0 && px > skipTo):
						c.refBase[px-left][pileup.BaseGap]++
					case px <= pos && px+opLen > pos+1 && px > skipTo:
						// A deletion overlapping pos but of another type
						// would bias the evaluation toward a secondary
						// consensus; skip its span.
						skipTo = px + opLen
					}
				}
				x += opLen
			}
		}
		if band < localBandMax {
			band = localBandMax
		}
	}

	// Borrow a damped fraction of the non-type depth into each slot. The
	// slots overlapping the indel itself stay pure, as evidence from other
	// types there would harm the call.
	for i := 0; i < n; i++ {
		t := 0
		for _, v := range c.consBase[i] {
			t += v
		}
		for _, e := range c.consIns[i].entries {
			t += e.weight
		}
		r := 0
		for _, v := range c.refBase[i] {
			r += v
		}
		for _, e := range c.refIns[i].entries {
			r += e.weight
		}
		rfract := float64(r-2*t) * .75 / float64(r+1)
		if low := 1.01 / (float64(r) + 1e-10); rfract < low {
			rfract = low // low depth compensation
		}
		if i+left >= pos+1 && i+left < pos+1-biggestDel {
			continue
		}
		for b := 0; b < 6; b++ {
			c.consBase[i][b] += int(rfract * float64(c.refBase[i][b]))
		}
		for _, e := range c.refIns[i].entries {
			c.consIns[i].add(e.seq, int(rfract*float64(e.weight)))
		}
	}

	for i := 0; i < n; i++ {
		c.consIns[i].mergeByLength(&c.insVotes)
	}

	// Walk the counters twice. Strongly homozygous indels and the indel
	// under evaluation go into both sequences; heterozygous candidates go
	// into seq[0] on the first pass, and the ones deferred there are
	// realized in seq[1] on the second.
	pair := consensusPair{posIdx: -1}
	for cnum := 0; cnum < 2; cnum++ {
		out := c.consBuf[cnum][:0]
		for i := 0; i < n; i++ {
			if i >= pos-left+1 && pair.posIdx == -1 {
				pair.posIdx = len(out)
			}

			// Top two base calls at this slot.
			maxV, maxV2, tot := 0, 0, 0
			maxJ, maxJ2 := int(pileup.BaseN), int(pileup.BaseN)
			for j := 0; j < 6; j++ {
				v := c.consBase[i][j]
				if maxV < v {
					maxV2, maxJ2 = maxV, maxJ
					maxV, maxJ = v, j
				} else if maxV2 < v {
					maxV2, maxJ2 = v, j
				}
				tot += v
			}

			// Top insertion. tot counts the base following an insertion,
			// so it includes reads with and without one.
			maxVIns, maxJIns, totIns := 0, 0, 0
			for j := range c.consIns[i].entries {
				w := c.consIns[i].entries[j].weight
				if w == 0 {
					continue // merged away
				}
				if maxVIns < w {
					maxVIns, maxJIns = w, j
				}
				totIns += w
			}

			alwaysIns := (i == pos-left+1 && typ > 0) ||
				float64(maxVIns) > consCutoffHom*float64(tot)
			hetIns := false
			if !alwaysIns && maxVIns >= c.opts.MinSupport {
				if cnum == 0 {
					hetIns = float64(maxVIns) > consCutoff*float64(tot)
					switch {
					case hetIns:
						c.hetIns[i] = 1
					case float64(maxVIns) > consCutoffAlt*float64(tot):
						c.hetIns[i] = -1
					default:
						c.hetIns[i] = 0
					}
				} else {
					hetIns = c.hetIns[i] == -1
				}
			}
			if (alwaysIns || hetIns) && len(c.consIns[i].entries) > 0 {
				e := &c.consIns[i].entries[maxJIns]
				if float64(e.weight) > consCutoffIns*float64(totIns) {
					for _, b := range e.seq {
						if cnum == 0 {
							if len(out) < pos-left+pair.leftShift {
								pair.leftShift++
							} else {
								pair.rightShift++
							}
						}
						out = append(out, b)
					}
				} else {
					for range e.seq {
						out = append(out, pileup.BaseN)
					}
				}
			}

			// Deletions, then the remaining easy case of a base or N.
			gap := c.consBase[i][pileup.BaseGap]
			alwaysDel := (typ < 0 && i > pos-left && i <= pos-left-typ) ||
				float64(gap) > consCutoffHom*float64(tot)
			hetDel := false
			if !alwaysDel && gap >= c.opts.MinSupport {
				if cnum == 0 {
					hetDel = float64(gap) >= consCutoff*float64(tot)
					if i > pos-left && i <= pos-left-biggestDel {
						c.hetDel[i] = 0
					} else {
						switch {
						case hetDel:
							c.hetDel[i] = 1
						case float64(gap) >= consCutoffAlt*float64(tot):
							c.hetDel[i] = -1
						default:
							c.hetDel[i] = 0
						}
					}
				} else {
					hetDel = c.hetDel[i] == -1
					if maxJ == int(pileup.BaseGap) && !hetDel {
						maxV, maxJ = maxV2, maxJ2
					}
				}
			}
			switch {
			case alwaysDel || hetDel:
				if cnum == 0 {
					if len(out) < pos-left+pair.leftShift {
						pair.leftShift--
					} else {
						pair.rightShift++
					}
				}
			case float64(maxV) > consCutoff*float64(tot):
				out = append(out, byte(maxJ))
			case maxV > 0:
				out = append(out, pileup.BaseN)
			default:
				b := byte(pileup.BaseN)
				if left+len(out) < len(ref) {
					b = pileup.ASCIIToEnumTable[ref[left+len(out)]]
				}
				out = append(out, b)
			}
		}
		c.consBuf[cnum] = out
		pair.seq[cnum] = out
	}
	return pair, band
}
