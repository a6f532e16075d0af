// Package caller implements indel discovery and genotype-quality estimation
// over pileup columns. For each candidate position it enumerates the indel
// sizes present, builds per-sample consensus pairs embedding each size,
// realigns every read against them, and emits per-read allele assignments
// with calibrated SeqQ/IndelQ values.
package caller

import (
	"fmt"

	"github.com/grailbio/indel/align"
	"github.com/grailbio/indel/pileup"
	"github.com/grailbio/indel/repeats"
)

// RepeatFinder locates short tandem repeats in a base-enum sequence.
// *repeats.Finder is the standard implementation.
type RepeatFinder interface {
	Find(seq []byte) []repeats.Repeat
}

// Aligner scores query against target with free gaps at the target ends.
// *align.Glocal is the standard implementation.
type Aligner interface {
	Score(target, query []byte, scale, delBias float64) (score int, ok bool)
}

// Call is one read's assignment at a called position.
type Call struct {
	// Allele indexes Result.Alleles. -1 marks a read whose best type was
	// dropped by the allele reduction. Reads that were never scored
	// (unmapped, reference skips) keep the zero value.
	Allele int8
	SeqQ   uint8
	IndelQ uint8
}

// Result is the outcome of evaluating one position.
type Result struct {
	// Types holds the distinct indel sizes considered, ascending. Size 0
	// is the reference type.
	Types []int
	// Alleles holds the retained sizes after reduction, reference type
	// first, at most four.
	Alleles []int
	// InsCons holds the insertion consensus per retained allele, nil for
	// the reference and for deletions.
	InsCons [][]byte
	// IndelReg is the number of reference bases after the position that
	// the indel could shift into, eg for building REF/ALT strings.
	IndelReg int
	// MaxSupport and MaxFraction describe the best-supported non-reference
	// type in any single sample.
	MaxSupport  int
	MaxFraction float64
	// Calls mirrors the sample/read layout of the input.
	Calls [][]Call
	// AltReads counts reads assigned a non-reference allele, dropped
	// types included.
	AltReads int
}

// Caller evaluates pileup columns for indels. It reuses internal scratch
// between positions and is not safe for concurrent use; CallBatch runs one
// Caller per shard.
type Caller struct {
	opts    Opts
	finder  RepeatFinder
	aligner Aligner
	diags   Diagnostics

	// Longest repeat span and unit count seen at the current position.
	strLen1 int
	strLen2 int

	// Consensus scratch, sized to the evaluation window.
	consBase [][6]int
	refBase  [][6]int
	consIns  []insRegistry
	refIns   []insRegistry
	hetIns   []int8
	hetDel   []int8
	consBuf  [2][]byte
	insBuf   []byte
	insVotes [maxInsLen][5]int

	queryBuf []byte
	qualBuf  []byte
	scores   []typeScore
}

// New returns a Caller with the standard repeat finder and aligner.
func New(opts Opts) *Caller {
	return NewWith(opts, &repeats.Finder{}, &align.Glocal{})
}

// NewWith returns a Caller with explicit repeat-finding and alignment
// implementations.
func NewWith(opts Opts, finder RepeatFinder, aligner Aligner) *Caller {
	return &Caller{
		opts:    opts,
		finder:  finder,
		aligner: aligner,
		insBuf:  make([]byte, 0, maxInsLen),
	}
}

// Diagnostics returns the ref/alt histograms accumulated over all calls
// made with this Caller.
func (c *Caller) Diagnostics() *Diagnostics {
	return &c.diags
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// refBaseMask returns the nt16 bit of the reference base at i: A=1, C=2,
// G=4, T=8. Past-the-end or ambiguous bases match anything.
func refBaseMask(ref []byte, i int) int {
	if i >= len(ref) {
		return 0xf
	}
	switch ref[i] {
	case 'A', 'a':
		return 1
	case 'C', 'c':
		return 2
	case 'G', 'g':
		return 4
	case 'T', 't':
		return 8
	}
	return 0xf
}

// insBaseMask maps a base enum to its nt16 bit, with N matching anything.
var insBaseMask = [6]int{1, 2, 4, 8, 0xf, 0}

// Call evaluates the reference position pos against the pileup reads in
// samples. It returns (nil, nil) when the position has no indel evidence or
// the evidence fails the support thresholds, and a Result otherwise. ref is
// the full reference sequence of the contig.
func (c *Caller) Call(samples [][]pileup.Read, pos int, ref []byte) (*Result, error) {
	if len(ref) == 0 {
		return nil, fmt.Errorf("caller.Call: empty reference")
	}
	if pos < 0 || pos >= len(ref) {
		return nil, fmt.Errorf("caller.Call: position %d outside reference of length %d", pos, len(ref))
	}

	hasIndel := false
	for _, sample := range samples {
		for i := range sample {
			if sample[i].Indel != 0 {
				hasIndel = true
				break
			}
		}
		if hasIndel {
			break
		}
	}
	if !hasIndel {
		return nil, nil
	}

	// Average base quality near each read's indel site, used throughout
	// as the prior for how much to trust quality values.
	qsum, qcount := 0.0, 0.0
	for _, sample := range samples {
		for i := range sample {
			rd := &sample[i]
			kstart := rd.QPos - qualWindow
			if kstart < 0 {
				kstart = 0
			}
			kend := rd.QPos + qualWindow
			if kend > rd.SeqLen() {
				kend = rd.SeqLen()
			}
			for k := kstart; k < kend; k++ {
				qsum += float64(rd.Qual(k))
				qcount++
			}
		}
	}
	qavg := (qsum + 1) / (qcount + 1)

	ts, ok := findTypes(&c.opts, samples, pos, ref)
	if !ok {
		return nil, nil
	}
	nTypes := len(ts.types)

	// The evaluation window scales with the largest indel but is capped
	// at WinSize either side; deletions extend the right edge so their
	// full span stays in view.
	biggest := abs(ts.types[0])
	if a := abs(ts.types[nTypes-1]); a > biggest {
		biggest = a
	}
	maxIndel := 20*biggest + c.opts.WinSize/4
	if maxIndel > c.opts.WinSize {
		maxIndel = c.opts.WinSize
	}
	left := pos - maxIndel
	if left < 0 {
		left = 0
	}
	right := pos + maxIndel
	if ts.types[0] < 0 {
		right -= ts.types[0]
	}
	if right > len(ref) {
		right = len(ref)
	}

	maxIns := ts.types[nTypes-1] // at least 0
	lRun := repeats.HomopolymerRun(ref, pos)
	lRunBase := refBaseMask(ref, pos+1)
	lRunIns := 0

	var inscns [][]byte
	if maxIns > 0 {
		inscns = insertionConsensus(samples, ts.types)
	}

	biggestDel, biggestIns := 0, 0
	for _, typ := range ts.types {
		if typ < biggestDel {
			biggestDel = typ
		}
		if typ > biggestIns {
			biggestIns = typ
		}
	}
	band := biggestIns - biggestDel // del is negative

	c.strLen1, c.strLen2 = lRun, lRun/4

	if cap(c.scores) < ts.nReads*nTypes {
		c.scores = make([]typeScore, ts.nReads*nTypes)
	}
	scores := c.scores[:ts.nReads*nTypes]

	indelReg := 0
	for ti, typ := range ts.types {
		var ir int
		switch {
		case typ == 0:
			ir = 0
		case typ > 0:
			ir = repeats.Extent(ref, pos, typ, inscns[ti])
		default:
			ir = repeats.Extent(ref, pos, -typ, nil)
		}
		if ir > indelReg {
			indelReg = ir
		}

		K := 0
		for s := range samples {
			var pair consensusPair
			pair, band = c.buildConsensus(samples[s], pos, ref, left, right, typ, biggestDel, band)

			// An insertion made of the same base as the flanking
			// homopolymer keeps the run penalty; a different base
			// breaks the run.
			if pair.posIdx >= 0 && pair.posIdx < len(pair.seq[0]) {
				k := pair.seq[0][pair.posIdx]
				j := 0
				for ; j < typ && pair.posIdx+j < len(pair.seq[0]); j++ {
					if pair.seq[0][pair.posIdx+j] != k {
						break
					}
				}
				if j > 0 && j == typ {
					lRunIns |= insBaseMask[k]
				}
			}
			if typ < 0 {
				lRunIns |= 0xff
			}

			// Repeats anywhere in the consensus stretch how far a read
			// must reach to anchor an alignment.
			consRepSpan := repeats.SpanUnion(c.finder.Find(pair.seq[0]))

			for i := range samples[s] {
				rd := &samples[s][i]
				sIdx := K*nTypes + ti
				K++

				if ti == 0 {
					c.diags.record(rd)
				}
				if rd.Unmapped() || rd.HasRefSkip() {
					scores[sIdx] = typeScoreMax
					continue
				}

				// Long reads carry enough context to evaluate from a
				// narrower window, and there are many more of their
				// candidate sites to get through.
				minWin := -biggestDel
				if biggestIns > minWin {
					minWin = biggestIns
				}
				minWin += abs(pair.leftShift) + abs(pair.rightShift) + consRepSpan + 10
				left2, right2 := left, right
				if rd.SeqLen() > longReadLen {
					if pos-left >= minWin && left2 < pos-minWin {
						left2 = pos - minWin
					}
					if right-pos >= minWin && right2 > pos+minWin {
						right2 = pos + minWin
					}
				}

				rStart := rd.Start()
				rEnd := rd.End() - 1

				qbeg, tbegRaw := rd.RefToQuery(left2, false)
				qpos, _ := rd.RefToQuery(pos, false)
				qpos -= qbeg
				qend, tendRaw := rd.RefToQuery(right2, true)

				query := c.queryBuf[:0]
				for l := qbeg; l < qend; l++ {
					query = append(query, rd.Base(l))
				}
				c.queryBuf = query

				mw := -biggestDel
				if biggestIns > mw {
					mw = biggestIns
				}
				wband := band + 2*mw + 20
				off := left2 - left
				tend1 := left + len(pair.seq[0]) - off
				if tend1 > tendRaw+wband {
					tend1 = tendRaw + wband
				}
				tend2 := left + len(pair.seq[1]) - off
				if tend2 > tendRaw+wband {
					tend2 = tendRaw + wband
				}
				tbeg := tbegRaw - wband
				if tbeg < left2 {
					tbeg = left2
				}

				if tendRaw > tbeg && qend > qbeg &&
					off <= len(pair.seq[0]) && off <= len(pair.seq[1]) {
					scores[sIdx] = c.alignScore(rd, typ,
						pair.seq[0][off:], pair.seq[1][off:], query,
						rStart, rEnd, tbeg, tend1, tend2, left2,
						qbeg, qend, qpos, qavg)
				} else {
					// Read footprint lies entirely within a deletion.
					scores[sIdx] = typeScoreMax
				}
			}
		}
	}

	if lRunBase&lRunIns == 0 {
		lRun = 1 // insertion of a different base type than the flanking run
	}

	res := c.computeIndelQ(samples, ts.types, ts.refIdx, scores, lRun, qavg, c.strLen1, inscns)
	res.IndelReg = indelReg
	res.MaxSupport = ts.maxSupport
	res.MaxFraction = ts.maxFraction
	if res.AltReads == 0 {
		return nil, nil
	}
	return res, nil
}
