package caller

import (
	"bytes"
	"math"

	"github.com/grailbio/indel/pileup"
)

// typeScore is the result of realigning one read against the consensus for
// one indel type. raw is the whole-alignment score (lower is better); norm
// is the length-normalized per-base score used later to damp IndelQ.
type typeScore struct {
	raw  int
	norm uint8
}

// typeScoreMax marks a read/type pair that could not be scored. It compares
// worse than any computed score.
var typeScoreMax = typeScore{raw: math.MaxInt32, norm: math.MaxUint8}

// less orders scores best-first, with the type index as the final
// tie-break so ranking is deterministic.
func (s typeScore) less(o typeScore, sIdx, oIdx int) bool {
	if s.raw != o.raw {
		return s.raw < o.raw
	}
	if s.norm != o.norm {
		return s.norm < o.norm
	}
	return sIdx < oIdx
}

// alignScore realigns one read against the consensus pair for one indel
// type and returns the combined score. cons0 and cons1 are the two
// consensus sequences starting at reference coordinate left2; tbeg, tend1
// and tend2 are the segment bounds in reference coordinates; qbeg and qend
// bound the read segment in query coordinates, with qpos the indel site
// relative to qbeg.
//
// The returned raw score is the better of aligning against cons1 and, when
// it differs over the segment, cons0. Short tandem repeats spanning the
// indel site feed the norm score, as indels in repeat tracts are the main
// source of spurious calls.
func (c *Caller) alignScore(rd *pileup.Read, typ int,
	cons0, cons1, query []byte,
	rStart, rEnd, tbeg, tend1, tend2, left2, qbeg, qend, qpos int,
	qavg float64) typeScore {

	atype := abs(typ)

	// The window and the consensus lengths are estimated independently, so
	// bound the segment coordinates before slicing.
	if tend1 > left2+len(cons0) {
		tend1 = left2 + len(cons0)
	}
	if tend2 > left2+len(cons1) {
		tend2 = left2 + len(cons1)
	}
	if tend1 < left2 {
		tend1 = left2
	}
	if tend2 < left2 {
		tend2 = left2
	}
	if tbeg > tend1 {
		tbeg = tend1
	}
	if tbeg > tend2 {
		tbeg = tend2
	}

	// Trim poly-N at the segment ends, leaving at most the indel length.
	// This keeps the target and query lengths similar, reducing the chance
	// of a negative alignment score.
	l := 0
	for ; l < tend1-tbeg && l < tend2-tbeg; l++ {
		if cons0[l+tbeg-left2] != pileup.BaseN || cons1[l+tbeg-left2] != pileup.BaseN {
			break
		}
	}
	if l > atype {
		tbeg += l - atype
	}
	l = tend1 - tbeg - 1
	for ; l >= 0; l-- {
		if cons0[l+tbeg-left2] != pileup.BaseN {
			break
		}
	}
	if n := tend1 - tbeg - 1 - l; n > atype {
		tend1 -= n - atype
	}
	l = tend2 - tbeg - 1
	for ; l >= 0; l-- {
		if cons1[l+tbeg-left2] != pileup.BaseN {
			break
		}
	}
	if n := tend2 - tbeg - 1 - l; n > atype {
		tend2 -= n - atype
	}

	qq := c.qualBuf[:0]
	for l := qbeg; l < qend; l++ {
		qv := rd.AdjustedQual(l)
		if qv > maxQual {
			qv = maxQual
		}
		if qv < minQual {
			qv = minQual
		}
		qq = append(qq, byte(qv))
	}
	c.qualBuf = qq

	// Score repeats in the consensus covering the indel site. An indel
	// inside a repeat tract, and especially one reaching the end of the
	// read, carries much weaker evidence of its exact length.
	seg := cons1[tbeg-left2 : tend2-left2]
	iscore := 0
	m2 := 0.0
	mn, m2min := 0, math.MaxInt32
	for _, rep := range c.finder.Find(seg) {
		if rep.Start > qpos || rep.End < qpos {
			continue
		}
		span := rep.End - rep.Start
		iscore += span / rep.Unit
		if c.strLen1 < span {
			c.strLen1 = span
		}
		if c.strLen2 < span/rep.Unit {
			c.strLen2 = span / rep.Unit
		}
		lo, hi := rep.Start, rep.End
		if lo < qbeg {
			lo = qbeg
		}
		if hi > qend {
			hi = qend
		}
		for l := lo; l < hi; l++ {
			q := int(qq[l-qbeg])
			m2 += float64(q)
			if m2min > q {
				m2min = q
			}
			mn++
		}
		if rep.Start+tbeg <= rStart || rep.End+tbeg >= rEnd {
			iscore += 2 * span
		}
	}
	if mn > 0 {
		m2 /= float64(mn)
	} else {
		m2min = int(qavg)
		m2 = float64(m2min)
	}
	if m2 < 1 {
		m2 = 1
	}
	mm := m2min
	if mm > maxQual {
		mm = maxQual
	}

	sc2, ok2 := c.aligner.Score(seg, query, float64(mm), c.opts.DelBias)
	ok2 = ok2 && sc2 >= 0

	sc1, ok1 := 0, false
	seg1 := cons0[tbeg-left2 : tend1-left2]
	if tend1 != tend2 || !bytes.Equal(seg1, cons1[tbeg-left2:tend1-left2]) {
		sc1, ok1 = c.aligner.Score(seg1, query, float64(mm), c.opts.DelBias)
		ok1 = ok1 && sc1 >= 0
	}
	switch {
	case !ok1 && !ok2:
		return typeScoreMax
	case !ok2:
		sc2 = sc1
	case ok1 && sc1 < sc2:
		sc2 = sc1
	}

	// norm starts as the average score per base and is then bumped by the
	// repeat evidence, scaled by how trustworthy the repeat qualities are.
	ln := int(.5 * (100*float64(sc2)/float64(qend-qbeg) + .499))
	ln = int(float64(ln) + float64(iscore)*(qavg/(float64(m2min)+1) + qavg/m2))
	norm := ln * c.opts.IndelBias / 10
	if norm < 0 {
		norm = 0
	}
	if norm > 255 {
		norm = 255
	}
	return typeScore{raw: sc2, norm: uint8(norm)}
}
