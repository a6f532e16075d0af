package caller

import (
	"fmt"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/indel/pileup"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// refWindow builds the expected consensus: the reference over [left,right)
// with the bases in [cutFrom,cutTo) removed and ins spliced in before at.
func refWindow(ref []byte, left, right, cutFrom, cutTo, at int, ins []byte) []byte {
	out := []byte{}
	for i := left; i < right; i++ {
		if i == at {
			out = append(out, ins...)
		}
		if i >= cutFrom && i < cutTo {
			continue
		}
		out = append(out, ref[i])
	}
	return enums(out)
}

func TestBuildConsensusMatchesReference(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	left, right := pos-50, pos+50
	sample := pileupColumn(t, sr, ref, pos, 20, 0, 0)

	c := New(DefaultOpts)
	pair, band := c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	want := refWindow(ref, left, right, 0, 0, -1, nil)
	expect.EQ(t, pair.seq[0], want)
	expect.EQ(t, pair.seq[1], want)
	expect.EQ(t, pair.posIdx, pos-left+1)
	expect.EQ(t, pair.leftShift, 0)
	expect.EQ(t, pair.rightShift, 0)
	expect.EQ(t, band, 0)
}

// The deletion under evaluation is embedded in both sequences even where
// read votes alone would not call it. The window stays within read coverage
// so every slot after the deletion is voted on.
func TestBuildConsensusEmbedsDeletion(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	left, right := pos-50, pos+38
	sample := pileupColumn(t, sr, ref, pos, 20, 10, -2)

	c := New(DefaultOpts)
	pair, band := c.buildConsensus(sample, pos, ref, left, right, -2, -2, 2)
	want := refWindow(ref, left, right, pos+1, pos+3, -1, nil)
	expect.EQ(t, pair.seq[0], want)
	expect.EQ(t, pair.seq[1], want)
	expect.EQ(t, pair.posIdx, pos-left+1)
	expect.EQ(t, pair.seq[0][pair.posIdx], pileup.ASCIIToEnumTable[ref[pos+3]])
	expect.EQ(t, pair.leftShift, 0)
	expect.EQ(t, pair.rightShift, 2)
	expect.EQ(t, band, 2)
}

func TestBuildConsensusEmbedsInsertion(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	left, right := pos-50, pos+38
	sample := pileupColumn(t, sr, ref, pos, 20, 10, 2)

	c := New(DefaultOpts)
	pair, band := c.buildConsensus(sample, pos, ref, left, right, 2, 0, 2)
	want := refWindow(ref, left, right, 0, 0, pos+1, []byte("TT"))
	expect.EQ(t, pair.seq[0], want)
	expect.EQ(t, pair.seq[1], want)
	expect.EQ(t, pair.posIdx, pos-left+1)
	expect.EQ(t, pair.seq[0][pair.posIdx], pileup.BaseT)
	expect.EQ(t, pair.rightShift, 2)
	expect.EQ(t, band, 2)
}

// A single supporting read still yields the full embedded consensus, and a
// sequencing error on that read is outvoted by depth borrowed from the
// reference reads.
func TestBuildConsensusSingleSupport(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	left, right := pos-50, pos+38
	sample := pileupColumn(t, sr, ref, pos, 20, 0, 0)

	start := pos - 26
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, pos+1-start),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 60-(pos+1-start)),
	}
	seq := append(append([]byte{}, ref[start:pos+1]...), ref[pos+3:start+62]...)
	seq[140-start] = 'T' // lone mismatch
	sample = append(sample, newRead(t, sr, "lone", start, cigar, seq, pos))

	c := New(DefaultOpts)
	pair, _ := c.buildConsensus(sample, pos, ref, left, right, -2, -2, 2)
	want := refWindow(ref, left, right, pos+1, pos+3, -1, nil)
	expect.EQ(t, pair.seq[0], want)
	expect.EQ(t, pair.seq[1], want)
}

// offSiteDel builds a read whose 1-base deletion sits after dpos, away from
// the evaluated position.
func offSiteDel(t *testing.T, sr *sam.Reference, ref []byte, name string, pos, dpos int) pileup.Read {
	start := pos - 30
	m1 := dpos + 1 - start
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, m1),
		sam.NewCigarOp(sam.CigarDeletion, 1),
		sam.NewCigarOp(sam.CigarMatch, 60-m1),
	}
	seq := append(append([]byte{}, ref[start:dpos+1]...), ref[dpos+2:start+61]...)
	return newRead(t, sr, name, start, cigar, seq, pos)
}

// offSiteIns builds a read inserting one T before ipos, away from the
// evaluated position.
func offSiteIns(t *testing.T, sr *sam.Reference, ref []byte, name string, pos, ipos int) pileup.Read {
	start := pos - 30
	m1 := ipos - start
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, m1),
		sam.NewCigarOp(sam.CigarInsertion, 1),
		sam.NewCigarOp(sam.CigarMatch, 59-m1),
	}
	seq := append(append([]byte{}, ref[start:ipos]...), 'T')
	seq = append(seq, ref[ipos:start+59]...)
	return newRead(t, sr, name, start, cigar, seq, pos)
}

// A deletion carried by half the reads goes into the primary sequence on
// the first pass; with weaker support it is deferred to the second pass,
// which never shifts.
func TestBuildConsensusHetDeletion(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	dpos := pos + 10
	left, right := pos-50, pos+38
	c := New(DefaultOpts)

	// 12 of 24 reads: at or above the 40% cutoff.
	sample := pileupColumn(t, sr, ref, pos, 12, 0, 0)
	for k := 0; k < 12; k++ {
		sample = append(sample, offSiteDel(t, sr, ref, fmt.Sprintf("het%d", k), pos, dpos))
	}
	pair, _ := c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	expect.EQ(t, pair.seq[0], refWindow(ref, left, right, dpos+1, dpos+2, -1, nil))
	expect.EQ(t, pair.seq[1], refWindow(ref, left, right, 0, 0, -1, nil))
	expect.EQ(t, pair.leftShift, 0)
	expect.EQ(t, pair.rightShift, 1)

	// 8 of 24 clears only the 30% alternative cutoff.
	sample = pileupColumn(t, sr, ref, pos, 16, 0, 0)
	for k := 0; k < 8; k++ {
		sample = append(sample, offSiteDel(t, sr, ref, fmt.Sprintf("alt%d", k), pos, dpos))
	}
	pair, _ = c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	expect.EQ(t, pair.seq[0], refWindow(ref, left, right, 0, 0, -1, nil))
	expect.EQ(t, pair.seq[1], refWindow(ref, left, right, dpos+1, dpos+2, -1, nil))
	expect.EQ(t, pair.leftShift, 0)
	expect.EQ(t, pair.rightShift, 0)
}

func TestBuildConsensusHetInsertion(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	ipos := pos + 10
	left, right := pos-50, pos+38
	c := New(DefaultOpts)

	sample := pileupColumn(t, sr, ref, pos, 12, 0, 0)
	for k := 0; k < 12; k++ {
		sample = append(sample, offSiteIns(t, sr, ref, fmt.Sprintf("het%d", k), pos, ipos))
	}
	pair, _ := c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	expect.EQ(t, pair.seq[0], refWindow(ref, left, right, 0, 0, ipos, []byte("T")))
	expect.EQ(t, pair.seq[1], refWindow(ref, left, right, 0, 0, -1, nil))
	expect.EQ(t, pair.rightShift, 1)

	sample = pileupColumn(t, sr, ref, pos, 16, 0, 0)
	for k := 0; k < 8; k++ {
		sample = append(sample, offSiteIns(t, sr, ref, fmt.Sprintf("alt%d", k), pos, ipos))
	}
	pair, _ = c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	expect.EQ(t, pair.seq[0], refWindow(ref, left, right, 0, 0, -1, nil))
	expect.EQ(t, pair.seq[1], refWindow(ref, left, right, 0, 0, ipos, []byte("T")))
	expect.EQ(t, pair.rightShift, 0)
}

// Slots where no base reaches the 40% cutoff degrade to N rather than
// picking a side.
func TestBuildConsensusConflictToN(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	pos := 150
	mpos := pos + 10
	left, right := pos-50, pos+50

	alt := byte('A')
	if ref[mpos] == 'A' {
		alt = 'C'
	}
	sample := pileupColumn(t, sr, ref, pos, 3, 0, 0)
	for k := 0; k < 6; k++ {
		start := pos - 30
		seq := append([]byte{}, ref[start:start+60]...)
		if k < 3 {
			seq[mpos-start] = 'T'
		} else {
			seq[mpos-start] = alt
		}
		cigar := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 60)}
		sample = append(sample, newRead(t, sr, fmt.Sprintf("sub%d", k), start, cigar, seq, pos))
	}

	c := New(DefaultOpts)
	pair, _ := c.buildConsensus(sample, pos, ref, left, right, 0, 0, 0)
	assert.EQ(t, len(pair.seq[0]), right-left)
	expect.EQ(t, pair.seq[0][mpos-left], pileup.BaseN)
	expect.EQ(t, pair.seq[1][mpos-left], pileup.BaseN)
	expect.EQ(t, pair.seq[0][mpos-1-left], pileup.ASCIIToEnumTable[ref[mpos-1]])
}
