package caller

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestDiagnosticsMerge(t *testing.T) {
	var a, b Diagnostics
	a.AltMapQ[3] = 5
	a.RefReadPos[10] = 2
	b.AltMapQ[3] = 7
	b.RefSoftClip[0] = 4
	b.AltReadPos[99] = 1

	m := a.Merge(b)
	expect.EQ(t, m.AltMapQ[3], int64(12))
	expect.EQ(t, m.RefReadPos[10], int64(2))
	expect.EQ(t, m.RefSoftClip[0], int64(4))
	expect.EQ(t, m.AltReadPos[99], int64(1))

	// Merge is by value and leaves its operands alone.
	expect.EQ(t, a.AltMapQ[3], int64(5))
	expect.EQ(t, b.AltMapQ[3], int64(7))
}

func TestDiagnosticsWriteTSV(t *testing.T) {
	var d Diagnostics
	d.AltMapQ[0] = 3
	d.RefMapQ[0] = 5
	d.AltSoftClip[2] = 9
	d.RefReadPos[50] = 7

	var buf bytes.Buffer
	assert.NoError(t, d.WriteTSV(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 1+nMapQBuckets+nClipBuckets+nPosBuckets)
	expect.EQ(t, lines[0], "#STAT\tBUCKET\tALT\tREF")
	expect.EQ(t, lines[1], "mapq\t0\t3\t5")
	expect.EQ(t, lines[1+nMapQBuckets+2], "softclip\t2\t9\t0")
	expect.EQ(t, lines[1+nMapQBuckets+nClipBuckets+50], "readpos\t50\t0\t7")
}

func TestDiagnosticsRecord(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	var d Diagnostics

	// A deletion carrier with MapQ 60: top mapq bucket, no clipping, indel
	// site at mid-read.
	pos := 150
	start := pos - 30
	cigarDel := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, pos+1-start),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 60-(pos+1-start)),
	}
	seq := append(append([]byte{}, ref[start:pos+1]...), ref[pos+3:start+62]...)
	alt := newRead(t, sr, "alt", start, cigarDel, seq, pos)
	d.record(&alt)
	expect.EQ(t, d.AltMapQ[nMapQBuckets-1], int64(1))
	expect.EQ(t, d.AltSoftClip[0], int64(1))
	expect.EQ(t, d.AltReadPos[50], int64(1))
	expect.EQ(t, d.RefMapQ[nMapQBuckets-1], int64(0))

	// A soft-clipped reference read with a lower mapping quality.
	cigarClip := sam.Cigar{
		sam.NewCigarOp(sam.CigarSoftClipped, 10),
		sam.NewCigarOp(sam.CigarMatch, 50),
	}
	clipSeq := append(bytes.Repeat([]byte{'T'}, 10), ref[130:180]...)
	refRead := newRead(t, sr, "clip", 130, cigarClip, clipSeq, 135)
	refRead.Rec.MapQ = 20
	d.record(&refRead)
	expect.EQ(t, d.RefMapQ[20], int64(1))
	expect.EQ(t, d.RefSoftClip[2], int64(1))
	expect.EQ(t, d.RefReadPos[10], int64(1))
}
