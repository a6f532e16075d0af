package caller

import (
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/indel/pileup"
)

const (
	// maxTypes caps the number of distinct indel sizes considered at one
	// position; noisier positions are rejected outright.
	maxTypes = 64
	// qualWindow is the number of bases either side of a read's indel site
	// contributing to the windowed average quality.
	qualWindow = 50
	// minQual/maxQual clamp effective base qualities during alignment
	// scoring.
	minQual = 7
	maxQual = 30
	// maxInsLen truncates a single observed insertion during consensus
	// accumulation.
	maxInsLen = 1024
	// longReadLen is the read length above which the alignment window
	// shrinks to the local repeat context.
	longReadLen = 1000
)

// Histogram shapes for Diagnostics.
const (
	nMapQBuckets = 60
	nClipBuckets = 100
	nPosBuckets  = 100
)

// Opts holds the thresholds and calibration knobs for indel calling. It is
// read-only during a call.
type Opts struct {
	// MinSupport is the minimum number of reads carrying an indel size for
	// it to become a candidate allele.
	MinSupport int
	// MinFraction is the minimum fraction of reads carrying any indel for
	// the position to be considered at all.
	MinFraction float64
	// PerSampleFilter applies the MinSupport/MinFraction floor per sample.
	// When false the floor applies to the read pool across all samples,
	// which makes rare alleles in deep multi-sample pileups harder to call.
	PerSampleFilter bool
	// WinSize bounds the reference window examined either side of the
	// position.
	WinSize int
	// GapOpenQ and GapExtendQ are phred-scale priors against an indel of a
	// given size being a sequencing artifact: an indel of size l is trusted
	// at most GapOpenQ + GapExtendQ*(l-1).
	GapOpenQ   int
	GapExtendQ int
	// TandemQ is the phred-scale prior for indels inside tandem repeats,
	// scaled by indel size over homopolymer run length.
	TandemQ int
	// IndelBias scales the length-normalized alignment score before it
	// dampens IndelQ. 10 is neutral; lower calls more indels.
	IndelBias int
	// DelBias discounts net deletions when scoring an alignment, for
	// technologies whose dominant sequencing error is deletion. 0 is off.
	DelBias float64
	// PolyMinQual skews SeqQ/IndelQ by the minimum base quality within the
	// homopolymer surrounding the indel site. Helps on technologies with
	// locally mutable quality values; hurts on clocked ones.
	PolyMinQual bool
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	MinSupport:      2,
	MinFraction:     0.05,
	PerSampleFilter: false,
	WinSize:         110,
	GapOpenQ:        40,
	GapExtendQ:      20,
	TandemQ:         500,
	IndelBias:       10,
	DelBias:         0,
	PolyMinQual:     false,
}

// Diagnostics accumulates alt-vs-ref histograms over every read seen during
// calling: mapping quality, soft-clip extent, and the indel site's relative
// position in the read. They exist to aid downstream filter tuning and are
// updated as a side effect of Call.
type Diagnostics struct {
	AltMapQ     [nMapQBuckets]int64
	RefMapQ     [nMapQBuckets]int64
	AltSoftClip [nClipBuckets]int64
	RefSoftClip [nClipBuckets]int64
	AltReadPos  [nPosBuckets]int64
	RefReadPos  [nPosBuckets]int64
}

// Merge adds the counts of the two Diagnostics and returns the result.
func (d Diagnostics) Merge(o Diagnostics) Diagnostics {
	for i, n := range o.AltMapQ {
		d.AltMapQ[i] += n
	}
	for i, n := range o.RefMapQ {
		d.RefMapQ[i] += n
	}
	for i, n := range o.AltSoftClip {
		d.AltSoftClip[i] += n
	}
	for i, n := range o.RefSoftClip {
		d.RefSoftClip[i] += n
	}
	for i, n := range o.AltReadPos {
		d.AltReadPos[i] += n
	}
	for i, n := range o.RefReadPos {
		d.RefReadPos[i] += n
	}
	return d
}

// record buckets one read into the alt or ref histograms.
func (d *Diagnostics) record(rd *pileup.Read) {
	mq := int(rd.MapQ())
	if mq > nMapQBuckets-1 {
		mq = nMapQBuckets - 1
	}
	sc, ep := rd.ClipStats(nPosBuckets)
	if rd.Indel != 0 {
		d.AltMapQ[mq]++
		d.AltSoftClip[sc]++
		d.AltReadPos[ep]++
	} else {
		d.RefMapQ[mq]++
		d.RefSoftClip[sc]++
		d.RefReadPos[ep]++
	}
}

// WriteTSV dumps the histograms in long form, one bucket per row.
func (d *Diagnostics) WriteTSV(w io.Writer) error {
	tsvw := tsv.NewWriter(w)
	tsvw.WriteString("#STAT")
	tsvw.WriteString("BUCKET")
	tsvw.WriteString("ALT")
	tsvw.WriteString("REF")
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	writeHist := func(stat string, alt, ref []int64) error {
		for i := range alt {
			tsvw.WriteString(stat)
			tsvw.WriteUint32(uint32(i))
			tsvw.WriteString(strconv.FormatInt(alt[i], 10))
			tsvw.WriteString(strconv.FormatInt(ref[i], 10))
			if err := tsvw.EndLine(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeHist("mapq", d.AltMapQ[:], d.RefMapQ[:]); err != nil {
		return err
	}
	if err := writeHist("softclip", d.AltSoftClip[:], d.RefSoftClip[:]); err != nil {
		return err
	}
	if err := writeHist("readpos", d.AltReadPos[:], d.RefReadPos[:]); err != nil {
		return err
	}
	return tsvw.Flush()
}
