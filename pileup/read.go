// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pileup provides the per-read, per-position view that indel calling
// consumes: each Read pairs a *sam.Record with the cigar-derived fields
// describing what the read does at one reference position.
package pileup

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// These constants have two relevant meanings:
// 1. In the .bam seq[] encoding (sam.BaseA, sam.BaseC, etc.), it's the
//    position of A's set bit.
// 2. It's the natural value for A/C/G/T in a packed 2-bit representation
//    (useful anywhere we don't have to worry about Ns).

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseN is a catch-all for N and ambiguity codes.
	BaseN
	// BaseGap marks a deleted base in consensus frequency tables. It never
	// appears in a read sequence.
	BaseGap
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseN as well as the regular base types.
	NBaseEnum = 5
	// NBaseGapEnum counts BaseGap as well.
	NBaseGapEnum = 6
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/N enum mapping.
var Seq8ToEnumTable = [...]byte{BaseN, BaseA, BaseC, BaseN, BaseG, BaseN, BaseN, BaseN, BaseT, BaseN, BaseN, BaseN, BaseN, BaseN, BaseN, BaseN}

// EnumToASCIITable is the A/C/G/T/N -> ASCII mapping.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N'}

// ASCIIToEnumTable maps reference letters to the base enum. '*' maps to
// BaseGap, 'U' to BaseT, everything unrecognized to BaseN.
var ASCIIToEnumTable [256]byte

func init() {
	for i := range ASCIIToEnumTable {
		ASCIIToEnumTable[i] = BaseN
	}
	for i, c := range []byte("ACGT") {
		ASCIIToEnumTable[c] = byte(i)
		ASCIIToEnumTable[c+'a'-'A'] = byte(i)
	}
	ASCIIToEnumTable['U'] = BaseT
	ASCIIToEnumTable['u'] = BaseT
	ASCIIToEnumTable['*'] = BaseGap
}

var zqTag = sam.Tag{'Z', 'Q'}

// Read is one aligned read's view of a single reference position. Indel is
// the length of the insertion (+) or deletion (-) immediately following the
// position, 0 for neither. QPos is the query offset of the position (for a
// read deleted at the position, the offset of the first base after the
// deletion). IsDel marks reads whose alignment deletes or skips the position
// itself.
type Read struct {
	Rec   *sam.Record
	Indel int
	QPos  int
	IsDel bool

	zq []byte
}

// NewRead derives the per-position fields of rec at pos. It validates that
// the record's sequence, qualities, and optional ZQ tag are mutually
// consistent and that the alignment covers pos.
func NewRead(rec *sam.Record, pos int) (Read, error) {
	r := Read{Rec: rec}
	_, qlen := rec.Cigar.Lengths()
	if rec.Seq.Length != qlen {
		return Read{}, errors.Errorf("pileup.NewRead: read %s: cigar implies %d bases, sequence has %d", rec.Name, qlen, rec.Seq.Length)
	}
	if len(rec.Qual) != rec.Seq.Length {
		return Read{}, errors.Errorf("pileup.NewRead: read %s: %d quality values for %d bases", rec.Name, len(rec.Qual), rec.Seq.Length)
	}
	if aux := rec.AuxFields.Get(zqTag); aux != nil {
		s, ok := aux.Value().(string)
		if !ok || len(s) != rec.Seq.Length {
			return Read{}, errors.Errorf("pileup.NewRead: read %s: malformed ZQ tag", rec.Name)
		}
		r.zq = []byte(s)
	}

	x, y := rec.Pos, 0
	for k, co := range rec.Cigar {
		opLen := co.Len()
		switch co.Type() {
		case sam.CigarSoftClipped, sam.CigarInsertion:
			y += opLen
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if x <= pos && pos < x+opLen {
				r.QPos = y + (pos - x)
				if pos == x+opLen-1 && k+1 < len(rec.Cigar) {
					switch next := rec.Cigar[k+1]; next.Type() {
					case sam.CigarInsertion:
						r.Indel = next.Len()
					case sam.CigarDeletion:
						r.Indel = -next.Len()
					}
				}
				return r, nil
			}
			x += opLen
			y += opLen
		case sam.CigarDeletion, sam.CigarSkipped:
			if x <= pos && pos < x+opLen {
				r.IsDel = true
				r.QPos = y
				return r, nil
			}
			x += opLen
		}
	}
	return Read{}, errors.Errorf("pileup.NewRead: read %s ([%d,%d)) does not cover position %d", rec.Name, rec.Pos, x, pos)
}

// SeqLen returns the number of bases in the read, soft clips included.
func (r *Read) SeqLen() int { return r.Rec.Seq.Length }

// Base returns the i-th read base as an A/C/G/T/N enum.
func (r *Read) Base(i int) byte {
	d := byte(r.Rec.Seq.Seq[i>>1])
	if i&1 == 0 {
		return Seq8ToEnumTable[d>>4]
	}
	return Seq8ToEnumTable[d&0xf]
}

// Qual returns the i-th base quality.
func (r *Read) Qual(i int) byte { return r.Rec.Qual[i] }

// AdjustedQual returns the i-th base quality with the ZQ adjustment applied
// when the read carries the tag. The result may be negative.
func (r *Read) AdjustedQual(i int) int {
	q := int(r.Rec.Qual[i])
	if r.zq != nil {
		q += int(r.zq[i]) - 64
	}
	return q
}

// MapQ returns the read's mapping quality.
func (r *Read) MapQ() byte { return r.Rec.MapQ }

// Unmapped reports whether the record is flagged unmapped.
func (r *Read) Unmapped() bool { return r.Rec.Flags&sam.Unmapped != 0 }

// HasRefSkip reports whether the alignment contains a reference-skip op.
func (r *Read) HasRefSkip() bool {
	for _, co := range r.Rec.Cigar {
		if co.Type() == sam.CigarSkipped {
			return true
		}
	}
	return false
}

// Start returns the leftmost aligned reference coordinate.
func (r *Read) Start() int { return r.Rec.Pos }

// End returns the reference coordinate just past the alignment.
func (r *Read) End() int {
	rlen, _ := r.Rec.Cigar.Lengths()
	return r.Rec.Pos + rlen
}

// QueryLen returns the query length implied by the cigar.
func (r *Read) QueryLen() int {
	_, qlen := r.Rec.Cigar.Lengths()
	return qlen
}

// RefToQuery maps the reference coordinate tpos to a query offset. When tpos
// is covered by an aligned base, the offset of that base is returned along
// with tpos itself. When tpos falls inside a deletion or reference skip, the
// offset of the next aligned base is returned, with the mapped coordinate
// snapped to the deletion's left edge when leftEdge is set, its right edge
// otherwise. Beyond the alignment, the offsets of the first/last aligned
// base and the read's start/end coordinate are returned.
func (r *Read) RefToQuery(tpos int, leftEdge bool) (qoff, tout int) {
	x, y, lastY := r.Rec.Pos, 0, 0
	for _, co := range r.Rec.Cigar {
		opLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if r.Rec.Pos > tpos {
				return y, r.Rec.Pos
			}
			if x+opLen > tpos {
				return y + (tpos - x), tpos
			}
			x += opLen
			y += opLen
			lastY = y
		case sam.CigarInsertion, sam.CigarSoftClipped:
			y += opLen
		case sam.CigarDeletion, sam.CigarSkipped:
			if x+opLen > tpos {
				if leftEdge {
					return y, x
				}
				return y, x + opLen
			}
			x += opLen
		}
	}
	return lastY, x
}

// ClipStats buckets the read's soft clipping for diagnostics: the clip-length
// bucket 15*clip/readLen capped at 99, and the indel site's relative position
// within the clipped read scaled into npos buckets.
func (r *Read) ClipStats(npos int) (scBucket, posBucket int) {
	cig := r.Rec.Cigar
	lead, trail := 0, 0
	for k := 0; k < len(cig); k++ {
		if cig[k].Type() == sam.CigarHardClipped {
			continue
		}
		if cig[k].Type() == sam.CigarSoftClipped {
			lead = cig[k].Len()
		}
		break
	}
	for k := len(cig) - 1; k > 0; k-- {
		if cig[k].Type() == sam.CigarHardClipped {
			continue
		}
		if cig[k].Type() == sam.CigarSoftClipped {
			trail = cig[k].Len()
		}
		break
	}
	l := r.SeqLen()
	if l <= 0 {
		return 0, 0
	}
	clip := lead + trail
	scBucket = 15 * clip / l
	if scBucket > 99 {
		scBucket = 99
	}
	slen := l - clip
	if slen < 1 {
		slen = 1
	}
	p := r.QPos - lead
	if p < 0 {
		p = 0
	}
	if p >= slen {
		p = slen - 1
	}
	posBucket = npos * p / slen
	return scBucket, posBucket
}
