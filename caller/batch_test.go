package caller

import (
	"testing"

	"github.com/grailbio/indel/pileup"
	"github.com/stretchr/testify/require"
)

// CallBatch must agree with a sequential Caller on every position, and its
// merged diagnostics must match the sequential accumulation.
func TestCallBatchParity(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)

	positions := []Position{
		{Pos: 150, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 150, 20, 10, -2)}},
		{Pos: 210, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 210, 15, 5, 2)}},
		{Pos: 120, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 120, 25, 0, 0)}},
		{Pos: 250, Ref: ref, Samples: [][]pileup.Read{
			append(pileupColumn(t, sr, ref, 250, 20, 10, -2), pileupColumn(t, sr, ref, 250, 0, 8, 2)...),
			pileupColumn(t, sr, ref, 250, 10, 4, 2),
		}},
		{Pos: 80, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 80, 12, 3, -1)}},
	}

	seq := New(DefaultOpts)
	want := make([]*Result, len(positions))
	for i, p := range positions {
		res, err := seq.Call(p.Samples, p.Pos, p.Ref)
		require.NoError(t, err)
		want[i] = res
	}

	got, diags, err := CallBatch(DefaultOpts, positions, 2)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.Equal(t, want[i], got[i], "position %d", i)
	}
	require.Equal(t, *seq.Diagnostics(), diags)

	require.NotNil(t, got[0])
	require.Nil(t, got[2]) // all-reference column makes no call
}

func TestCallBatchParallelismBounds(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	positions := []Position{
		{Pos: 150, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 150, 20, 10, -2)}},
		{Pos: 210, Ref: ref, Samples: [][]pileup.Read{pileupColumn(t, sr, ref, 210, 15, 5, 2)}},
	}

	base, baseDiags, err := CallBatch(DefaultOpts, positions, 1)
	require.NoError(t, err)

	// parallelism <= 0 falls back to NumCPU; above len(positions) it clamps.
	for _, par := range []int{0, 99} {
		got, diags, err := CallBatch(DefaultOpts, positions, par)
		require.NoError(t, err)
		require.Equal(t, base, got)
		require.Equal(t, baseDiags, diags)
	}

	results, diags, err := CallBatch(DefaultOpts, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 0)
	require.Equal(t, Diagnostics{}, diags)
}

func TestCallBatchError(t *testing.T) {
	ref := refSeq(400)
	sr := newTestRef(t)
	col := pileupColumn(t, sr, ref, 150, 20, 10, -2)
	positions := []Position{
		{Pos: 150, Ref: ref, Samples: [][]pileup.Read{col}},
		{Pos: 150, Ref: nil, Samples: [][]pileup.Read{col}},
	}
	results, _, err := CallBatch(DefaultOpts, positions, 2)
	require.Error(t, err)
	require.Nil(t, results)
}
