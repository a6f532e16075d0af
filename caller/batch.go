package caller

import (
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/indel/pileup"
)

// Position is one pileup column queued for evaluation.
type Position struct {
	// Pos is the 0-based reference coordinate.
	Pos int
	// Ref is the full reference sequence of the contig.
	Ref []byte
	// Samples holds the pileup reads covering Pos, one slice per sample.
	Samples [][]pileup.Read
}

// CallBatch evaluates positions concurrently with up to parallelism
// goroutines (NumCPU when <= 0), one Caller per shard. results[i]
// corresponds to positions[i] and is nil where no call was made. The
// returned Diagnostics merges the histograms of all shards.
func CallBatch(opts Opts, positions []Position, parallelism int) ([]*Result, Diagnostics, error) {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(positions) {
		parallelism = len(positions)
	}
	if parallelism < 1 {
		parallelism = 1
	}
	log.Printf("CallBatch: evaluating %d positions (%d jobs)", len(positions), parallelism)
	results := make([]*Result, len(positions))
	callers := make([]*Caller, parallelism)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(positions)) / parallelism
		endIdx := ((jobIdx + 1) * len(positions)) / parallelism
		c := New(opts)
		callers[jobIdx] = c
		for i := startIdx; i < endIdx; i++ {
			res, err := c.Call(positions[i].Samples, positions[i].Pos, positions[i].Ref)
			if err != nil {
				return err
			}
			results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, Diagnostics{}, err
	}
	var diags Diagnostics
	for _, c := range callers {
		diags = diags.Merge(*c.Diagnostics())
	}
	return results, diags, nil
}
