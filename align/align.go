// Package align implements the approximate-alignment primitive used for
// scoring reads against candidate consensus sequences: a glocal (infix) edit
// distance, where the alignment must consume the whole query but may start
// and end anywhere inside the target.
package align

// A Glocal aligns queries against target infixes with unit edit costs. It
// reuses its row buffers across calls, so a single Glocal must not be shared
// between goroutines.
type Glocal struct {
	prev []int
	cur  []int
}

// Score aligns query against the best-matching infix of target and returns
//
//	scale * (distance - delBias*(span - len(query)))
//
// truncated toward zero, where distance is the infix edit distance and span
// is the number of target bases the alignment consumes. A positive delBias
// rewards alignments that consume more target than query, i.e. net
// deletions. ok is false when either sequence is empty.
func (g *Glocal) Score(target, query []byte, scale, delBias float64) (score int, ok bool) {
	dist, span, ok := g.align(target, query)
	if !ok {
		return 0, false
	}
	return int(scale * (float64(dist) - delBias*float64(span-len(query)))), true
}

// Distance returns the infix edit distance and the consumed target span
// without any scaling.
func (g *Glocal) Distance(target, query []byte) (dist, span int, ok bool) {
	return g.align(target, query)
}

// align runs two banded-free passes: forward to find the distance and the
// end of the best alignment, then backward over the prefix to recover how
// much target it consumed. Ties prefer the leftmost end, then the shortest
// span.
func (g *Glocal) align(target, query []byte) (dist, span int, ok bool) {
	n, m := len(target), len(query)
	if n == 0 || m == 0 {
		return 0, 0, false
	}
	prev, cur := growRow(g.prev, n+1), growRow(g.cur, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = 0
	}
	for i := 1; i <= m; i++ {
		cur[0] = i
		qc := query[i-1]
		for j := 1; j <= n; j++ {
			best := prev[j-1]
			if qc != target[j-1] {
				best++
			}
			if v := prev[j] + 1; v < best {
				best = v
			}
			if v := cur[j-1] + 1; v < best {
				best = v
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	// Alignments end at a target character, so the empty infix at column 0
	// is never chosen; it can tie the minimum but never beat it.
	dist, endCol := prev[1], 1
	for j := 2; j <= n; j++ {
		if prev[j] < dist {
			dist, endCol = prev[j], j
		}
	}

	// Backward pass over target[:endCol] with both sequences reversed; the
	// first column attaining dist is the consumed span.
	for j := 0; j <= endCol; j++ {
		cur[j] = 0
	}
	prev, cur = cur, prev
	for i := 1; i <= m; i++ {
		cur[0] = i
		qc := query[m-i]
		for j := 1; j <= endCol; j++ {
			best := prev[j-1]
			if qc != target[endCol-j] {
				best++
			}
			if v := prev[j] + 1; v < best {
				best = v
			}
			if v := cur[j-1] + 1; v < best {
				best = v
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	span = endCol
	for j := 1; j <= endCol; j++ {
		if prev[j] == dist {
			span = j
			break
		}
	}
	g.prev, g.cur = prev, cur
	return dist, span, true
}

func growRow(row []int, n int) []int {
	if cap(row) < n {
		return make([]int, n)
	}
	return row[:n]
}
