package repeats

// SpanUnion returns the number of sequence positions covered by at least one
// repeat in reps. reps must be ordered by Start, which is how Finder.Find
// returns them.
func SpanUnion(reps []Repeat) int {
	if len(reps) == 0 {
		return 0
	}
	tot := 0
	curStart, curEnd := reps[0].Start, reps[0].End
	for _, r := range reps[1:] {
		if r.Start > curEnd {
			tot += curEnd - curStart
			curStart, curEnd = r.Start, r.End
			continue
		}
		if r.End > curEnd {
			curEnd = r.End
		}
	}
	return tot + (curEnd - curStart)
}
