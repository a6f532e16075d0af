package repeats

import "testing"

func TestSpanUnion(t *testing.T) {
	tests := []struct {
		reps []Repeat
		want int
	}{
		{nil, 0},
		{[]Repeat{{0, 4, 1}}, 4},
		{[]Repeat{{0, 4, 1}, {6, 10, 2}}, 8},
		{[]Repeat{{0, 4, 1}, {2, 8, 2}}, 8},
		// Contained and duplicate-period repeats never add to the span.
		{[]Repeat{{0, 9, 3}, {0, 2, 1}, {3, 5, 1}}, 9},
		{[]Repeat{{0, 8, 2}, {0, 8, 4}}, 8},
	}
	for _, test := range tests {
		if got := SpanUnion(test.reps); got != test.want {
			t.Errorf("SpanUnion(%v): got %d, want %d", test.reps, got, test.want)
		}
	}
}
