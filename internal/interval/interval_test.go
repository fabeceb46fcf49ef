package interval

import (
	"errors"
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestNew_RejectsInvertedAndEmpty(t *testing.T) {
	if _, err := New(at(10, 0), at(10, 0)); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("zero-length interval: expected ErrInvalidInterval, got %v", err)
	}
	if _, err := New(at(11, 0), at(10, 0)); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("inverted interval: expected ErrInvalidInterval, got %v", err)
	}
	if _, err := New(at(10, 0), at(11, 0)); err != nil {
		t.Fatalf("valid interval rejected: %v", err)
	}
}

func TestOverlaps_AdjacencyIsNotOverlap(t *testing.T) {
	a := Interval{Start: at(10, 0), End: at(11, 0)}
	b := Interval{Start: at(11, 0), End: at(12, 0)}
	if a.Overlaps(b) || b.Overlaps(a) {
		t.Fatal("adjacent half-open intervals must not overlap")
	}

	c := Interval{Start: at(10, 30), End: at(11, 30)}
	if !a.Overlaps(c) || !c.Overlaps(a) {
		t.Fatal("strictly overlapping intervals must overlap")
	}
}

func TestContains_SharedEndpointsCount(t *testing.T) {
	outer := Interval{Start: at(9, 0), End: at(17, 0)}

	if !outer.Contains(Interval{Start: at(10, 0), End: at(11, 0)}) {
		t.Fatal("strict sub-interval must be contained")
	}
	if !outer.Contains(outer) {
		t.Fatal("an interval must contain itself")
	}
	if outer.Contains(Interval{Start: at(16, 30), End: at(17, 30)}) {
		t.Fatal("interval running past the end must not be contained")
	}
	if outer.Contains(Interval{Start: at(8, 30), End: at(9, 30)}) {
		t.Fatal("interval starting before the start must not be contained")
	}
}

func TestSubtract(t *testing.T) {
	base := Interval{Start: at(9, 0), End: at(17, 0)}

	cases := []struct {
		name  string
		block Interval
		want  []Interval
	}{
		{
			name:  "no overlap leaves base intact",
			block: Interval{Start: at(18, 0), End: at(19, 0)},
			want:  []Interval{base},
		},
		{
			name:  "middle block splits in two",
			block: Interval{Start: at(12, 0), End: at(13, 0)},
			want: []Interval{
				{Start: at(9, 0), End: at(12, 0)},
				{Start: at(13, 0), End: at(17, 0)},
			},
		},
		{
			name:  "leading block trims the front",
			block: Interval{Start: at(8, 0), End: at(10, 0)},
			want:  []Interval{{Start: at(10, 0), End: at(17, 0)}},
		},
		{
			name:  "trailing block trims the back",
			block: Interval{Start: at(16, 0), End: at(18, 0)},
			want:  []Interval{{Start: at(9, 0), End: at(16, 0)}},
		},
		{
			name:  "covering block removes everything",
			block: Interval{Start: at(8, 0), End: at(18, 0)},
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := base.Subtract(tc.block)
			assertIntervals(t, got, tc.want)
		})
	}
}

func TestUnion_MergesOverlapAndTouch(t *testing.T) {
	got := Union([]Interval{
		{Start: at(13, 0), End: at(14, 0)},
		{Start: at(9, 0), End: at(10, 30)},
		{Start: at(10, 0), End: at(11, 0)},
		{Start: at(11, 0), End: at(12, 0)},
	})
	want := []Interval{
		{Start: at(9, 0), End: at(12, 0)},
		{Start: at(13, 0), End: at(14, 0)},
	}
	assertIntervals(t, got, want)
}

func TestSubtractAll_ClipsMergesAndSweeps(t *testing.T) {
	base := Interval{Start: at(9, 0), End: at(17, 0)}
	blocks := []Interval{
		{Start: at(8, 0), End: at(9, 30)},   // clipped at the front
		{Start: at(12, 0), End: at(12, 45)}, // overlapping pair, must merge
		{Start: at(12, 30), End: at(13, 0)},
		{Start: at(20, 0), End: at(21, 0)}, // outside base entirely
	}
	got := SubtractAll(base, blocks)
	want := []Interval{
		{Start: at(9, 30), End: at(12, 0)},
		{Start: at(13, 0), End: at(17, 0)},
	}
	assertIntervals(t, got, want)
}

func TestSubtractAll_ReconstructsBase(t *testing.T) {
	// Completeness: result plus the clipped blocks must union back to base.
	base := Interval{Start: at(9, 0), End: at(17, 0)}
	blocks := []Interval{
		{Start: at(10, 0), End: at(11, 0)},
		{Start: at(14, 30), End: at(15, 15)},
	}
	free := SubtractAll(base, blocks)
	rebuilt := Union(append(free, blocks...))
	assertIntervals(t, rebuilt, []Interval{base})
}

func assertIntervals(t *testing.T, got, want []Interval) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d intervals, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("interval %d: expected [%s, %s), got [%s, %s)", i,
				want[i].Start, want[i].End, got[i].Start, got[i].End)
		}
	}
}
