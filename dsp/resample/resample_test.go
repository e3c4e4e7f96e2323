package resample

import (
	"testing"

	"github.com/cwbudde/algo-deconv/internal/testutil"
)

func TestFactor(t *testing.T) {
	for _, tc := range []struct {
		rate, target float64
		want         int
	}{
		{30, 300, 10},
		{30, 30, 1},
		{30, 15, 1},
		{20, 300, 15},
		{30, 100, 3},
		{0, 100, 1},
	} {
		if got := Factor(tc.rate, tc.target); got != tc.want {
			t.Errorf("Factor(%v, %v) = %d, want %d", tc.rate, tc.target, got, tc.want)
		}
	}
}

func TestUpsampleLinearPattern(t *testing.T) {
	up := Upsample([]float64{0, 3, 6}, 3)
	want := []float64{0, 1, 2, 3, 4, 5, 6, 6, 6}

	testutil.RequireSliceNearlyEqual(t, up, want, 1e-12)
}

func TestUpsamplePreservesOriginalSamples(t *testing.T) {
	trace := []float64{1, 5, 2, 8}
	up := Upsample(trace, 4)

	if len(up) != 16 {
		t.Fatalf("length = %d, want 16", len(up))
	}
	for i, v := range trace {
		if up[i*4] != v {
			t.Fatalf("sample %d: got %v, want %v", i, up[i*4], v)
		}
	}
}

func TestUpsampleIdentityAtFactorOne(t *testing.T) {
	trace := []float64{1, 2, 3}
	up := Upsample(trace, 1)

	if len(up) != 3 || up[0] != 1 || up[1] != 2 || up[2] != 3 {
		t.Fatalf("got %v", up)
	}

	up[0] = 99
	if trace[0] == 99 {
		t.Fatal("Upsample must copy, not alias")
	}
}

func TestUpsampleEmptyAndSingle(t *testing.T) {
	if got := Upsample(nil, 5); len(got) != 0 {
		t.Fatalf("empty input: got %v", got)
	}

	up := Upsample([]float64{3}, 4)
	if len(up) != 4 {
		t.Fatalf("length = %d, want 4", len(up))
	}
	for _, v := range up {
		if v != 3 {
			t.Fatalf("hold value: got %v", up)
		}
	}
}

func TestDownsampleCountsBinSum(t *testing.T) {
	binary := []float64{1, 0, 1, 0, 0, 0, 1, 1, 1}
	counts := DownsampleCounts(binary, 3)

	want := []int{2, 0, 3}
	if len(counts) != len(want) {
		t.Fatalf("length = %d, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("bin %d: got %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestExpandCountsLeadingOnes(t *testing.T) {
	out := ExpandCounts([]int{2, 0, 5}, 3)
	want := []float64{1, 1, 0, 0, 0, 0, 1, 1, 1}

	testutil.RequireSliceNearlyEqual(t, out, want, 0)
}

func TestExpandDownsampleRoundTrip(t *testing.T) {
	counts := []int{0, 1, 3, 0, 2}
	factor := 4

	got := DownsampleCounts(ExpandCounts(counts, factor), factor)
	for i := range counts {
		if got[i] != counts[i] {
			t.Fatalf("bin %d: got %d, want %d", i, got[i], counts[i])
		}
	}
}
