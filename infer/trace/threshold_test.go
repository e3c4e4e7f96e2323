package trace

import (
	"math"
	"sort"
	"testing"

	"github.com/cwbudde/algo-deconv/dsp/ar2"
)

func newTestFilter(t *testing.T, fs float64) *ar2.Filter {
	t.Helper()

	f, err := ar2.New(0.02, 0.4, fs)
	if err != nil {
		t.Fatal(err)
	}

	return f
}

func TestPadLength(t *testing.T) {
	for _, tc := range []struct {
		tauDecay, fsUp float64
		want           int
	}{
		{0.4, 30, 24},
		{0.2, 100, 40},
		{1.0, 10, 20},
	} {
		if got := padLength(tc.tauDecay, tc.fsUp); got != tc.want {
			t.Errorf("padLength(%v, %v) = %d, want %d", tc.tauDecay, tc.fsUp, got, tc.want)
		}
	}
}

func TestSearchThresholdPerfectRecovery(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 300

	sTrue := make([]float64, n)
	for _, pos := range []int{20, 80, 150, 220} {
		sTrue[pos] = 1
	}

	conv := make([]float64, n)
	f.Forward(conv, sTrue)

	y := make([]float64, n)
	for i := range y {
		y[i] = 5*conv[i] + 2
	}

	res := searchThreshold(sTrue, y, f, 0.4, 30)

	spikes := 0.0
	for _, v := range res.binary {
		spikes += v
	}
	if math.Abs(spikes-4) > 0.5 {
		t.Fatalf("expected 4 spikes, got %v", spikes)
	}
	if res.pve < 0.95 {
		t.Fatalf("PVE = %v, want > 0.95", res.pve)
	}
}

func TestSearchThresholdAlphaBaselineRecovery(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 300

	sTrue := make([]float64, n)
	sTrue[50] = 1
	sTrue[150] = 1

	conv := make([]float64, n)
	f.Forward(conv, sTrue)

	y := make([]float64, n)
	for i := range y {
		y[i] = 3.5*conv[i] + 1.5
	}

	res := searchThreshold(sTrue, y, f, 0.4, 30)
	if math.Abs(res.alpha-3.5) > 0.5 {
		t.Fatalf("alpha = %v, want ~3.5", res.alpha)
	}
	if math.Abs(res.baseline-1.5) > 0.5 {
		t.Fatalf("baseline = %v, want ~1.5", res.baseline)
	}
}

func TestSearchThresholdSeparatesValueClusters(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 500

	relaxed := make([]float64, n)
	binary := make([]float64, n)
	for _, pos := range []int{50, 120, 250, 380} {
		relaxed[pos] = 0.95
		relaxed[pos-1] = 0.3
		relaxed[pos+1] = 0.3
		binary[pos] = 1
	}

	conv := make([]float64, n)
	f.Forward(conv, binary)

	y := make([]float64, n)
	for i := range y {
		y[i] = 3*conv[i] + 1
	}

	res := searchThreshold(relaxed, y, f, 0.4, 30)
	if res.threshold <= 0.3 || res.threshold > 0.95 {
		t.Fatalf("threshold %v does not separate the clusters", res.threshold)
	}
	if res.pve < 0.9 {
		t.Fatalf("PVE = %v, want > 0.9", res.pve)
	}
}

func TestSearchThresholdAlphaNonNegative(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 100

	relaxed := make([]float64, n)
	y := make([]float64, n)
	for i := range relaxed {
		relaxed[i] = 0.5
		y[i] = 1
	}

	res := searchThreshold(relaxed, y, f, 0.4, 30)
	if res.alpha < 0 {
		t.Fatalf("alpha = %v, must be non-negative", res.alpha)
	}
}

func TestSearchThresholdEmptyRelaxed(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 100

	relaxed := make([]float64, n)
	y := make([]float64, n)
	for i := range y {
		y[i] = 2.5
	}

	res := searchThreshold(relaxed, y, f, 0.4, 30)

	for i, v := range res.binary {
		if v != 0 {
			t.Fatalf("expected empty binary train, got %v at %d", v, i)
		}
	}
	if res.alpha != 0 {
		t.Fatalf("alpha = %v, want 0", res.alpha)
	}
	if math.Abs(res.baseline-2.5) > 1e-12 {
		t.Fatalf("baseline = %v, want mean 2.5", res.baseline)
	}
}

func TestSearchThresholdEarlyStopMatchesExhaustive(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 600

	// Error curve with one clear minimum: thresholds below the noise
	// cluster admit spurious spikes, thresholds above the lowest true
	// spike value drop real ones. The 14 distinct spike values past the
	// minimum give the search more than 10 consecutive non-improvements,
	// so it stops early.
	relaxed := make([]float64, n)
	binaryTrue := make([]float64, n)
	for i := 0; i < 14; i++ {
		pos := 40 + i*38
		relaxed[pos] = 0.7 + 0.02*float64(i)
		binaryTrue[pos] = 1
	}
	for i := 0; i < 15; i++ {
		relaxed[57+i*36] = 0.02 + 0.01*float64(i)
	}

	conv := make([]float64, n)
	f.Forward(conv, binaryTrue)
	y := make([]float64, n)
	for i := range y {
		y[i] = 3*conv[i] + 1
	}

	got := searchThreshold(relaxed, y, f, 0.4, 30)

	// Exhaustive scan over every candidate value.
	pad := padLength(0.4, 30)
	vals := make([]float64, 0, n)
	for _, v := range relaxed {
		if v > 1e-10 {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	vals = dedupNear(vals)

	binBuf := make([]float64, n)
	convBuf := make([]float64, n)
	bestScore := math.Inf(1)
	bestTh := 0.0
	for _, th := range vals {
		if score := evaluateThreshold(relaxed, y, f, th, pad, binBuf, convBuf); score < bestScore {
			bestScore = score
			bestTh = th
		}
	}

	if got.score > bestScore+1e-9 {
		t.Fatalf("early-stopped score %v worse than exhaustive %v", got.score, bestScore)
	}

	want := make([]float64, n)
	binarize(want, relaxed, bestTh)
	for i := range want {
		if got.binary[i] != want[i] {
			t.Fatalf("binarization differs from exhaustive search at %d: %v vs %v", i, got.binary[i], want[i])
		}
	}
}

func TestSearchThresholdIgnoresPaddedEdges(t *testing.T) {
	f := newTestFilter(t, 30)
	n := 300
	pad := padLength(0.4, 30)

	relaxed := make([]float64, n)
	for _, pos := range []int{60, 140, 210} {
		relaxed[pos] = 1
	}

	conv := make([]float64, n)
	f.Forward(conv, relaxed)

	y := make([]float64, n)
	for i := range y {
		y[i] = 4*conv[i] + 1
	}

	base := searchThreshold(relaxed, y, f, 0.4, 30)

	// Corrupt only the excluded boundary regions.
	mutated := make([]float64, n)
	copy(mutated, y)
	for i := 0; i < pad; i++ {
		mutated[i] += 100
		mutated[n-1-i] -= 50
	}

	got := searchThreshold(relaxed, mutated, f, 0.4, 30)

	if got.threshold != base.threshold || got.alpha != base.alpha ||
		got.baseline != base.baseline || got.pve != base.pve {
		t.Fatalf("boundary mutation changed the result: %+v vs %+v", got, base)
	}
}
