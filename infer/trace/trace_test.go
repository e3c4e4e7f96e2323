package trace

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/algo-deconv/dsp/ar2"
)

// makeTrace synthesizes alpha*(K*spikes) + baseline at the native rate.
func makeTrace(t *testing.T, cfg Config, n int, spikes []int, alpha, baseline float64) []float64 {
	t.Helper()

	f, err := ar2.New(cfg.TauRise, cfg.TauDecay, cfg.SampleRate)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]float64, n)
	for _, s := range spikes {
		src[s] = 1
	}

	out := make([]float64, n)
	f.Forward(out, src)
	for i := range out {
		out[i] = alpha*out[i] + baseline
	}

	return out
}

func TestSolveRoundTripRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 5000

	spikes := []int{40, 100, 180, 240}
	signal := makeTrace(t, cfg, 300, spikes, 4, 1.5)

	res, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Counts) != len(signal) {
		t.Fatalf("counts length = %d, want %d", len(res.Counts), len(signal))
	}
	if res.PVE < 0.95 {
		t.Fatalf("PVE = %v, want > 0.95 on noise-free data", res.PVE)
	}

	// Every true spike recovered within a small window.
	for _, pos := range spikes {
		found := 0
		for i := pos - 2; i <= pos+2; i++ {
			found += res.Counts[i]
		}
		if found < 1 {
			t.Errorf("spike at %d not recovered", pos)
		}
	}

	total := 0
	for _, c := range res.Counts {
		total += c
	}
	if total < 3 || total > 6 {
		t.Fatalf("total count = %d, want ~4", total)
	}

	if math.Abs(res.Alpha-4) > 1 {
		t.Fatalf("alpha = %v, want ~4", res.Alpha)
	}
	if math.Abs(res.Baseline-1.5) > 0.5 {
		t.Fatalf("baseline = %v, want ~1.5", res.Baseline)
	}
}

func TestSolveZeroTrace(t *testing.T) {
	cfg := DefaultConfig()

	res, err := Solve(context.Background(), make([]float64, 200), nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i, c := range res.Counts {
		if c != 0 {
			t.Fatalf("expected zero counts, got %d at %d", c, i)
		}
	}
	if res.Alpha != 0 {
		t.Fatalf("alpha = %v, want 0", res.Alpha)
	}
	if res.Baseline != 0 {
		t.Fatalf("baseline = %v, want 0", res.Baseline)
	}
}

func TestSolveDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	signal := makeTrace(t, cfg, 250, []int{30, 90, 170}, 3, 1)

	a, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if a.Threshold != b.Threshold || a.Alpha != b.Alpha || a.PVE != b.PVE {
		t.Fatalf("runs diverge: %+v vs %+v", a, b)
	}
	for i := range a.Counts {
		if a.Counts[i] != b.Counts[i] {
			t.Fatalf("counts differ at %d", i)
		}
	}
}

func TestSolveWarmStartMatchesCold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 5000
	signal := makeTrace(t, cfg, 300, []int{40, 120, 200}, 4, 1)

	cold, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	warm, err := Solve(context.Background(), signal, cold.Counts, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if warm.Iterations > cold.Iterations {
		t.Fatalf("warm start took %d iterations, cold took %d", warm.Iterations, cold.Iterations)
	}
	for i := range cold.Counts {
		if warm.Counts[i] != cold.Counts[i] {
			t.Fatalf("warm counts differ from cold at %d", i)
		}
	}
}

func TestSolveWithUpsampling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsampleFactor = 4
	cfg.MaxIterations = 5000

	signal := makeTrace(t, cfg, 200, []int{30, 100, 160}, 4, 0.5)

	res, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Counts) != 200 {
		t.Fatalf("counts length = %d, want native length 200", len(res.Counts))
	}
	if res.PVE < 0.8 {
		t.Fatalf("PVE = %v, want > 0.8", res.PVE)
	}
}

func TestSolveDetrendRemovesDrift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detrend = true
	cfg.MaxIterations = 5000

	n := 600
	signal := makeTrace(t, cfg, n, []int{100, 250, 420}, 4, 0)
	for i := range signal {
		signal[i] += 2 + float64(i)*0.002
	}

	res, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, pos := range []int{100, 250, 420} {
		found := 0
		for i := pos - 3; i <= pos+3; i++ {
			found += res.Counts[i]
		}
		if found < 1 {
			t.Errorf("spike at %d lost under drifting baseline", pos)
		}
	}
}

func TestBaselineTrackingFollowsDetrendFlags(t *testing.T) {
	for _, tc := range []struct {
		detrend, detrended, want bool
	}{
		{false, false, true},
		{true, false, false},
		{false, true, false},
		{true, true, false},
	} {
		cfg := DefaultConfig()
		cfg.Detrend = tc.detrend
		cfg.Detrended = tc.detrended

		if got := cfg.trackBaseline(); got != tc.want {
			t.Errorf("trackBaseline with Detrend=%t Detrended=%t = %t, want %t",
				tc.detrend, tc.detrended, got, tc.want)
		}
	}
}

func TestSolveDetrendedSkipsRefiltering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 5000

	// Floor-anchored signal, as a caller-side pre-filter would leave it.
	signal := makeTrace(t, cfg, 300, []int{60, 150, 230}, 4, 0)

	cfg.Detrended = true
	res, err := Solve(context.Background(), signal, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, pos := range []int{60, 150, 230} {
		found := 0
		for i := pos - 2; i <= pos+2; i++ {
			found += res.Counts[i]
		}
		if found < 1 {
			t.Errorf("spike at %d not recovered on pre-filtered trace", pos)
		}
	}
	if res.PVE < 0.95 {
		t.Fatalf("PVE = %v, want > 0.95", res.PVE)
	}
}

func TestSolveInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TauRise = 0.5 // above decay

	if _, err := Solve(context.Background(), make([]float64, 10), nil, cfg); err == nil {
		t.Fatal("expected error for invalid time constants")
	}
}

func TestSolveEmptyTrace(t *testing.T) {
	res, err := Solve(context.Background(), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Counts) != 0 {
		t.Fatalf("expected empty counts, got %v", res.Counts)
	}
}
