package introgress

import (
	"math"
	"reflect"
	"testing"
)

const probTolerance = 1e-9

func testPriors() Priors {
	return Priors{
		Reference: "cer",
		Known: []StatePrior{
			{Name: "par", ExpectedLength: 10000, ExpectedFraction: 0.025},
		},
		Unknown: []StatePrior{
			{Name: "unknown", ExpectedLength: 1000, ExpectedFraction: 0.01},
		},
	}
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	wantStates := []string{"cer", "par", "unknown"}
	if !reflect.DeepEqual(e.States(), wantStates) {
		t.Errorf("States() = %v, want %v", e.States(), wantStates)
	}

	// reference takes the remainder of the genome
	if got, want := e.fractions[0], 1-0.025-0.01; math.Abs(got-want) > probTolerance {
		t.Errorf("reference fraction = %v, want %v", got, want)
	}
	// unknown states fold into the reference when counting tracts
	if got, want := e.refFraction, 1-0.025; math.Abs(got-want) > probTolerance {
		t.Errorf("refFraction = %v, want %v", got, want)
	}
}

func TestNewEstimator_errors(t *testing.T) {
	tests := []struct {
		name   string
		priors Priors
	}{
		{
			"no reference",
			Priors{Known: []StatePrior{{Name: "par", ExpectedLength: 1, ExpectedFraction: 0.1}}},
		},
		{
			"fractions exhaust the genome",
			Priors{
				Reference: "cer",
				Known: []StatePrior{
					{Name: "par", ExpectedLength: 100, ExpectedFraction: 0.7},
					{Name: "bay", ExpectedLength: 100, ExpectedFraction: 0.5},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEstimator(DefaultSymbols(), tt.priors); err == nil {
				t.Errorf("NewEstimator() expected error")
			}
		})
	}
}

func TestEstimator_UpdateExpectedLength(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	total := 100000
	e.UpdateExpectedLength(total)

	// expected reference bases over expected tract count, +1 tract for
	// starting and ending in the reference
	l := float64(total)
	otherSum := 0.025 / 10000
	want := l * (1 - 0.025) / (l*otherSum + 1)
	if got := e.lengths[0]; math.Abs(got-want) > 1e-6 {
		t.Errorf("reference expected length = %v, want %v", got, want)
	}
}

func TestEstimator_SymbolFreqs(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	seq := []string{"+-", "+-", "-+", "++"}
	freqs, weighted := e.SymbolFreqs(seq)

	wantFreqs := map[string]float64{"+-": 0.5, "-+": 0.25, "++": 0.25}
	for sym, want := range wantFreqs {
		if got := freqs[sym]; math.Abs(got-want) > probTolerance {
			t.Errorf("freq[%s] = %v, want %v", sym, got, want)
		}
	}

	// reference column has 3 matches, second column 2; weighted by the
	// total match count
	wantWeighted := []float64{3.0 / 5, 2.0 / 5}
	for i, want := range wantWeighted {
		if math.Abs(weighted[i]-want) > probTolerance {
			t.Errorf("weighted[%d] = %v, want %v", i, weighted[i], want)
		}
	}
}

func TestEstimator_InitialProbabilities(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	init := e.InitialProbabilities([]float64{0.6, 0.4})

	if got := sum(init); math.Abs(got-1) > probTolerance {
		t.Fatalf("initial probabilities sum to %v", got)
	}

	// 0.9 prior / 0.1 empirical before normalization
	raw := []float64{
		0.965*0.9 + 0.6*0.1,
		0.025*0.9 + 0.4*0.1,
		0.01,
	}
	total := raw[0] + raw[1] + raw[2]
	for i := range raw {
		if math.Abs(init[i]-raw[i]/total) > probTolerance {
			t.Errorf("init[%d] = %v, want %v", i, init[i], raw[i]/total)
		}
	}
}

func TestEstimator_EmissionProbabilities(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	symbols := []string{"++", "+-", "-+", "--"}
	dists := e.EmissionProbabilities(symbols)

	if len(dists) != 3 {
		t.Fatalf("expected 3 distributions, got %d", len(dists))
	}
	for i, d := range dists {
		total := 0.0
		for _, p := range d {
			total += p
		}
		if math.Abs(total-1) > probTolerance {
			t.Errorf("distribution %d sums to %v", i, total)
		}
	}

	// with two known states the base pattern applies unscaled; state 0
	// keys on (first, first), state 1 on (first, second)
	state0 := map[string]float64{"++": 0.09, "+-": 0.09, "-+": 0.009, "--": 0.009}
	state1 := map[string]float64{"++": 0.09, "+-": 0.001, "-+": 0.9, "--": 0.009}

	norm0 := 0.09 + 0.09 + 0.009 + 0.009
	for sym, want := range state0 {
		if got := dists[0][sym]; math.Abs(got-want/norm0) > probTolerance {
			t.Errorf("state 0 emission[%s] = %v, want %v", sym, got, want/norm0)
		}
	}
	norm1 := 0.09 + 0.001 + 0.9 + 0.009
	for sym, want := range state1 {
		if got := dists[1][sym]; math.Abs(got-want/norm1) > probTolerance {
			t.Errorf("state 1 emission[%s] = %v, want %v", sym, got, want/norm1)
		}
	}

	// the unknown state prefers symbols with more mismatches
	if dists[2]["--"] <= dists[2]["++"] {
		t.Errorf("unknown state should prefer mismatches: -- = %v, ++ = %v",
			dists[2]["--"], dists[2]["++"])
	}
}

func TestEstimator_TransitionProbabilities(t *testing.T) {
	e, err := NewEstimator(DefaultSymbols(), testPriors())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}
	e.UpdateExpectedLength(100000)

	trans := e.TransitionProbabilities()
	if len(trans) != 3 {
		t.Fatalf("expected 3x3 matrix, got %d rows", len(trans))
	}

	for i, row := range trans {
		if got := sum(row); math.Abs(got-1) > probTolerance {
			t.Errorf("row %d sums to %v", i, got)
		}
		// every state should strongly prefer staying put
		for j, p := range row {
			if i != j && p >= row[i] {
				t.Errorf("trans[%d][%d] = %v not below self-transition %v", i, j, p, row[i])
			}
		}
	}
}

func TestEmissionSymbols(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want []string
	}{
		{
			"single reference",
			1,
			[]string{"+", "-"},
		},
		{
			"two references",
			2,
			[]string{"++", "+-", "-+", "--"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EmissionSymbols(DefaultSymbols(), tt.k)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EmissionSymbols(%d) = %v, want %v", tt.k, got, tt.want)
			}
		})
	}
}

func sum(x []float64) float64 {
	total := 0.0
	for _, v := range x {
		total += v
	}
	return total
}
