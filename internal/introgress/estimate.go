package introgress

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// StatePrior carries the user's expectations for one ancestry state: the
// mean introgressed tract length in sites and the fraction of the genome
// the state is expected to cover.
type StatePrior struct {
	Name             string
	ExpectedLength   float64
	ExpectedFraction float64
}

// Priors describes the full state space. Reference is the baseline,
// non-introgressed species and is always state 0. Known states have a
// reference sequence in the alignment; unknown states are hypothesized
// donors recognized only through their statistical signature.
type Priors struct {
	Reference string
	Known     []StatePrior
	Unknown   []StatePrior
}

// Estimator derives initial HMM parameters from the priors and from
// match statistics of one coded sequence. The reference state's expected
// fraction and tract length are not user-supplied: the fraction is the
// remainder after all other states, and the tract length is derived from
// the sequence length once it is known (see UpdateExpectedLength).
type Estimator struct {
	symbols Symbols

	knownStates   []string // reference first
	unknownStates []string

	// indexed like states (known then unknown)
	lengths   []float64
	fractions []float64

	// reference fraction with the unknown states folded in, since they
	// are indistinguishable from the reference when counting tracts
	refFraction float64

	// sum of fraction/length over the non-reference known states
	otherSum float64
}

// NewEstimator builds an Estimator from the priors, deriving the
// reference state's expected genome fraction.
func NewEstimator(symbols Symbols, priors Priors) (*Estimator, error) {
	if priors.Reference == "" {
		return nil, fmt.Errorf("estimator: no reference state")
	}

	e := &Estimator{symbols: symbols}

	e.knownStates = append(e.knownStates, priors.Reference)
	e.lengths = append(e.lengths, 0)
	e.fractions = append(e.fractions, 0)

	otherFraction := 0.0
	for _, s := range priors.Known {
		e.knownStates = append(e.knownStates, s.Name)
		e.lengths = append(e.lengths, s.ExpectedLength)
		e.fractions = append(e.fractions, s.ExpectedFraction)
		otherFraction += s.ExpectedFraction
		e.otherSum += s.ExpectedFraction / s.ExpectedLength
	}

	unknownFraction := 0.0
	for _, s := range priors.Unknown {
		e.unknownStates = append(e.unknownStates, s.Name)
		e.lengths = append(e.lengths, s.ExpectedLength)
		e.fractions = append(e.fractions, s.ExpectedFraction)
		unknownFraction += s.ExpectedFraction
	}

	e.fractions[0] = 1 - otherFraction - unknownFraction
	if e.fractions[0] <= 0 {
		return nil, fmt.Errorf(
			"estimator: expected fractions of non-reference states sum to %v, leaving nothing for %s",
			otherFraction+unknownFraction, priors.Reference)
	}
	e.refFraction = e.fractions[0] + unknownFraction

	return e, nil
}

// States returns the ordered state labels, reference first.
func (e *Estimator) States() []string {
	return append(append([]string{}, e.knownStates...), e.unknownStates...)
}

// KnownStates returns the states with a reference sequence, in alignment
// order.
func (e *Estimator) KnownStates() []string { return e.knownStates }

// UpdateExpectedLength sets the reference state's expected tract length
// from the total alignment length. The expected reference coverage
// divided by the expected tract count gives the mean tract; the +1
// assumes the sequence starts and ends in the reference state, so there
// is one more reference tract than foreign tracts.
func (e *Estimator) UpdateExpectedLength(totalLength int) {
	l := float64(totalLength)
	e.lengths[0] = l * e.refFraction / (l*e.otherSum + 1)
}

// SymbolFreqs computes, over the coded sequence, the frequency of each
// full symbol and the weighted fraction of match characters contributed
// by each reference column.
func (e *Estimator) SymbolFreqs(seq []string) (map[string]float64, []float64) {
	freqs := make(map[string]float64, len(seq))
	for _, s := range seq {
		freqs[s]++
	}
	for s := range freqs {
		freqs[s] /= float64(len(seq))
	}

	weighted := make([]float64, len(e.knownStates))
	for _, s := range seq {
		for i := 0; i < len(s) && i < len(weighted); i++ {
			if s[i] == e.symbols.Match {
				weighted[i]++
			}
		}
	}
	total := floats.Sum(weighted)
	if total > 0 {
		floats.Scale(1/total, weighted)
	}

	return freqs, weighted
}

// InitialProbabilities blends the prior expected fraction of each known
// state with the empirical match frequency of its reference column,
// weighting the prior 0.9. Unknown states take their prior fraction
// directly. The result is normalized to sum to 1.
func (e *Estimator) InitialProbabilities(weightedMatchFreqs []float64) []float64 {
	const expectationWeight = 0.9

	init := make([]float64, 0, len(e.lengths))
	for i := range e.knownStates {
		expected := e.fractions[i]
		estimated := weightedMatchFreqs[i]
		init = append(init, expected*expectationWeight+estimated*(1-expectationWeight))
	}
	for i := range e.unknownStates {
		init = append(init, e.fractions[len(e.knownStates)+i])
	}

	floats.Scale(1/floats.Sum(init), init)
	return init
}

// EmissionProbabilities estimates the initial emission distribution of
// every state over the provided symbol universe (typically the distinct
// symbols observed in one coded sequence).
//
// For known state i the probability of a symbol is read from a fixed
// table keyed on the pair (reference-0 character, reference-i character),
// scaled to cover the combinations of the remaining columns. For unknown
// states the probability grows with the symbol's mismatch count, with a
// 0.99 bias toward mismatches. Every column is normalized over the
// symbol universe.
func (e *Estimator) EmissionProbabilities(symbols []string) []map[string]float64 {
	match := string(e.symbols.Match)
	mismatch := string(e.symbols.Mismatch)

	pairProb := map[string]float64{
		mismatch + match:    0.9,
		match + match:       0.09,
		mismatch + mismatch: 0.009,
		match + mismatch:    0.001,
	}
	perCategory := math.Pow(2, float64(len(e.knownStates)-2))
	for k := range pairProb {
		pairProb[k] *= perCategory
	}

	const mismatchBias = 0.99

	// deterministic iteration order
	symbols = append([]string{}, symbols...)
	sort.Strings(symbols)

	nKnown := len(e.knownStates)
	known := make([][]float64, nKnown)
	for i := range known {
		known[i] = make([]float64, len(symbols))
	}
	unknown := make([]float64, len(symbols))

	for j, sym := range symbols {
		first := string(sym[0])
		for i := 0; i < nKnown; i++ {
			known[i][j] = pairProb[first+string(sym[i])]
		}

		matches := float64(strings.Count(sym, match))
		unknown[j] = matches + mismatchBias*(float64(len(sym))-2*matches)
	}

	result := make([]map[string]float64, 0, len(e.lengths))
	for i := 0; i < nKnown; i++ {
		floats.Scale(1/floats.Sum(known[i]), known[i])
		dist := make(map[string]float64, len(symbols))
		for j, sym := range symbols {
			dist[sym] = known[i][j]
		}
		result = append(result, dist)
	}

	floats.Scale(1/floats.Sum(unknown), unknown)
	for range e.unknownStates {
		dist := make(map[string]float64, len(symbols))
		for j, sym := range symbols {
			dist[sym] = unknown[j]
		}
		result = append(result, dist)
	}

	return result
}

// TransitionProbabilities builds the initial transition matrix. Each
// state's self-transition derives from its expected dwell time, and
// transitions out are apportioned by the target state's expected genome
// fraction. Rows are normalized to sum to 1.
func (e *Estimator) TransitionProbabilities() [][]float64 {
	n := len(e.lengths)
	trans := make([][]float64, n)
	for i := 0; i < n; i++ {
		trans[i] = make([]float64, n)
		escape := 1 / e.lengths[i]
		for j := 0; j < n; j++ {
			if i == j {
				trans[i][j] = 1 - escape
			} else {
				trans[i][j] = escape * e.fractions[j] / (1 - e.fractions[i])
			}
		}
		floats.Scale(1/floats.Sum(trans[i]), trans[i])
	}
	return trans
}

// EmissionSymbols lists every k-character match/mismatch combination in
// lexicographic order. These are the columns of the HMM parameter files.
func EmissionSymbols(symbols Symbols, k int) []string {
	chars := []string{string(symbols.Match), string(symbols.Mismatch)}

	combos := []string{""}
	for i := 0; i < k; i++ {
		next := make([]string, 0, len(combos)*2)
		for _, prefix := range combos {
			for _, c := range chars {
				next = append(next, prefix+c)
			}
		}
		combos = next
	}
	sort.Strings(combos)
	return combos
}
