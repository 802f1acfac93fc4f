package introgress

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	// hard cap on Baum-Welch iterations so pathological inputs cannot
	// spin forever
	maxTrainIterations = 1000

	// a probability row that sums below this is considered degenerate
	// and reset to uniform instead of propagating NaN
	rowFloor = 1e-10
)

// Model is a discrete hidden Markov model over named ancestry states.
// All parameter matrices and the observation buffer are owned by the
// Model for the duration of one (strain, chromosome) run; a Model is not
// safe for concurrent use.
type Model struct {
	states      []string
	initial     []float64
	transitions [][]float64

	// emissions as a dense state x symbol matrix over the symbol
	// universe established by SetEmissions
	emit        [][]float64
	symbols     []string
	symbolIndex map[string]int

	// observation sequence as indices into symbols
	obs []int
}

// NewModel returns an empty Model. The setters must all be called before
// Train, Viterbi or PosteriorDecoding.
func NewModel() *Model {
	return &Model{}
}

// SetHiddenStates sets the ordered state labels. The first label is the
// baseline, non-introgressed state.
func (m *Model) SetHiddenStates(states []string) {
	m.states = append([]string{}, states...)
}

// SetInitial sets the initial state distribution.
func (m *Model) SetInitial(p []float64) {
	m.initial = append([]float64{}, p...)
}

// SetTransitions sets the state transition matrix.
func (m *Model) SetTransitions(t [][]float64) {
	m.transitions = copyMatrix(t)
}

// SetEmissions sets one probability-by-symbol distribution per state.
// The union of keys across all states becomes the model's symbol
// universe; a symbol missing from one state's map emits with
// probability zero for that state.
func (m *Model) SetEmissions(dists []map[string]float64) {
	universe := map[string]bool{}
	for _, d := range dists {
		for s := range d {
			universe[s] = true
		}
	}

	m.symbols = make([]string, 0, len(universe))
	for s := range universe {
		m.symbols = append(m.symbols, s)
	}
	sort.Strings(m.symbols)

	m.symbolIndex = make(map[string]int, len(m.symbols))
	for i, s := range m.symbols {
		m.symbolIndex[s] = i
	}

	m.emit = make([][]float64, len(dists))
	for i, d := range dists {
		m.emit[i] = make([]float64, len(m.symbols))
		for s, p := range d {
			m.emit[i][m.symbolIndex[s]] = p
		}
	}
}

// SetObservations sets the observed coded sequence. Every symbol must be
// in the universe established by SetEmissions.
func (m *Model) SetObservations(seq []string) error {
	if m.symbolIndex == nil {
		return fmt.Errorf("hmm: emissions must be set before observations")
	}

	m.obs = make([]int, len(seq))
	for t, s := range seq {
		idx, ok := m.symbolIndex[s]
		if !ok {
			return fmt.Errorf("hmm: observed symbol %q has no emission estimate", s)
		}
		m.obs[t] = idx
	}
	return nil
}

// States returns the ordered state labels.
func (m *Model) States() []string { return m.states }

// Initial returns the initial state distribution.
func (m *Model) Initial() []float64 { return m.initial }

// Transitions returns the transition matrix.
func (m *Model) Transitions() [][]float64 { return m.transitions }

// Emission returns the probability of state i emitting symbol, or 0 if
// the symbol is outside the model's universe.
func (m *Model) Emission(i int, symbol string) float64 {
	idx, ok := m.symbolIndex[symbol]
	if !ok {
		return 0
	}
	return m.emit[i][idx]
}

// Copy returns a deep copy of the model's parameters. The observation
// buffer is not copied.
func (m *Model) Copy() *Model {
	c := &Model{
		states:      append([]string{}, m.states...),
		initial:     append([]float64{}, m.initial...),
		transitions: copyMatrix(m.transitions),
		emit:        copyMatrix(m.emit),
		symbols:     append([]string{}, m.symbols...),
	}
	c.symbolIndex = make(map[string]int, len(c.symbols))
	for i, s := range c.symbols {
		c.symbolIndex[s] = i
	}
	return c
}

func (m *Model) ready(needObs bool) error {
	switch {
	case len(m.states) == 0:
		return fmt.Errorf("hmm: hidden states not set")
	case len(m.initial) != len(m.states):
		return fmt.Errorf("hmm: initial distribution not set")
	case len(m.transitions) != len(m.states):
		return fmt.Errorf("hmm: transition matrix not set")
	case len(m.emit) != len(m.states):
		return fmt.Errorf("hmm: emission distributions not set")
	case needObs && m.obs == nil:
		return fmt.Errorf("hmm: observations not set")
	}
	return nil
}

// forward fills alpha with scaled forward probabilities and returns the
// per-site scale factors and total log-likelihood.
func (m *Model) forward(alpha [][]float64) ([]float64, float64) {
	n := len(m.states)
	scale := make([]float64, len(m.obs))

	for i := 0; i < n; i++ {
		alpha[0][i] = m.initial[i] * m.emit[i][m.obs[0]]
	}
	scale[0] = scaleRow(alpha[0])

	for t := 1; t < len(m.obs); t++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += alpha[t-1][i] * m.transitions[i][j]
			}
			alpha[t][j] = sum * m.emit[j][m.obs[t]]
		}
		scale[t] = scaleRow(alpha[t])
	}

	ll := 0.0
	for _, c := range scale {
		ll += math.Log(c)
	}
	return scale, ll
}

// backward fills beta with backward probabilities using the forward scale
// factors.
func (m *Model) backward(beta [][]float64, scale []float64) {
	n := len(m.states)
	last := len(m.obs) - 1

	for i := 0; i < n; i++ {
		beta[last][i] = 1 / scale[last]
	}

	for t := last - 1; t >= 0; t-- {
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += m.transitions[i][j] * m.emit[j][m.obs[t+1]] * beta[t+1][j]
			}
			beta[t][i] = sum / scale[t]
		}
	}
}

// Train runs Baum-Welch until the relative improvement in total
// log-likelihood falls below convergence, or maxTrainIterations is
// reached. Every distribution row is renormalized after each update; a
// degenerate zero row is reset to uniform rather than propagating NaN.
// A symbol in the universe that never occurs in the observations keeps
// its initialized emission estimate.
func (m *Model) Train(convergence float64) error {
	if err := m.ready(true); err != nil {
		return err
	}
	if len(m.obs) == 0 {
		return fmt.Errorf("hmm: empty observation sequence")
	}

	n := len(m.states)
	T := len(m.obs)
	prevLL := math.Inf(-1)

	for iter := 0; iter < maxTrainIterations; iter++ {
		alpha := makeMatrix(T, n)
		beta := makeMatrix(T, n)
		scale, ll := m.forward(alpha)
		m.backward(beta, scale)

		// state occupancy expectations
		gamma := makeMatrix(T, n)
		for t := 0; t < T; t++ {
			for i := 0; i < n; i++ {
				gamma[t][i] = alpha[t][i] * beta[t][i] * scale[t]
			}
			normalizeRow(gamma[t])
		}

		// new parameters accumulate into fresh buffers so each
		// iteration's inputs stay immutable
		newInitial := append([]float64{}, gamma[0]...)

		newTrans := makeMatrix(n, n)
		occupancy := make([]float64, n)
		for t := 0; t < T-1; t++ {
			for i := 0; i < n; i++ {
				occupancy[i] += gamma[t][i]
				for j := 0; j < n; j++ {
					newTrans[i][j] += alpha[t][i] * m.transitions[i][j] *
						m.emit[j][m.obs[t+1]] * beta[t+1][j]
				}
			}
		}
		for i := 0; i < n; i++ {
			if occupancy[i] > rowFloor {
				floats.Scale(1/occupancy[i], newTrans[i])
				normalizeRow(newTrans[i])
			} else {
				// a state never transitioned out of keeps its row
				copy(newTrans[i], m.transitions[i])
			}
		}

		newEmit := copyMatrix(m.emit)
		seen := make([]bool, len(m.symbols))
		counts := makeMatrix(n, len(m.symbols))
		total := make([]float64, n)
		for t := 0; t < T; t++ {
			seen[m.obs[t]] = true
			for i := 0; i < n; i++ {
				counts[i][m.obs[t]] += gamma[t][i]
				total[i] += gamma[t][i]
			}
		}
		for i := 0; i < n; i++ {
			if total[i] <= rowFloor {
				continue
			}
			for s := range m.symbols {
				// unseen symbols keep their initialized estimate
				if seen[s] {
					newEmit[i][s] = counts[i][s] / total[i]
				}
			}
			normalizeRow(newEmit[i])
		}

		m.initial = newInitial
		normalizeRow(m.initial)
		m.transitions = newTrans
		m.emit = newEmit

		if iter > 0 && math.Abs((ll-prevLL)/prevLL) < convergence {
			break
		}
		prevLL = ll
	}

	return nil
}

// PosteriorDecoding returns, for every site, the probability of being in
// each state given the whole observed sequence.
func (m *Model) PosteriorDecoding() ([][]float64, error) {
	if err := m.ready(true); err != nil {
		return nil, err
	}

	n := len(m.states)
	T := len(m.obs)
	if T == 0 {
		return [][]float64{}, nil
	}

	alpha := makeMatrix(T, n)
	beta := makeMatrix(T, n)
	scale, _ := m.forward(alpha)
	m.backward(beta, scale)

	post := makeMatrix(T, n)
	for t := 0; t < T; t++ {
		for i := 0; i < n; i++ {
			post[t][i] = alpha[t][i] * beta[t][i] * scale[t]
		}
		normalizeRow(post[t])
	}
	return post, nil
}

// Viterbi returns the single most probable state path as indices into
// States. The dynamic program runs in log space to avoid underflow on
// long sequences; ties prefer the lower-indexed state.
func (m *Model) Viterbi() ([]int, error) {
	if err := m.ready(true); err != nil {
		return nil, err
	}

	n := len(m.states)
	T := len(m.obs)
	if T == 0 {
		return []int{}, nil
	}

	logTrans := makeMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			logTrans[i][j] = math.Log(m.transitions[i][j])
		}
	}

	score := makeMatrix(T, n)
	back := make([][]int, T)
	for t := range back {
		back[t] = make([]int, n)
	}

	for i := 0; i < n; i++ {
		score[0][i] = math.Log(m.initial[i]) + math.Log(m.emit[i][m.obs[0]])
	}

	for t := 1; t < T; t++ {
		for j := 0; j < n; j++ {
			best := math.Inf(-1)
			bestPrev := 0
			for i := 0; i < n; i++ {
				s := score[t-1][i] + logTrans[i][j]
				if s > best {
					best = s
					bestPrev = i
				}
			}
			score[t][j] = best + math.Log(m.emit[j][m.obs[t]])
			back[t][j] = bestPrev
		}
	}

	path := make([]int, T)
	path[T-1] = argmax(score[T-1])
	for t := T - 2; t >= 0; t-- {
		path[t] = back[t+1][path[t+1]]
	}
	return path, nil
}

// argmax returns the index of the largest value, preferring the lower
// index on ties.
func argmax(x []float64) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// scaleRow normalizes x to sum to 1 and returns the scale factor. A
// degenerate row becomes uniform with scale 1.
func scaleRow(x []float64) float64 {
	sum := floats.Sum(x)
	if sum < rowFloor {
		for i := range x {
			x[i] = 1 / float64(len(x))
		}
		return 1
	}
	floats.Scale(1/sum, x)
	return sum
}

// normalizeRow renormalizes a probability row, resetting a degenerate
// row to uniform.
func normalizeRow(x []float64) {
	sum := floats.Sum(x)
	if sum < rowFloor {
		for i := range x {
			x[i] = 1 / float64(len(x))
		}
		return
	}
	floats.Scale(1/sum, x)
}

func makeMatrix(r, c int) [][]float64 {
	backing := make([]float64, r*c)
	m := make([][]float64, r)
	for i := range m {
		m[i] = backing[i*c : (i+1)*c]
	}
	return m
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64{}, m[i]...)
	}
	return out
}
