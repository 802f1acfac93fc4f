package introgress

// Block is a maximal run of consecutive sites assigned the same state.
// Start and End are inclusive indices into the coded sequence; mapping
// back to genomic coordinates goes through the encoder's positions.
type Block struct {
	Start int
	End   int
}

// NumSites returns the number of HMM-considered sites in the block.
func (b Block) NumSites() int { return b.End - b.Start + 1 }

// MaxPosteriorPath reduces a posterior matrix to the most probable state
// per site, with its probability. Ties prefer the lower-indexed state.
func MaxPosteriorPath(post [][]float64) (path []int, probs []float64) {
	path = make([]int, len(post))
	probs = make([]float64, len(post))
	for t, site := range post {
		path[t] = argmax(site)
		probs[t] = site[path[t]]
	}
	return path, probs
}

// ThresholdPath reassigns every site whose probability does not exceed
// the threshold to the baseline state. A probability exactly at the
// threshold fails closed to baseline.
func ThresholdPath(path []int, probs []float64, threshold float64, baseline int) []int {
	out := make([]int, len(path))
	for t := range path {
		if probs[t] > threshold {
			out[t] = path[t]
		} else {
			out[t] = baseline
		}
	}
	return out
}

// BlocksFromPath splits a per-site state path into contiguous blocks,
// keyed by state label. Every state gets an entry even when it owns no
// blocks; an empty path yields zero blocks for every state.
func BlocksFromPath(path []int, states []string) map[string][]Block {
	blocks := make(map[string][]Block, len(states))
	for _, s := range states {
		blocks[s] = []Block{}
	}
	if len(path) == 0 {
		return blocks
	}

	start := 0
	for t := 1; t < len(path); t++ {
		if path[t] != path[t-1] {
			label := states[path[t-1]]
			blocks[label] = append(blocks[label], Block{Start: start, End: t - 1})
			start = t
		}
	}
	label := states[path[len(path)-1]]
	blocks[label] = append(blocks[label], Block{Start: start, End: len(path) - 1})

	return blocks
}
