package introgress

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/PrincetonUniversity/introgression/config"
)

var (
	// stderr is for logging to Stderr (without an annoying timestamp)
	stderr = log.New(os.Stderr, "", 0)
)

// Predictor drives one full prediction run: it iterates over every
// (strain, chromosome) unit, encodes the alignment, trains the HMM and
// writes blocks, positions, probabilities and parameter files.
type Predictor struct {
	cfg     *config.Config
	symbols Symbols
	encoder *Encoder
	priors  Priors

	knownStates   []string
	unknownStates []string
	states        []string

	// "" means decode with Viterbi, otherwise the posterior cutoff
	threshold   float64
	useViterbi  bool
	convergence float64

	strains     []string
	chromosomes []string
	prefix      string

	// whether to drop non-polymorphic sites before training
	OnlyPolySites bool

	maxParallel int
}

// NewPredictor validates the configuration and resolves states, strains
// and the decoding threshold. Strains missing from the config are
// discovered from the test_strains glob templates.
func NewPredictor(cfg *config.Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Predictor{
		cfg:           cfg,
		symbols:       symbolsFromConfig(cfg),
		chromosomes:   cfg.Chromosomes,
		convergence:   cfg.AnalysisParams.ConvergenceThreshold,
		OnlyPolySites: true,
		maxParallel:   cfg.MaxParallel,
	}
	p.encoder = NewEncoder(p.symbols)

	if p.convergence == 0 {
		p.convergence = 0.001
	}
	if p.maxParallel <= 0 {
		p.maxParallel = runtime.NumCPU()
	}

	p.priors = Priors{Reference: cfg.AnalysisParams.Reference.Name}
	p.knownStates = []string{p.priors.Reference}
	for _, s := range cfg.AnalysisParams.KnownStates {
		p.priors.Known = append(p.priors.Known, StatePrior{
			Name:             s.Name,
			ExpectedLength:   s.ExpectedLength,
			ExpectedFraction: s.ExpectedFraction,
		})
		p.knownStates = append(p.knownStates, s.Name)
	}
	for _, s := range cfg.AnalysisParams.UnknownStates {
		p.priors.Unknown = append(p.priors.Unknown, StatePrior{
			Name:             s.Name,
			ExpectedLength:   s.ExpectedLength,
			ExpectedFraction: s.ExpectedFraction,
		})
		p.unknownStates = append(p.unknownStates, s.Name)
	}
	p.states = append(append([]string{}, p.knownStates...), p.unknownStates...)
	p.prefix = strings.Join(p.knownStates, "_")

	if cfg.AnalysisParams.Threshold == "viterbi" {
		p.useViterbi = true
	} else {
		t, err := strconv.ParseFloat(cfg.AnalysisParams.Threshold, 64)
		if err != nil {
			return nil, fmt.Errorf("unsupported threshold value %q", cfg.AnalysisParams.Threshold)
		}
		p.threshold = t
	}

	if len(cfg.Strains) > 0 {
		p.strains = dedupeSorted(cfg.Strains)
	} else {
		strains, err := DiscoverStrains(cfg.Paths.TestStrains, cfg.Chromosomes)
		if err != nil {
			return nil, err
		}
		p.strains = strains
	}

	return p, nil
}

func symbolsFromConfig(cfg *config.Config) Symbols {
	s := DefaultSymbols()
	for k, v := range cfg.HMMSymbols {
		if v == "" {
			continue
		}
		switch k {
		case "match":
			s.Match = v[0]
		case "mismatch":
			s.Mismatch = v[0]
		case "gap":
			s.Gap = v[0]
		case "unsequenced":
			s.Unsequenced = v[0]
		}
	}
	return s
}

// States returns the full ordered state list, reference first.
func (p *Predictor) States() []string { return p.states }

// Strains returns the resolved strain list.
func (p *Predictor) Strains() []string { return p.strains }

// unitResult holds everything one (strain, chromosome) computation
// produces, buffered so output files are written sequentially and in a
// deterministic order.
type unitResult struct {
	strain string
	chrom  string
	err    error

	// set when the alignment had no usable columns; no inference is
	// possible but the unit is not a failure
	empty bool

	initial   *Model
	trained   *Model
	path      []int
	posterior [][]float64
	positions []int
}

// Run executes the prediction over every (strain, chromosome) unit.
// Units are computed concurrently but serialized to the output files in
// chromosome-major order. A failed unit is logged and skipped without
// aborting the run.
func (p *Predictor) Run() error {
	paths := p.cfg.Paths.Analysis

	hmmInitial, err := createFile(paths.HMMInitial)
	if err != nil {
		return err
	}
	defer hmmInitial.Close()

	hmmTrained, err := createFile(paths.HMMTrained)
	if err != nil {
		return err
	}
	defer hmmTrained.Close()

	probFile, err := createFile(paths.Probabilities)
	if err != nil {
		return err
	}
	defer probFile.Close()
	probWriter := gzip.NewWriter(probFile)
	defer probWriter.Close()

	var posWriter *gzip.Writer
	if paths.Positions != "" {
		posFile, err := createFile(paths.Positions)
		if err != nil {
			return err
		}
		defer posFile.Close()
		posWriter = gzip.NewWriter(posFile)
		defer posWriter.Close()
	}

	blockWriters := make(map[string]io.WriteCloser, len(p.states))
	for _, state := range p.states {
		f, err := createFile(expandTemplate(paths.BlockFiles, map[string]string{
			"state":  state,
			"prefix": p.prefix,
		}))
		if err != nil {
			return err
		}
		defer f.Close()
		blockWriters[state] = f
	}

	emissionSymbols := EmissionSymbols(p.symbols, len(p.knownStates))
	if err := WriteHMMHeader(hmmInitial, p.states, emissionSymbols); err != nil {
		return err
	}
	if err := WriteHMMHeader(hmmTrained, p.states, emissionSymbols); err != nil {
		return err
	}
	for _, w := range blockWriters {
		if err := WriteBlocksHeader(w); err != nil {
			return err
		}
	}

	type unit struct{ strain, chrom string }
	var units []unit
	for _, chrom := range p.chromosomes {
		for _, strain := range p.strains {
			units = append(units, unit{strain, chrom})
		}
	}

	results := make([]unitResult, len(units))
	var group errgroup.Group
	group.SetLimit(p.maxParallel)
	for i, u := range units {
		i, u := i, u
		group.Go(func() error {
			stderr.Printf("working on: %s %s", u.strain, u.chrom)
			results[i] = p.runUnit(u.strain, u.chrom)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if r.err != nil {
			stderr.Printf("skipping %s %s: %v", r.strain, r.chrom, r.err)
			continue
		}

		if posWriter != nil {
			if err := WritePositions(posWriter, r.strain, r.chrom, r.positions); err != nil {
				return err
			}
		}
		if err := WriteStateProbs(probWriter, r.strain, r.chrom, p.states, r.posterior); err != nil {
			return err
		}

		if r.empty {
			// no usable sites: no parameters and no blocks
			continue
		}

		if err := WriteHMM(hmmInitial, r.strain, r.chrom, r.initial, emissionSymbols); err != nil {
			return err
		}
		if err := WriteHMM(hmmTrained, r.strain, r.chrom, r.trained, emissionSymbols); err != nil {
			return err
		}

		blocks := BlocksFromPath(r.path, p.states)
		for _, state := range p.states {
			err := WriteBlocks(blockWriters[state], r.strain, r.chrom, state,
				blocks[state], r.positions)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// runUnit performs the whole encode/train/decode pipeline for one
// (strain, chromosome) pair.
func (p *Predictor) runUnit(strain, chrom string) unitResult {
	r := unitResult{strain: strain, chrom: chrom}

	alignmentPath := expandTemplate(p.cfg.Paths.Analysis.Alignment, map[string]string{
		"prefix": p.prefix,
		"strain": strain,
		"chrom":  chrom,
	})

	_, seqs, err := ReadFASTA(alignmentPath)
	if err != nil {
		r.err = err
		return r
	}
	if len(seqs) != len(p.knownStates)+1 {
		r.err = fmt.Errorf("%s: expected %d sequences (%d references + predicted), found %d",
			alignmentPath, len(p.knownStates)+1, len(p.knownStates), len(seqs))
		return r
	}

	// the predicted strain is the last sequence, references come first
	// in known-state order
	refs := seqs[:len(seqs)-1]
	predicted := seqs[len(seqs)-1]

	coded, err := p.encoder.Encode(predicted, refs, 0)
	if err != nil {
		r.err = err
		return r
	}
	if p.OnlyPolySites {
		coded = p.encoder.PolymorphicSites(coded)
	}

	r.positions = coded.Positions
	if r.positions == nil {
		r.positions = []int{}
	}
	if len(coded.Seq) == 0 {
		r.empty = true
		r.posterior = [][]float64{}
		return r
	}

	estimator, err := NewEstimator(p.symbols, p.priors)
	if err != nil {
		r.err = err
		return r
	}
	estimator.UpdateExpectedLength(len(predicted))

	freqs, weighted := estimator.SymbolFreqs(coded.Seq)
	observed := make([]string, 0, len(freqs))
	for s := range freqs {
		observed = append(observed, s)
	}
	sort.Strings(observed)

	model := NewModel()
	model.SetHiddenStates(p.states)
	model.SetInitial(estimator.InitialProbabilities(weighted))
	model.SetEmissions(estimator.EmissionProbabilities(observed))
	model.SetTransitions(estimator.TransitionProbabilities())

	r.initial = model.Copy()

	if err := model.SetObservations(coded.Seq); err != nil {
		r.err = err
		return r
	}
	if err := model.Train(p.convergence); err != nil {
		r.err = err
		return r
	}
	r.trained = model

	post, err := model.PosteriorDecoding()
	if err != nil {
		r.err = err
		return r
	}
	r.posterior = post

	if p.useViterbi {
		path, err := model.Viterbi()
		if err != nil {
			r.err = err
			return r
		}
		r.path = path
	} else {
		path, probs := MaxPosteriorPath(post)
		r.path = ThresholdPath(path, probs, p.threshold, 0)
	}

	return r
}

// DiscoverStrains expands each glob template over the filesystem and
// extracts the strain and chromosome names its wildcards matched. Every
// discovered strain must cover the full chromosome list.
func DiscoverStrains(testStrains, chromosomes []string) ([]string, error) {
	found := map[string]map[string]bool{}

	for _, template := range testStrains {
		pattern := expandTemplate(template, map[string]string{
			"strain": "*",
			"chrom":  "*",
		})

		re, err := templateRegexp(template)
		if err != nil {
			return nil, err
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad test_strains pattern %q: %w", pattern, err)
		}
		strainIdx := re.SubexpIndex("strain")
		chromIdx := re.SubexpIndex("chrom")
		for _, path := range matches {
			groups := re.FindStringSubmatch(path)
			if groups == nil {
				continue
			}
			strain, chrom := groups[strainIdx], groups[chromIdx]
			if found[strain] == nil {
				found[strain] = map[string]bool{}
			}
			found[strain][chrom] = true
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("found no chromosome sequence files in %v", testStrains)
	}

	strains := make([]string, 0, len(found))
	for strain, chroms := range found {
		if len(chroms) != len(chromosomes) {
			return nil, fmt.Errorf(
				"strain %s has incorrect number of chromosomes, expected %d found %d",
				strain, len(chromosomes), len(chroms))
		}
		strains = append(strains, strain)
	}
	sort.Strings(strains)
	return strains, nil
}

// templateRegexp converts a {strain}/{chrom} path template into a
// regexp capturing both wildcards.
func templateRegexp(template string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(template)
	quoted = strings.ReplaceAll(quoted, regexp.QuoteMeta("{strain}"), `(?P<strain>.*?)`)
	quoted = strings.ReplaceAll(quoted, regexp.QuoteMeta("{chrom}"), `(?P<chrom>[^_]*?)`)
	return regexp.Compile("^" + quoted + "$")
}

// expandTemplate substitutes {name} placeholders. Placeholders without a
// value are left alone so callers can expand in stages.
func expandTemplate(template string, values map[string]string) string {
	for k, v := range values {
		template = strings.ReplaceAll(template, "{"+k+"}", v)
	}
	return template
}

func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

func dedupeSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
