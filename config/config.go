// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// State is the prior for one ancestry state: its expected introgressed
// tract length in sites and the fraction of the genome it should cover.
type State struct {
	Name             string  `mapstructure:"name"`
	ExpectedLength   float64 `mapstructure:"expected_length"`
	ExpectedFraction float64 `mapstructure:"expected_fraction"`
}

// Reference names the baseline, non-introgressed species. Its expected
// fraction and tract length are derived, never configured.
type Reference struct {
	Name string `mapstructure:"name"`
}

// AnalysisParams hold the HMM-level settings.
type AnalysisParams struct {
	// the baseline species, always state 0
	Reference Reference `mapstructure:"reference"`

	// candidate donors with a reference sequence in the alignment
	KnownStates []State `mapstructure:"known_states"`

	// hypothesized donors without a reference sequence
	UnknownStates []State `mapstructure:"unknown_states"`

	// "viterbi" for path decoding, or a posterior probability cutoff
	Threshold string `mapstructure:"threshold"`

	// relative log-likelihood improvement that stops Baum-Welch
	ConvergenceThreshold float64 `mapstructure:"convergence_threshold"`
}

// AnalysisPaths are output (and alignment input) path templates. The
// supported placeholders are {strain}, {chrom}, {state} and {prefix}.
type AnalysisPaths struct {
	// per-state blocks files; requires {state}
	BlockFiles string `mapstructure:"block_files"`

	// HMM parameters before and after training
	HMMInitial string `mapstructure:"hmm_initial"`
	HMMTrained string `mapstructure:"hmm_trained"`

	// retained positions per unit, gzip; optional
	Positions string `mapstructure:"positions"`

	// per-site posterior probabilities per unit, gzip
	Probabilities string `mapstructure:"probabilities"`

	// aligned multi-FASTA input; requires {prefix}, {strain} and {chrom}
	Alignment string `mapstructure:"alignment"`
}

// Paths groups the file location settings.
type Paths struct {
	// glob templates used to discover strains when none are listed;
	// require {strain} and {chrom}
	TestStrains []string `mapstructure:"test_strains"`

	Analysis AnalysisPaths `mapstructure:"analysis"`
}

// Config is the root-level settings struct, populated from the settings
// file and/or command line flags.
type Config struct {
	// chromosome names, in output order
	Chromosomes []string `mapstructure:"chromosomes"`

	// strains to predict on; discovered from test_strains when empty
	Strains []string `mapstructure:"strains"`

	AnalysisParams AnalysisParams `mapstructure:"analysis_params"`

	// overrides for the coding symbol set: match, mismatch, gap,
	// unsequenced
	HMMSymbols map[string]string `mapstructure:"hmm_symbols"`

	Paths Paths `mapstructure:"paths"`

	// number of (strain, chromosome) units computed concurrently;
	// defaults to the CPU count
	MaxParallel int `mapstructure:"max_parallel"`
}

// New returns a Config populated by Viper settings.
func New() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unable to decode settings: %w", err)
	}
	return &c, nil
}

// Validate fails fast, before any unit runs, naming the first missing or
// malformed field it finds.
func (c *Config) Validate() error {
	if len(c.Chromosomes) == 0 {
		return fmt.Errorf("config: no chromosomes specified")
	}

	p := c.AnalysisParams
	if p.Reference.Name == "" {
		return fmt.Errorf("config: analysis_params.reference not specified")
	}
	if len(p.KnownStates) == 0 {
		return fmt.Errorf("config: analysis_params.known_states not specified")
	}
	for _, s := range append(append([]State{}, p.KnownStates...), p.UnknownStates...) {
		if s.Name == "" {
			return fmt.Errorf("config: state with no name in analysis_params")
		}
		if s.ExpectedLength <= 0 {
			return fmt.Errorf("config: state %s has no expected_length", s.Name)
		}
		if s.ExpectedFraction <= 0 || s.ExpectedFraction >= 1 {
			return fmt.Errorf("config: state %s has invalid expected_fraction %v",
				s.Name, s.ExpectedFraction)
		}
	}

	if p.Threshold == "" {
		return fmt.Errorf("config: analysis_params.threshold not specified")
	}
	if p.Threshold != "viterbi" {
		if _, err := strconv.ParseFloat(p.Threshold, 64); err != nil {
			return fmt.Errorf("config: unsupported threshold value %q", p.Threshold)
		}
	}

	paths := c.Paths.Analysis
	if paths.BlockFiles == "" {
		return fmt.Errorf("config: paths.analysis.block_files not specified")
	}
	if err := CheckWildcards(paths.BlockFiles, "state"); err != nil {
		return fmt.Errorf("config: paths.analysis.block_files: %w", err)
	}
	if paths.HMMInitial == "" {
		return fmt.Errorf("config: paths.analysis.hmm_initial not specified")
	}
	if paths.HMMTrained == "" {
		return fmt.Errorf("config: paths.analysis.hmm_trained not specified")
	}
	if paths.Probabilities == "" {
		return fmt.Errorf("config: paths.analysis.probabilities not specified")
	}
	if paths.Alignment == "" {
		return fmt.Errorf("config: paths.analysis.alignment not specified")
	}
	if err := CheckWildcards(paths.Alignment, "prefix,strain,chrom"); err != nil {
		return fmt.Errorf("config: paths.analysis.alignment: %w", err)
	}

	if len(c.Strains) == 0 {
		for _, t := range c.Paths.TestStrains {
			if err := CheckWildcards(t, "strain,chrom"); err != nil {
				return fmt.Errorf("config: paths.test_strains: %w", err)
			}
		}
	}

	for k := range c.HMMSymbols {
		switch k {
		case "match", "mismatch", "gap", "unsequenced":
		default:
			return fmt.Errorf("config: unknown hmm_symbols key %q", k)
		}
	}

	return nil
}

// CheckWildcards verifies that every name in the comma-separated list
// appears as a {name} placeholder in the template.
func CheckWildcards(template, wildcards string) error {
	for _, w := range strings.Split(wildcards, ",") {
		if !strings.Contains(template, "{"+w+"}") {
			return fmt.Errorf("missing {%s} wildcard in %q", w, template)
		}
	}
	return nil
}
