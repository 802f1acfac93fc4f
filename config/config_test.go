// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Chromosomes: []string{"chrI", "chrII"},
		Strains:     []string{"s1"},
		AnalysisParams: AnalysisParams{
			Reference: Reference{Name: "cer"},
			KnownStates: []State{
				{Name: "par", ExpectedLength: 10000, ExpectedFraction: 0.025},
			},
			UnknownStates: []State{
				{Name: "unknown", ExpectedLength: 1000, ExpectedFraction: 0.01},
			},
			Threshold:            "viterbi",
			ConvergenceThreshold: 0.001,
		},
		Paths: Paths{
			Analysis: AnalysisPaths{
				BlockFiles:    "out/blocks_{state}.txt",
				HMMInitial:    "out/hmm_initial.txt",
				HMMTrained:    "out/hmm_trained.txt",
				Positions:     "out/positions.txt.gz",
				Probabilities: "out/probabilities.txt.gz",
				Alignment:     "alignments/{prefix}_{strain}_{chrom}.fa",
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string // "" means valid
	}{
		{
			"valid config",
			func(c *Config) {},
			"",
		},
		{
			"numeric threshold",
			func(c *Config) { c.AnalysisParams.Threshold = "0.8" },
			"",
		},
		{
			"no chromosomes",
			func(c *Config) { c.Chromosomes = nil },
			"chromosomes",
		},
		{
			"no reference",
			func(c *Config) { c.AnalysisParams.Reference.Name = "" },
			"reference",
		},
		{
			"no known states",
			func(c *Config) { c.AnalysisParams.KnownStates = nil },
			"known_states",
		},
		{
			"state without a name",
			func(c *Config) { c.AnalysisParams.KnownStates[0].Name = "" },
			"no name",
		},
		{
			"state without a length",
			func(c *Config) { c.AnalysisParams.KnownStates[0].ExpectedLength = 0 },
			"expected_length",
		},
		{
			"unknown state fraction out of range",
			func(c *Config) { c.AnalysisParams.UnknownStates[0].ExpectedFraction = 1.5 },
			"expected_fraction",
		},
		{
			"no threshold",
			func(c *Config) { c.AnalysisParams.Threshold = "" },
			"threshold",
		},
		{
			"unparseable threshold",
			func(c *Config) { c.AnalysisParams.Threshold = "sometimes" },
			"threshold",
		},
		{
			"block files without state wildcard",
			func(c *Config) { c.Paths.Analysis.BlockFiles = "out/blocks.txt" },
			"{state}",
		},
		{
			"no alignment template",
			func(c *Config) { c.Paths.Analysis.Alignment = "" },
			"alignment",
		},
		{
			"alignment missing chrom wildcard",
			func(c *Config) { c.Paths.Analysis.Alignment = "alignments/{prefix}_{strain}.fa" },
			"{chrom}",
		},
		{
			"no probabilities path",
			func(c *Config) { c.Paths.Analysis.Probabilities = "" },
			"probabilities",
		},
		{
			"test_strains checked when strains are empty",
			func(c *Config) {
				c.Strains = nil
				c.Paths.TestStrains = []string{"alignments/{strain}.fa"}
			},
			"{chrom}",
		},
		{
			"test_strains ignored when strains are set",
			func(c *Config) {
				c.Paths.TestStrains = []string{"alignments/{strain}.fa"}
			},
			"",
		},
		{
			"unknown hmm_symbols key",
			func(c *Config) { c.HMMSymbols = map[string]string{"wildcard": "*"} },
			"hmm_symbols",
		},
		{
			"valid hmm_symbols keys",
			func(c *Config) { c.HMMSymbols = map[string]string{"match": "=", "gap": "."} },
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want none", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error mentioning %q", tt.wantErr)
			} else if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckWildcards(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		wildcards string
		wantErr   bool
	}{
		{"all present", "a/{strain}_{chrom}.fa", "strain,chrom", false},
		{"single wildcard", "blocks_{state}.txt", "state", false},
		{"one missing", "a/{strain}.fa", "strain,chrom", true},
		{"none present", "a/fixed.fa", "strain", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckWildcards(tt.template, tt.wildcards)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckWildcards(%q, %q) error = %v, wantErr %v",
					tt.template, tt.wildcards, err, tt.wantErr)
			}
		})
	}
}
