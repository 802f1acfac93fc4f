// Package introgress detects introgressed genomic segments in aligned
// multi-species sequence data with a per-chromosome, per-strain hidden
// Markov model.
package introgress

import (
	"fmt"
	"strings"
)

// Symbols is the character set used when coding an alignment column into
// a match/mismatch observation. The defaults match the usual FASTA
// conventions but every value can be overridden from the settings file.
type Symbols struct {
	// written where the predicted strain agrees with a reference
	Match byte

	// written where it disagrees
	Mismatch byte

	// the gap character in the input alignment
	Gap byte

	// the character for unsequenced bases in the input alignment
	Unsequenced byte
}

// DefaultSymbols returns the symbol set used when the settings file does
// not override one.
func DefaultSymbols() Symbols {
	return Symbols{
		Match:       '+',
		Mismatch:    '-',
		Gap:         '-',
		Unsequenced: 'n',
	}
}

// Coded is the output of encoding one (strain, chromosome) alignment: one
// match/mismatch symbol per retained column and, in parallel, the genomic
// coordinate of that column in the index reference's own gap-free
// numbering. len(Seq) == len(Positions) always holds.
type Coded struct {
	Seq       []string
	Positions []int
}

// Encoder converts a multi-way nucleotide alignment into a categorical
// observation sequence. One Encoder is safe to share across units because
// it holds only the (read-only) symbol set.
type Encoder struct {
	symbols Symbols
}

// NewEncoder returns an Encoder using the provided symbol set.
func NewEncoder(symbols Symbols) *Encoder {
	return &Encoder{symbols: symbols}
}

// Encode codes the predicted strain against each reference in order. A
// column is retained only if the predicted sequence and every reference
// is non-gap and non-unsequenced there. Coordinates count the index
// reference's non-gap characters, so positions track that reference's own
// gap-free numbering rather than a merged coordinate system.
func (e *Encoder) Encode(predicted string, refs []string, indexRef int) (Coded, error) {
	if len(refs) == 0 {
		return Coded{}, fmt.Errorf("encode: no reference sequences")
	}
	if indexRef < 0 || indexRef >= len(refs) {
		return Coded{}, fmt.Errorf("encode: index reference %d out of range (%d references)", indexRef, len(refs))
	}
	for i, r := range refs {
		if len(r) != len(predicted) {
			return Coded{}, fmt.Errorf(
				"encode: reference %d has length %d, predicted strain has length %d",
				i, len(r), len(predicted))
		}
	}

	coded := Coded{}
	var symbol strings.Builder

	refCoord := 0
	for col := 0; col < len(predicted); col++ {
		valid := e.validBase(predicted[col])
		for _, r := range refs {
			if !valid {
				break
			}
			valid = e.validBase(r[col])
		}

		if valid {
			symbol.Reset()
			for _, r := range refs {
				if r[col] == predicted[col] {
					symbol.WriteByte(e.symbols.Match)
				} else {
					symbol.WriteByte(e.symbols.Mismatch)
				}
			}
			coded.Seq = append(coded.Seq, symbol.String())
			coded.Positions = append(coded.Positions, refCoord)
		}

		if refs[indexRef][col] != e.symbols.Gap {
			refCoord++
		}
	}

	return coded, nil
}

func (e *Encoder) validBase(b byte) bool {
	return b != e.symbols.Gap && b != e.symbols.Unsequenced
}

// PolymorphicSites drops every site whose symbol matches all references,
// since those carry no signal about which reference the predicted strain
// resembles. Relative order and the one-to-one correspondence between
// symbols and positions are preserved.
func (e *Encoder) PolymorphicSites(c Coded) Coded {
	allMatch := strings.Repeat(string(e.symbols.Match), symbolLen(c))

	out := Coded{}
	for i, s := range c.Seq {
		if s != allMatch {
			out.Seq = append(out.Seq, s)
			out.Positions = append(out.Positions, c.Positions[i])
		}
	}
	return out
}

func symbolLen(c Coded) int {
	if len(c.Seq) == 0 {
		return 0
	}
	return len(c.Seq[0])
}

var complement = map[byte]byte{
	'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G',
	'a': 't', 't': 'a', 'g': 'c', 'c': 'g',
}

// SeqID counts, over the shorter of the two sequences, the positions
// where both bases are unambiguous nucleotides and the positions where
// those nucleotides agree. Used by the "id" command.
func SeqID(ref, seq string) (matches, validSites int) {
	n := len(ref)
	if len(seq) < n {
		n = len(seq)
	}

	for i := 0; i < n; i++ {
		_, refOK := complement[ref[i]]
		_, seqOK := complement[seq[i]]
		if !refOK || !seqOK {
			continue
		}
		validSites++
		if ref[i] == seq[i] {
			matches++
		}
	}
	return matches, validSites
}
