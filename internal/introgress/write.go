package introgress

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteHMMHeader writes the header row of an HMM parameter file: one
// init column per state, one emis column per (state, symbol) and one
// trans column per state pair.
func WriteHMMHeader(w io.Writer, states, emissionSymbols []string) error {
	cols := []string{"strain", "chromosome"}
	for _, s := range states {
		cols = append(cols, "init_"+s)
	}
	for _, s := range states {
		for _, sym := range emissionSymbols {
			cols = append(cols, "emis_"+s+"_"+sym)
		}
	}
	for _, s1 := range states {
		for _, s2 := range states {
			cols = append(cols, "trans_"+s1+"_"+s2)
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(cols, "\t"))
	return err
}

// WriteHMM writes one (strain, chromosome) row of model parameters. A
// symbol outside the model's universe is written as 0.0, matching the
// fixed column set of the header.
func WriteHMM(w io.Writer, strain, chrom string, m *Model, emissionSymbols []string) error {
	fields := []string{strain, chrom}
	for _, p := range m.Initial() {
		fields = append(fields, formatProb(p))
	}
	for i := range m.States() {
		for _, sym := range emissionSymbols {
			fields = append(fields, formatProb(m.Emission(i, sym)))
		}
	}
	for _, row := range m.Transitions() {
		for _, p := range row {
			fields = append(fields, formatProb(p))
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
	return err
}

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// WriteBlocksHeader writes the blocks file header. num_sites_hmm counts
// the sites the HMM considered, which excludes gapped and, usually,
// non-polymorphic columns.
func WriteBlocksHeader(w io.Writer) error {
	_, err := fmt.Fprintln(w, strings.Join([]string{
		"strain",
		"chromosome",
		"predicted_species",
		"start",
		"end",
		"num_sites_hmm",
	}, "\t"))
	return err
}

// WriteBlocks writes one row per block, mapping coded-sequence indices
// back to genomic coordinates through positions.
func WriteBlocks(w io.Writer, strain, chrom, state string, blocks []Block, positions []int) error {
	for _, b := range blocks {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			strain, chrom, state,
			positions[b.Start], positions[b.End], b.NumSites())
		if err != nil {
			return err
		}
	}
	return nil
}

// WritePositions writes the retained genomic coordinates of one unit as
// a single tab-delimited line.
func WritePositions(w io.Writer, strain, chrom string, positions []int) error {
	fields := make([]string, 0, len(positions)+2)
	fields = append(fields, strain, chrom)
	for _, p := range positions {
		fields = append(fields, strconv.Itoa(p))
	}
	_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
	return err
}

// WriteStateProbs writes the per-site posterior of every state for one
// unit: strain, chromosome, then one "state:p1,p2,..." group per state.
func WriteStateProbs(w io.Writer, strain, chrom string, states []string, post [][]float64) error {
	groups := make([]string, len(states))
	for i, state := range states {
		probs := make([]string, len(post))
		for t, site := range post {
			probs[t] = fmt.Sprintf("%.5f", site[i])
		}
		groups[i] = state + ":" + strings.Join(probs, ",")
	}

	_, err := fmt.Fprintf(w, "%s\t%s\t%s\n", strain, chrom, strings.Join(groups, "\t"))
	return err
}

// PositionedBlock is one row of a blocks file, in genomic coordinates.
type PositionedBlock struct {
	Strain   string
	Chrom    string
	State    string
	Start    int
	End      int
	NumSites int
}

// ReadBlocks reads a blocks file back, keyed by strain then chromosome.
func ReadBlocks(path string) (map[string]map[string][]PositionedBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := map[string]map[string][]PositionedBlock{}

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first { // header
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 6 {
			return nil, fmt.Errorf("%s: malformed block row %q", path, scanner.Text())
		}

		b := PositionedBlock{
			Strain: fields[0],
			Chrom:  fields[1],
			State:  fields[2],
		}
		if b.Start, err = strconv.Atoi(fields[3]); err != nil {
			return nil, fmt.Errorf("%s: bad block start %q", path, fields[3])
		}
		if b.End, err = strconv.Atoi(fields[4]); err != nil {
			return nil, fmt.Errorf("%s: bad block end %q", path, fields[4])
		}
		if b.NumSites, err = strconv.Atoi(fields[5]); err != nil {
			return nil, fmt.Errorf("%s: bad block site count %q", path, fields[5])
		}

		if result[b.Strain] == nil {
			result[b.Strain] = map[string][]PositionedBlock{}
		}
		result[b.Strain][b.Chrom] = append(result[b.Strain][b.Chrom], b)
	}
	return result, scanner.Err()
}

// ReadPositions reads a gzip-compressed positions file back, keyed by
// strain then chromosome.
func ReadPositions(path string) (map[string]map[string][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer gz.Close()

	result := map[string]map[string][]int{}

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		strain, chrom := fields[0], fields[1]

		positions := make([]int, 0, len(fields)-2)
		for _, p := range fields[2:] {
			v, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("%s: bad position %q", path, p)
			}
			positions = append(positions, v)
		}

		if result[strain] == nil {
			result[strain] = map[string][]int{}
		}
		result[strain][chrom] = positions
	}
	return result, scanner.Err()
}
