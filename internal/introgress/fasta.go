package introgress

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadFASTA reads a (possibly gzip-compressed) FASTA file into parallel
// header and sequence lists. Sequence bodies spanning several lines are
// concatenated; gap and unsequenced characters are kept as-is since the
// encoder interprets them. Content before the first header is ignored.
func ReadFASTA(path string) (headers, seqs []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var body strings.Builder
	inSequence := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, ">") {
			if inSequence {
				seqs = append(seqs, body.String())
				body.Reset()
			}
			headers = append(headers, strings.TrimSpace(line[1:]))
			inSequence = true
			continue
		}
		if inSequence {
			body.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if inSequence {
		seqs = append(seqs, body.String())
	}

	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("%s: no sequences found", path)
	}
	return headers, seqs, nil
}
