package archive

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Delimiters are the candidate field separators, in preference order.
const Delimiters = ",|\t;"

// sampleSize is how much of a file DetectDelimiter inspects.
const sampleSize = 8192

// DetectDelimiter guesses the field separator of delimited text. It picks
// the candidate that occurs a constant, non-zero number of times on the
// most sample lines. When no candidate is consistent it falls back to
// whichever of pipe and comma is more frequent, preferring comma.
func DetectDelimiter(sample []byte) rune {
	lines := sampleLines(sample)

	best, bestScore := rune(0), 0
	for _, d := range Delimiters {
		if score := consistency(lines, d); score > bestScore {
			best, bestScore = d, score
		}
	}
	if best != 0 && bestScore >= 2 {
		return best
	}
	if bytes.Count(sample, []byte("|")) > bytes.Count(sample, []byte(",")) {
		return '|'
	}
	return ','
}

// DetectDelimiterReader peeks at r without consuming it and returns the
// detected delimiter and a reader positioned at the start.
func DetectDelimiterReader(r io.Reader) (rune, io.Reader, error) {
	br := bufio.NewReaderSize(r, sampleSize)
	sample, err := br.Peek(sampleSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, nil, err
	}
	return DetectDelimiter(sample), br, nil
}

// sampleLines drops the last line when the sample was cut mid-line.
func sampleLines(sample []byte) []string {
	text := string(sample)
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && !strings.HasSuffix(text, "\n") {
		lines = lines[:len(lines)-1]
	}
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimRight(l, "\r"); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// consistency returns how many lines share the modal non-zero count of d
// outside quoted fields.
func consistency(lines []string, d rune) int {
	freq := make(map[int]int)
	for _, l := range lines {
		if n := countUnquoted(l, d); n > 0 {
			freq[n]++
		}
	}
	best := 0
	for _, c := range freq {
		best = max(best, c)
	}
	return best
}

func countUnquoted(line string, d rune) int {
	n, quoted := 0, false
	for _, c := range line {
		switch {
		case c == '"':
			quoted = !quoted
		case c == d && !quoted:
			n++
		}
	}
	return n
}
