package phylo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Alignment holds a nucleotide (4-state) alignment keyed by taxon name,
// each sequence already translated to beagle-ready compact states: 0-3
// for A/C/G/T, 4 (the ambiguity sentinel, == stateCount) for anything
// else. The Go replacement for tomopfuku-cophycollapse's CharAlignment,
// which stored continuous traits for its own MCMC use; this engine only
// needs discrete character states.
type Alignment struct {
	Sequences map[string][]int32
	SiteCount int
}

var dnaCode = map[byte]int32{
	'A': 0, 'a': 0,
	'C': 1, 'c': 1,
	'G': 2, 'g': 2,
	'T': 3, 't': 3,
	'U': 3, 'u': 3,
}

// EncodeDNA translates a raw nucleotide sequence into compact states,
// mapping any character outside ACGTU to the ambiguity sentinel value.
func EncodeDNA(seq string) []int32 {
	out := make([]int32, len(seq))
	for i := 0; i < len(seq); i++ {
		if s, ok := dnaCode[seq[i]]; ok {
			out[i] = s
		} else {
			out[i] = 4
		}
	}
	return out
}

// ReadFasta reads a FASTA-format alignment from path. Every sequence
// must have the same length.
func ReadFasta(path string) (*Alignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("phylo: reading alignment %s: %w", path, err)
	}
	defer f.Close()

	seqs := make(map[string][]string)
	var order []string
	var cur string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			cur = strings.TrimSpace(strings.TrimPrefix(line, ">"))
			if _, ok := seqs[cur]; !ok {
				order = append(order, cur)
			}
			continue
		}
		if cur == "" {
			return nil, fmt.Errorf("phylo: %s: sequence data before any header", path)
		}
		seqs[cur] = append(seqs[cur], line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phylo: reading alignment %s: %w", path, err)
	}

	aln := &Alignment{Sequences: make(map[string][]int32, len(order))}
	for i, name := range order {
		full := strings.Join(seqs[name], "")
		if i == 0 {
			aln.SiteCount = len(full)
		} else if len(full) != aln.SiteCount {
			return nil, fmt.Errorf("phylo: %s: sequence %q has %d sites, expected %d", path, name, len(full), aln.SiteCount)
		}
		aln.Sequences[name] = EncodeDNA(full)
	}
	if len(aln.Sequences) == 0 {
		return nil, fmt.Errorf("phylo: %s: no sequences found", path)
	}
	return aln, nil
}
