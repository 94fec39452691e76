// Command phylkbench runs the same evaluation as phylk repeatedly across
// a range of worker thread counts and reports wall-clock timing, so the
// auto-partitioning thresholds in internal/beagle/dispatch can be
// sanity-checked against real trees. It shares phylk's flag-based
// argument shape and internal/phylo evaluation path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matsengrp/beagle-lib/internal/phylo"
	"github.com/matsengrp/beagle-lib/internal/telemetry"
)

func main() {
	treePath := flag.String("tree", "", "path to a Newick tree file")
	alnPath := flag.String("alignment", "", "path to a FASTA alignment")
	threadList := flag.String("threads", "1,2,4,8", "comma-separated worker thread counts to benchmark")
	categories := flag.Int("categories", 4, "discrete gamma rate category count")
	gammaShape := flag.Float64("gamma-shape", 0.5, "gamma shape parameter")
	model := flag.String("model", "jc69", "substitution model: jc69 or gtr")
	repeat := flag.Int("repeat", 3, "evaluations per thread count")
	flag.Parse()

	log := telemetry.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *treePath == "" || *alnPath == "" {
		fmt.Fprintln(os.Stderr, "phylkbench: -tree and -alignment are required")
		flag.Usage()
		os.Exit(2)
	}

	threadCounts, err := parseThreadList(*threadList)
	if err != nil {
		fmt.Fprintln(os.Stderr, "phylkbench:", err)
		os.Exit(2)
	}

	treeText, err := os.ReadFile(*treePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "phylkbench: reading tree:", err)
		os.Exit(1)
	}
	tree, err := phylo.ParseNewick(string(treeText))
	if err != nil {
		fmt.Fprintln(os.Stderr, "phylkbench: parsing tree:", err)
		os.Exit(1)
	}
	aln, err := phylo.ReadFasta(*alnPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "phylkbench: reading alignment:", err)
		os.Exit(1)
	}

	fmt.Printf("tips=%d sites=%d categories=%d model=%s\n", tree.TipCount(), aln.SiteCount, *categories, *model)
	fmt.Println("threads\tmean_ms\tlogLikelihood")
	for _, n := range threadCounts {
		cfg := phylo.EvalConfig{
			Threads:    n,
			Categories: *categories,
			GammaShape: *gammaShape,
			Model:      *model,
			Log:        log,
		}
		var total time.Duration
		var sum float64
		for r := 0; r < *repeat; r++ {
			start := time.Now()
			sum, err = phylo.Evaluate(tree, aln, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "phylkbench: threads=%d: %v\n", n, err)
				os.Exit(1)
			}
			total += time.Since(start)
		}
		meanMS := float64(total.Microseconds()) / 1000 / float64(*repeat)
		fmt.Printf("%d\t%.3f\t%.6f\n", n, meanMS, sum)
	}
}

func parseThreadList(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid thread count %q", f)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no thread counts given")
	}
	return out, nil
}
