// Command leagueauth-perfdiff compares two `go test -bench` output
// files and fails when a tracked hot-path benchmark regressed beyond
// the threshold. Typical use:
//
//	go test -run=^$ -bench=. -benchmem -count=10 . > baseline.txt
//	# ... apply the change under review ...
//	go test -run=^$ -bench=. -benchmem -count=10 . > candidate.txt
//	leagueauth-perfdiff -baseline baseline.txt -candidate candidate.txt
//
// Medians over the repeated counts are compared, so the recommended
// -count is 10 or more.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// tracked names the benchmarks whose medians gate a change, with the
// units checked for each. ValidateSession and ValidateAccessToken run
// on every authenticated request; Login and IssueAccessToken are
// allowed more absolute headroom but still must not drift.
var tracked = map[string][]string{
	"BenchmarkValidateSession":     {"ns/op", "allocs/op"},
	"BenchmarkValidateAccessToken": {"ns/op", "allocs/op"},
	"BenchmarkIssueAccessToken":    {"ns/op"},
	"BenchmarkLogin":               {"ns/op"},
}

// samples holds benchmark -> unit -> observed values.
type samples map[string]map[string][]float64

func main() {
	var (
		baselinePath  = flag.String("baseline", "", "benchmark output of the current main branch")
		candidatePath = flag.String("candidate", "", "benchmark output of the change under review")
		threshold     = flag.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	)
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	failures, err := run(*baselinePath, *candidatePath, *threshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "hot-path regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

func run(baselinePath, candidatePath string, threshold float64) ([]string, error) {
	baseline, err := parseBenchFile(baselinePath)
	if err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	candidate, err := parseBenchFile(candidatePath)
	if err != nil {
		return nil, fmt.Errorf("parse candidate: %w", err)
	}

	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	fmt.Printf("%-30s %-10s %12s %12s %8s\n", "benchmark", "metric", "baseline", "candidate", "delta")
	for _, name := range names {
		for _, unit := range tracked[name] {
			base := baseline[name][unit]
			cand := candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("no %s samples for %s in one of the files", unit, name))
				continue
			}

			baseMed := median(base)
			candMed := median(cand)
			if baseMed <= 0 {
				failures = append(failures, fmt.Sprintf("baseline median for %s %s is zero", name, unit))
				continue
			}

			delta := (candMed - baseMed) / baseMed
			fmt.Printf("%-30s %-10s %12.2f %12.2f %+7.2f%%\n", name, unit, baseMed, candMed, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf(
					"%s %s regressed %+0.2f%% (limit %+0.2f%%)", name, unit, delta*100, threshold*100))
			}
		}
	}
	return failures, nil
}

func parseBenchFile(path string) (samples, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	out := samples{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := trimProcSuffix(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}

		// Lines read "BenchmarkX-8  1000  1234 ns/op  56 B/op  2 allocs/op":
		// after the iteration count, values and units alternate.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], value)
		}
	}
	return out, scanner.Err()
}

// trimProcSuffix drops the -GOMAXPROCS suffix go test appends to
// benchmark names.
func trimProcSuffix(raw string) string {
	idx := strings.LastIndexByte(raw, '-')
	if idx <= 0 {
		return raw
	}
	if _, err := strconv.Atoi(raw[idx+1:]); err != nil {
		return raw
	}
	return raw[:idx]
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
