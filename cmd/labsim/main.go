// Command labsim evaluates saved circuit snapshots offline and prints the
// feedback a student would see, including the delayed follow-up events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/exam"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/pkg/fn"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// report is the evaluation of one circuit under one fault.
type report struct {
	Circuit string     `json:"circuit"`
	Fault   sim.Fault  `json:"fault"`
	Result  sim.Result `json:"result"`
	Score   int        `json:"score"`
	Notes   []string   `json:"notes,omitempty"`
}

type job struct {
	path    string
	circuit circuit.Circuit
	fault   sim.Fault
}

// run returns the process exit code: 0 whatever the diagnostics, 1 on bad
// flags or unreadable snapshots.
func run(args []string, stdout, stderr io.Writer) int {
	log := slog.New(slog.NewTextHandler(stderr, nil))

	fs := flag.NewFlagSet("labsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		circuitPath = fs.String("circuit", "", "circuit snapshot (JSON); more files may follow as arguments")
		faultName   = fs.String("fault", "none", "fault to inject: none, loose-wire, wrong-resistor, short-circuit or all")
		format      = fs.String("format", "text", "output format: text or json")
		workers     = fs.Int("workers", runtime.NumCPU(), "parallel evaluations")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var paths []string
	if *circuitPath != "" {
		paths = append(paths, *circuitPath)
	}
	paths = append(paths, fs.Args()...)
	if len(paths) == 0 {
		log.Error("no circuit given", "usage", "labsim -circuit file.json [-fault name|all] [-format text|json]")
		return 1
	}
	if *format != "text" && *format != "json" {
		log.Error("unknown format", "format", *format)
		return 1
	}
	faults, err := parseFaults(*faultName)
	if err != nil {
		log.Error("bad fault", "err", err)
		return 1
	}

	loaded := fn.Collect(fn.ParMap(paths, *workers, load))
	jobs, err := fn.MapResult(loaded, func(cs []circuit.Circuit) []job {
		var out []job
		for i, c := range cs {
			for _, f := range faults {
				out = append(out, job{path: paths[i], circuit: c, fault: f})
			}
		}
		return out
	}).Unwrap()
	if err != nil {
		log.Error("load failed", "err", err)
		return 1
	}

	reports := fn.ParMap(jobs, *workers, evaluate)
	if *format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(reports)
	} else {
		err = writeText(stdout, reports)
	}
	if err != nil {
		log.Error("write failed", "err", err)
		return 1
	}
	return 0
}

func parseFaults(name string) ([]sim.Fault, error) {
	if strings.EqualFold(strings.TrimSpace(name), "all") {
		return sim.Faults, nil
	}
	f, err := sim.ParseFault(name)
	if err != nil {
		return nil, err
	}
	return []sim.Fault{f}, nil
}

// load reads a snapshot. Both a bare circuit and the labd editor view
// ({"circuit": {...}}) are accepted.
func load(path string) fn.Result[circuit.Circuit] {
	data, err := os.ReadFile(path)
	if err != nil {
		return fn.Err[circuit.Circuit](err)
	}
	var doc struct {
		circuit.Circuit
		Wrapped *circuit.Circuit `json:"circuit"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fn.Errf[circuit.Circuit]("parse %s: %w", path, err)
	}
	c := doc.Circuit
	if doc.Wrapped != nil {
		c = *doc.Wrapped
	}
	if c.Connections == nil && len(c.Wires) > 0 {
		c.Connections = fn.Map(c.Wires, circuit.ConnectionFor)
	}
	if err := c.CheckConsistency(); err != nil {
		return fn.Errf[circuit.Circuit]("%s: %w", path, err)
	}
	return fn.Ok(c)
}

func evaluate(j job) report {
	res := sim.Evaluate(j.circuit, j.fault)
	score, notes := exam.Score(j.circuit, res)
	return report{Circuit: j.path, Fault: j.fault, Result: res, Score: score, Notes: notes}
}

func writeText(w io.Writer, reports []report) error {
	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "== %s (fault: %s)\n", r.Circuit, r.Fault)
		for _, e := range r.Result.Events {
			fmt.Fprintf(&b, "  [%s] %s\n", e.Kind, e.Message)
		}
		for _, s := range r.Result.Scheduled {
			fmt.Fprintf(&b, "  +%s [%s] %s\n", s.Delay, s.Event.Kind, s.Event.Message)
		}
		if lit := r.Result.LitIDs(); len(lit) > 0 {
			fmt.Fprintf(&b, "  lit: %s\n", strings.Join(lit, ", "))
		}
		fmt.Fprintf(&b, "  score: %d/%d\n", r.Score, exam.MaxScore)
		for _, n := range r.Notes {
			fmt.Fprintf(&b, "    - %s\n", n)
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("labsim: write report: %w", err)
	}
	return nil
}
