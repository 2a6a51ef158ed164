package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/engine/workspace"
)

func ledLoop(t *testing.T) circuit.Circuit {
	t.Helper()
	n := 0
	ws := workspace.New(nil, workspace.WithIDFunc(func() string { n++; return fmt.Sprint(n) }))
	for i, typ := range []circuit.ComponentType{circuit.TypeBattery9V, circuit.TypeResistor, circuit.TypeLEDRed} {
		if _, err := ws.Place(typ, float64(i*100), 0); err != nil {
			t.Fatal(err)
		}
	}
	for _, pair := range [][2]circuit.Endpoint{
		{{ComponentID: "comp-1", PinID: "positive"}, {ComponentID: "comp-2", PinID: "pin1"}},
		{{ComponentID: "comp-2", PinID: "pin2"}, {ComponentID: "comp-3", PinID: "anode"}},
		{{ComponentID: "comp-3", PinID: "cathode"}, {ComponentID: "comp-1", PinID: "negative"}},
	} {
		if _, err := ws.Connect(pair[0], pair[1]); err != nil {
			t.Fatal(err)
		}
	}
	return ws.Snapshot()
}

func writeJSONFile(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTextReport(t *testing.T) {
	path := writeJSONFile(t, "blink.json", ledLoop(t))
	var out, errOut bytes.Buffer
	if code := run([]string{"-circuit", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, want := range []string{"(fault: none)", "[info] " + sim.MsgStarted, "is lit!", "lit: comp-3", "score: 100/100"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestAllFaultsJSON(t *testing.T) {
	path := writeJSONFile(t, "blink.json", ledLoop(t))
	var out, errOut bytes.Buffer
	if code := run([]string{"-circuit", path, "-fault", "all", "-format", "json", "-workers", "2"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	var reports []report
	if err := json.Unmarshal(out.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != len(sim.Faults) {
		t.Fatalf("expected %d reports, got %d", len(sim.Faults), len(reports))
	}
	for i, r := range reports {
		if r.Fault != sim.Faults[i] {
			t.Fatalf("report %d has fault %s, want %s", i, r.Fault, sim.Faults[i])
		}
	}
	short := reports[len(reports)-1]
	if !short.Result.ShortCircuit || short.Score != 0 {
		t.Fatalf("short-circuit report: %+v", short)
	}
}

func TestSeveralFilesAndWrappedSnapshot(t *testing.T) {
	c := ledLoop(t)
	bare := writeJSONFile(t, "bare.json", c)
	c.Connections = nil
	wrapped := writeJSONFile(t, "view.json", map[string]any{"circuit": c, "can_undo": true})

	var out, errOut bytes.Buffer
	if code := run([]string{"-format", "json", bare, wrapped}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	var reports []report
	if err := json.Unmarshal(out.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0].Circuit != bare || reports[1].Circuit != wrapped {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if !reports[1].Result.Lit["comp-3"] {
		t.Fatal("connections should be rebuilt from wires")
	}
}

func TestEmptyCircuitStillExitsZero(t *testing.T) {
	path := writeJSONFile(t, "empty.json", circuit.Circuit{})
	var out, errOut bytes.Buffer
	if code := run([]string{"-circuit", path}, &out, &errOut); code != 0 {
		t.Fatalf("diagnostics must not fail the run, got exit %d", code)
	}
	if !strings.Contains(out.String(), sim.MsgEmptyCircuit) {
		t.Fatalf("output = %s", out.String())
	}
}

func TestUsageErrors(t *testing.T) {
	good := writeJSONFile(t, "blink.json", ledLoop(t))
	garbage := filepath.Join(t.TempDir(), "garbage.json")
	if err := os.WriteFile(garbage, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
	}{
		{"no circuit", nil},
		{"missing file", []string{"-circuit", filepath.Join(t.TempDir(), "nope.json")}},
		{"bad json", []string{"-circuit", garbage}},
		{"bad format", []string{"-circuit", good, "-format", "yaml"}},
		{"bad fault", []string{"-circuit", good, "-fault", "gremlins"}},
		{"bad flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			if code := run(tt.args, &out, &errOut); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
		})
	}
}
