// Package similar finds structurally similar exam submissions with a Qdrant
// vector index.
package similar

import (
	"math"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/WessleyAI/picolab/engine/sim"
)

// Dims is the length of a feature vector.
const Dims = 24

var wireColors = []circuit.WireColor{circuit.ColorPower, circuit.ColorGround, circuit.ColorData, circuit.ColorSignal}

// Layout: one count per catalog type in palette order, one count per wire
// color, then short, lit, burned, missing resistor, connections, unwired parts.
var typeSlot = func() map[circuit.ComponentType]int {
	m := make(map[circuit.ComponentType]int)
	for i, d := range circuit.Definitions() {
		m[d.Type] = i
	}
	return m
}()

// Features describes c and its evaluation as an L2-normalised vector. An empty
// circuit yields the zero vector.
func Features(c circuit.Circuit, res sim.Result) []float32 {
	v := make([]float64, Dims)
	nTypes := len(typeSlot)
	for _, comp := range c.Components {
		if i, ok := typeSlot[comp.Type]; ok {
			v[i]++
		}
	}
	for _, w := range c.Wires {
		for j, col := range wireColors {
			if w.Color == col {
				v[nTypes+j]++
			}
		}
	}
	base := nTypes + len(wireColors)
	if res.ShortCircuit {
		v[base] = 1
	}
	v[base+1] = float64(len(res.LitIDs()))
	v[base+2] = float64(countTrue(res.BurnedOut))
	if res.Count(feedback.CodeMissingResistor) > 0 {
		v[base+3] = 1
	}
	v[base+4] = float64(len(c.Connections))
	for _, comp := range c.Components {
		wired := false
		for _, conn := range c.Connections {
			if conn.References(comp.ID) {
				wired = true
				break
			}
		}
		if !wired {
			v[base+5]++
		}
	}
	return normalize(v)
}

func countTrue(m map[string]bool) int {
	n := 0
	for _, b := range m {
		if b {
			n++
		}
	}
	return n
}

func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
