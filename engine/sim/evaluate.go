// Package sim evaluates a circuit snapshot and drives the simulation lifecycle.
package sim

import (
	"sort"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
)

// Messages shown to students.
const (
	MsgEmptyCircuit    = "Add components to the canvas first"
	MsgStarted         = "Simulation started"
	MsgStopped         = "Simulation stopped"
	MsgShortCircuit    = "SHORT CIRCUIT DETECTED! Power supply overload!"
	MsgShortStopped    = "Simulation stopped due to short circuit"
	MsgLEDBurnedOut    = "LED burned out! Missing current-limiting resistor"
	MsgMissingResistor = "LED connected without resistor - risk of burnout!"
	MsgLooseWire       = "Loose wire detected! Connection interrupted."
)

const (
	litSuffix = " is lit!"
	// An LED needs both terminals wired to count as lit.
	minConnectionsForLit = 2
)

// Options tunes follow-up delays and the clock.
type Options struct {
	StopDelay      time.Duration
	LooseWireDelay time.Duration
	Now            func() time.Time
}

// DefaultOptions returns the production delays.
func DefaultOptions() Options {
	return Options{
		StopDelay:      time.Second,
		LooseWireDelay: 2 * time.Second,
		Now:            time.Now,
	}
}

// Scheduled is a follow-up event to emit after Delay.
type Scheduled struct {
	Delay           time.Duration  `json:"delay"`
	Event           feedback.Event `json:"event"`
	StopsSimulation bool           `json:"stops_simulation,omitempty"`
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Events       []feedback.Event `json:"events"`
	Scheduled    []Scheduled      `json:"scheduled,omitempty"`
	Lit          map[string]bool  `json:"lit"`
	BurnedOut    map[string]bool  `json:"burned_out"`
	Shorted      map[string]bool  `json:"shorted"`
	ShortCircuit bool             `json:"short_circuit"`
	Halted       bool             `json:"halted"`
}

// AllEvents returns the immediate events followed by the scheduled ones.
func (r Result) AllEvents() []feedback.Event {
	out := append([]feedback.Event(nil), r.Events...)
	for _, s := range r.Scheduled {
		out = append(out, s.Event)
	}
	return out
}

// LitIDs returns the lit component ids, sorted.
func (r Result) LitIDs() []string { return sortedKeys(r.Lit) }

// Count returns how many events (immediate and scheduled) carry code.
func (r Result) Count(code feedback.Code) int {
	n := 0
	for _, e := range r.AllEvents() {
		if e.Code == code {
			n++
		}
	}
	return n
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Evaluator runs the structural circuit checks.
type Evaluator struct {
	opts Options
}

// NewEvaluator creates an Evaluator. Zero fields fall back to DefaultOptions.
func NewEvaluator(opts Options) *Evaluator {
	def := DefaultOptions()
	if opts.StopDelay <= 0 {
		opts.StopDelay = def.StopDelay
	}
	if opts.LooseWireDelay <= 0 {
		opts.LooseWireDelay = def.LooseWireDelay
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Evaluator{opts: opts}
}

var defaultEvaluator = NewEvaluator(DefaultOptions())

// Evaluate runs the default evaluator over c.
func Evaluate(c circuit.Circuit, fault Fault) Result {
	return defaultEvaluator.Evaluate(c, fault)
}

// Evaluate inspects c under the given fault. It never modifies c.
func (e *Evaluator) Evaluate(c circuit.Circuit, fault Fault) Result {
	now := e.opts.Now()
	ev := func(kind feedback.Kind, code feedback.Code, msg, subject string) feedback.Event {
		return feedback.Event{Kind: kind, Code: code, Message: msg, Subject: subject, Timestamp: now}
	}
	res := Result{
		Lit:       map[string]bool{},
		BurnedOut: map[string]bool{},
		Shorted:   map[string]bool{},
	}

	if c.IsEmpty() {
		res.Events = append(res.Events, ev(feedback.KindWarning, feedback.CodeEmptyCircuit, MsgEmptyCircuit, ""))
		res.Halted = true
		return res
	}

	res.Events = append(res.Events, ev(feedback.KindInfo, feedback.CodeSimulationStarted, MsgStarted, ""))

	for _, conn := range bridgingConnections(c) {
		res.Shorted[conn.From.ComponentID] = true
		res.Shorted[conn.To.ComponentID] = true
	}
	if len(res.Shorted) > 0 || fault == FaultShortCircuit {
		res.ShortCircuit = true
		res.Halted = true
		res.Events = append(res.Events, ev(feedback.KindError, feedback.CodeShortCircuit, MsgShortCircuit, ""))
		res.Scheduled = append(res.Scheduled, Scheduled{
			Delay:           e.opts.StopDelay,
			Event:           ev(feedback.KindWarning, feedback.CodeSimulationStopped, MsgShortStopped, ""),
			StopsSimulation: true,
		})
		return res
	}

	var leds []circuit.Component
	resistors := 0
	for _, comp := range c.Components {
		switch {
		case comp.Type.IsLED():
			leds = append(leds, comp)
		case comp.Type.IsResistor():
			resistors++
		}
	}

	if len(leds) > 0 && resistors == 0 {
		if fault == FaultWrongResistor {
			res.Events = append(res.Events, ev(feedback.KindError, feedback.CodeLEDBurnedOut, MsgLEDBurnedOut, ""))
			for _, led := range leds {
				res.BurnedOut[led.ID] = true
			}
		} else {
			res.Events = append(res.Events, ev(feedback.KindWarning, feedback.CodeMissingResistor, MsgMissingResistor, ""))
		}
	}

	for _, led := range leds {
		if res.BurnedOut[led.ID] {
			continue
		}
		if connectionCount(c, led.ID) >= minConnectionsForLit {
			res.Lit[led.ID] = true
			res.Events = append(res.Events, ev(feedback.KindSuccess, feedback.CodeComponentLit, led.Name+litSuffix, led.ID))
		}
	}

	if fault == FaultLooseWire && len(c.Connections) > 0 {
		res.Scheduled = append(res.Scheduled, Scheduled{
			Delay: e.opts.LooseWireDelay,
			Event: ev(feedback.KindWarning, feedback.CodeLooseWire, MsgLooseWire, ""),
		})
	}
	return res
}

// bridgingConnections returns the connections that join a power pin directly
// to a ground pin. Endpoints that do not resolve are skipped.
func bridgingConnections(c circuit.Circuit) []circuit.Connection {
	var out []circuit.Connection
	for _, conn := range c.Connections {
		a, ok := c.PinRole(conn.From)
		if !ok {
			continue
		}
		b, ok := c.PinRole(conn.To)
		if !ok {
			continue
		}
		if (a == circuit.RolePower && b == circuit.RoleGround) || (a == circuit.RoleGround && b == circuit.RolePower) {
			out = append(out, conn)
		}
	}
	return out
}

// HasShortCircuit reports whether any connection bridges power and ground.
func HasShortCircuit(c circuit.Circuit) bool { return len(bridgingConnections(c)) > 0 }

func connectionCount(c circuit.Circuit, componentID string) int {
	n := 0
	for _, conn := range c.Connections {
		if conn.References(componentID) {
			n++
		}
	}
	return n
}
