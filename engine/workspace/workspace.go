// Package workspace holds the editable lab graph: placement, wiring and
// undo/redo. Every successful mutation records a history snapshot.
package workspace

import (
	"log/slog"
	"sync"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/google/uuid"
)

// Feedback messages emitted by workspace actions.
const (
	MsgUndo  = "Undo performed"
	MsgRedo  = "Redo performed"
	MsgReset = "Workspace reset"
)

// Workspace is the live component/wire graph. Safe for concurrent use.
type Workspace struct {
	mu       sync.Mutex
	current  circuit.Circuit
	history  *History
	selected *circuit.Endpoint
	log      *feedback.Log
	logger   *slog.Logger
	newID    func() string
	depth    int
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithIDFunc replaces the id generator (uuid by default).
func WithIDFunc(f func() string) Option { return func(w *Workspace) { w.newID = f } }

// WithHistoryDepth sets how many snapshots undo can reach.
func WithHistoryDepth(n int) Option { return func(w *Workspace) { w.depth = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Workspace) { w.logger = l } }

// New creates an empty workspace that reports to log.
func New(log *feedback.Log, opts ...Option) *Workspace {
	w := &Workspace{
		log:    log,
		logger: slog.Default(),
		newID:  uuid.NewString,
		depth:  DefaultHistoryDepth,
	}
	for _, o := range opts {
		o(w)
	}
	if w.log == nil {
		w.log = feedback.NewLog(feedback.DefaultCapacity)
	}
	w.history = NewHistory(w.depth, w.current)
	return w
}

// Snapshot returns a deep copy of the current graph.
func (w *Workspace) Snapshot() circuit.Circuit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.Clone()
}

// Place adds a catalog part at (x, y).
func (w *Workspace) Place(t circuit.ComponentType, x, y float64) (circuit.Component, error) {
	def, err := circuit.Lookup(t)
	if err != nil {
		return circuit.Component{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	comp := circuit.NewComponent(def, "comp-"+w.newID(), x, y)
	w.current.Components = append(w.current.Components, comp)
	w.commitLocked()
	w.logger.Debug("component placed", "id", comp.ID, "type", comp.Type)
	return comp, nil
}

// Move repositions a component. Negative coordinates are clamped to zero.
func (w *Workspace) Move(id string, x, y float64) (circuit.Component, error) {
	return w.updateComponent("move", id, func(c *circuit.Component) {
		c.X, c.Y = max(x, 0), max(y, 0)
	})
}

// Rotate turns a component by delta degrees, snapped to quarter turns.
func (w *Workspace) Rotate(id string, delta int) (circuit.Component, error) {
	return w.updateComponent("rotate", id, func(c *circuit.Component) {
		c.Rotation = circuit.NormalizeRotation(c.Rotation + delta)
	})
}

// SetValue changes a component's nominal value, e.g. a resistance in ohms.
func (w *Workspace) SetValue(id, value string) (circuit.Component, error) {
	return w.updateComponent("set value", id, func(c *circuit.Component) {
		c.Value = value
	})
}

// Patch holds the component properties Update changes. Nil fields are kept.
type Patch struct {
	X, Y   *float64
	Rotate *int
	Value  *string
}

func (p Patch) empty() bool {
	return p.X == nil && p.Y == nil && p.Rotate == nil && p.Value == nil
}

// Update applies every field of p as a single undo step, with the same
// clamping and snapping as Move and Rotate. An empty patch changes nothing.
func (w *Workspace) Update(id string, p Patch) (circuit.Component, error) {
	if p.empty() {
		if c, ok := w.Snapshot().Component(id); ok {
			return c, nil
		}
		return circuit.Component{}, circuit.NewGraphError("update", id, circuit.ErrComponentNotFound)
	}
	return w.updateComponent("update", id, func(c *circuit.Component) {
		if p.X != nil {
			c.X = max(*p.X, 0)
		}
		if p.Y != nil {
			c.Y = max(*p.Y, 0)
		}
		if p.Rotate != nil {
			c.Rotation = circuit.NormalizeRotation(c.Rotation + *p.Rotate)
		}
		if p.Value != nil {
			c.Value = *p.Value
		}
	})
}

func (w *Workspace) updateComponent(op, id string, f func(*circuit.Component)) (circuit.Component, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.current.Components {
		if w.current.Components[i].ID == id {
			f(&w.current.Components[i])
			w.commitLocked()
			return w.current.Components[i], nil
		}
	}
	return circuit.Component{}, circuit.NewGraphError(op, id, circuit.ErrComponentNotFound)
}

// Remove deletes a component together with every wire and connection touching it.
func (w *Workspace) Remove(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := -1
	for i, c := range w.current.Components {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return circuit.NewGraphError("remove", id, circuit.ErrComponentNotFound)
	}

	cur := &w.current
	cur.Components = append(cur.Components[:idx:idx], cur.Components[idx+1:]...)
	wires := cur.Wires[:0:0]
	for _, wr := range cur.Wires {
		if wr.From.ComponentID != id && wr.To.ComponentID != id {
			wires = append(wires, wr)
		}
	}
	conns := cur.Connections[:0:0]
	for _, c := range cur.Connections {
		if !c.References(id) {
			conns = append(conns, c)
		}
	}
	cur.Wires, cur.Connections = wires, conns

	if w.selected != nil && w.selected.ComponentID == id {
		w.selected = nil
	}
	w.commitLocked()
	return nil
}

// Connect wires two pins. The wire color is derived from the pin roles.
func (w *Workspace) Connect(from, to circuit.Endpoint) (circuit.Wire, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connectLocked(from, to)
}

func (w *Workspace) connectLocked(from, to circuit.Endpoint) (circuit.Wire, error) {
	if from == to {
		return circuit.Wire{}, circuit.NewGraphError("connect", from.Key(), circuit.ErrSelfConnection)
	}
	a, err := w.resolveLocked("connect", from)
	if err != nil {
		return circuit.Wire{}, err
	}
	b, err := w.resolveLocked("connect", to)
	if err != nil {
		return circuit.Wire{}, err
	}

	wire := circuit.Wire{
		ID:    "wire-" + w.newID(),
		From:  from,
		To:    to,
		Color: circuit.ClassifyWire(a, b),
	}
	w.current.Wires = append(w.current.Wires, wire)
	w.current.Connections = append(w.current.Connections, circuit.ConnectionFor(wire))
	w.commitLocked()
	return wire, nil
}

func (w *Workspace) resolveLocked(op string, ep circuit.Endpoint) (circuit.PinRole, error) {
	comp, ok := w.current.Component(ep.ComponentID)
	if !ok {
		return "", circuit.NewGraphError(op, ep.Key(), circuit.ErrComponentNotFound)
	}
	p, ok := comp.Pin(ep.PinID)
	if !ok {
		return "", circuit.NewGraphError(op, ep.Key(), circuit.ErrPinNotFound)
	}
	return p.Role, nil
}

// SelectPin drives the two-click wiring gesture. The first click selects a
// pin, clicking it again cancels, and clicking another pin completes a wire.
// The returned wire is nil unless one was created.
func (w *Workspace) SelectPin(ep circuit.Endpoint) (*circuit.Wire, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.resolveLocked("select pin", ep); err != nil {
		return nil, err
	}
	switch {
	case w.selected == nil:
		sel := ep
		w.selected = &sel
		return nil, nil
	case *w.selected == ep:
		w.selected = nil
		return nil, nil
	}
	from := *w.selected
	w.selected = nil
	wire, err := w.connectLocked(from, ep)
	if err != nil {
		return nil, err
	}
	return &wire, nil
}

// Selected returns the pin picked by the first click of the gesture.
func (w *Workspace) Selected() (circuit.Endpoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return circuit.Endpoint{}, false
	}
	return *w.selected, true
}

// Disconnect removes a wire and its connection.
func (w *Workspace) Disconnect(wireID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := &w.current
	found := false
	wires := cur.Wires[:0:0]
	for _, wr := range cur.Wires {
		if wr.ID == wireID {
			found = true
			continue
		}
		wires = append(wires, wr)
	}
	if !found {
		return circuit.NewGraphError("disconnect", wireID, circuit.ErrWireNotFound)
	}
	conns := cur.Connections[:0:0]
	for _, c := range cur.Connections {
		if c.WireID != wireID {
			conns = append(conns, c)
		}
	}
	cur.Wires, cur.Connections = wires, conns
	w.commitLocked()
	return nil
}

// Load replaces the graph with c after checking its consistency.
func (w *Workspace) Load(c circuit.Circuit) error {
	if err := c.CheckConsistency(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = c.Clone()
	w.selected = nil
	w.commitLocked()
	return nil
}

// Undo restores the previous snapshot. It reports false when there is none.
func (w *Workspace) Undo() (circuit.Circuit, bool) {
	return w.travel(false, MsgUndo)
}

// Redo restores the next snapshot. It reports false when there is none.
func (w *Workspace) Redo() (circuit.Circuit, bool) {
	return w.travel(true, MsgRedo)
}

func (w *Workspace) travel(forward bool, msg string) (circuit.Circuit, bool) {
	w.mu.Lock()
	step := w.history.Undo
	if forward {
		step = w.history.Redo
	}
	c, ok := step()
	if ok {
		w.current = c
		w.selected = nil
	}
	w.mu.Unlock()
	if !ok {
		return circuit.Circuit{}, false
	}
	w.log.Add(feedback.KindInfo, feedback.CodeWorkspace, msg)
	return c.Clone(), true
}

// CanUndo reports whether Undo would succeed.
func (w *Workspace) CanUndo() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.CanUndo()
}

// CanRedo reports whether Redo would succeed.
func (w *Workspace) CanRedo() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.CanRedo()
}

// Reset empties the graph, the history and the feedback log.
func (w *Workspace) Reset() {
	w.mu.Lock()
	w.current = circuit.Circuit{}
	w.selected = nil
	w.history = NewHistory(w.depth, w.current)
	w.mu.Unlock()

	w.log.Clear()
	w.log.Add(feedback.KindInfo, feedback.CodeWorkspace, MsgReset)
}

// commitLocked records the current graph in history. Must hold mu.
func (w *Workspace) commitLocked() {
	w.history.Push(w.current)
}
