package circuit

// CheckConsistency verifies the structural invariants of a snapshot: unique
// component ids, wires whose endpoints resolve, and a one-to-one match
// between wires and connections.
func (c Circuit) CheckConsistency() error {
	seen := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		if seen[comp.ID] {
			return NewGraphError("check component", comp.ID, ErrDuplicateID)
		}
		seen[comp.ID] = true
	}

	wires := make(map[string]Wire, len(c.Wires))
	for _, w := range c.Wires {
		if _, dup := wires[w.ID]; dup {
			return NewGraphError("check wire", w.ID, ErrDuplicateID)
		}
		for _, ep := range []Endpoint{w.From, w.To} {
			if err := c.checkEndpoint(ep); err != nil {
				return err
			}
		}
		wires[w.ID] = w
	}

	if len(c.Connections) != len(wires) {
		return NewGraphError("check connections", "", ErrInconsistent)
	}
	for _, conn := range c.Connections {
		w, ok := wires[conn.WireID]
		if !ok || w.From != conn.From || w.To != conn.To {
			return NewGraphError("check connection", conn.WireID, ErrInconsistent)
		}
		delete(wires, conn.WireID)
	}
	return nil
}

func (c Circuit) checkEndpoint(ep Endpoint) error {
	comp, ok := c.Component(ep.ComponentID)
	if !ok {
		return NewGraphError("resolve endpoint", ep.Key(), ErrComponentNotFound)
	}
	if _, ok := comp.Pin(ep.PinID); !ok {
		return NewGraphError("resolve endpoint", ep.Key(), ErrPinNotFound)
	}
	return nil
}
