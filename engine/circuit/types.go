// Package circuit defines the lab's component/wire graph and the part catalog.
package circuit

import "strings"

// ComponentType identifies a catalog part.
type ComponentType string

const (
	TypeArduinoUno    ComponentType = "arduino-uno"
	TypeLEDRed        ComponentType = "led-red"
	TypeLEDGreen      ComponentType = "led-green"
	TypeLEDBlue       ComponentType = "led-blue"
	TypeLEDYellow     ComponentType = "led-yellow"
	TypeRGBLED        ComponentType = "rgb-led"
	TypeResistor      ComponentType = "resistor"
	TypePushButton    ComponentType = "push-button"
	TypePotentiometer ComponentType = "potentiometer"
	TypeBattery9V     ComponentType = "battery-9v"
	TypeDHT11         ComponentType = "dht11"
	TypeDCMotor       ComponentType = "dc-motor"
	TypeServoMotor    ComponentType = "servo-motor"
	TypeBuzzer        ComponentType = "buzzer"
)

// IsLED reports whether the type belongs to the LED class. Any type whose
// name contains "led" qualifies, so rgb-led counts.
func (t ComponentType) IsLED() bool { return strings.Contains(string(t), "led") }

// IsResistor reports whether the type is exactly a resistor.
func (t ComponentType) IsResistor() bool { return t == TypeResistor }

// PinRole is the electrical role of a pin.
type PinRole string

const (
	RolePower   PinRole = "power"
	RoleGround  PinRole = "ground"
	RoleInput   PinRole = "input"
	RoleOutput  PinRole = "output"
	RoleAnalog  PinRole = "analog"
	RoleDigital PinRole = "digital"
	RoleGPIO    PinRole = "gpio"
)

var validRoles = map[PinRole]bool{
	RolePower: true, RoleGround: true, RoleInput: true, RoleOutput: true,
	RoleAnalog: true, RoleDigital: true, RoleGPIO: true,
}

// Valid reports whether r is a known role.
func (r PinRole) Valid() bool { return validRoles[r] }

// Pin is a terminal on a component. IDs are unique only within the owning component.
type Pin struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Role PinRole `json:"role"`
}

// ComponentState holds the flags set by evaluation.
type ComponentState struct {
	Powered      bool     `json:"powered"`
	Active       bool     `json:"active"`
	BurnedOut    bool     `json:"burned_out,omitempty"`
	ShortCircuit bool     `json:"short_circuit,omitempty"`
	Value        *float64 `json:"value,omitempty"`
}

// Component is a placed part instance.
type Component struct {
	ID       string         `json:"id"`
	Type     ComponentType  `json:"type"`
	Name     string         `json:"name"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Rotation int            `json:"rotation"`
	Pins     []Pin          `json:"pins"`
	State    ComponentState `json:"state"`
	Value    string         `json:"value,omitempty"`
}

// Pin returns the pin with the given id.
func (c Component) Pin(id string) (Pin, bool) {
	for _, p := range c.Pins {
		if p.ID == id {
			return p, true
		}
	}
	return Pin{}, false
}

// Endpoint addresses one pin of one component.
type Endpoint struct {
	ComponentID string `json:"component"`
	PinID       string `json:"pin"`
}

// Key returns the component-pin key, e.g. "c1/anode".
func (e Endpoint) Key() string { return e.ComponentID + "/" + e.PinID }

// ParseEndpoint parses a component-pin key produced by Key.
func ParseEndpoint(key string) (Endpoint, error) {
	i := strings.LastIndex(key, "/")
	if i <= 0 || i == len(key)-1 {
		return Endpoint{}, &GraphError{Op: "parse endpoint", ID: key, Wrapped: ErrPinNotFound}
	}
	return Endpoint{ComponentID: key[:i], PinID: key[i+1:]}, nil
}

// WireColor classifies a wire by the roles of its endpoints.
type WireColor string

const (
	ColorPower  WireColor = "power"
	ColorGround WireColor = "ground"
	ColorData   WireColor = "data"
	ColorSignal WireColor = "signal"
)

// ClassifyWire derives the wire color. Precedence is power, then ground,
// then digital, with signal as the fallback.
func ClassifyWire(a, b PinRole) WireColor {
	switch {
	case a == RolePower || b == RolePower:
		return ColorPower
	case a == RoleGround || b == RoleGround:
		return ColorGround
	case a == RoleDigital || b == RoleDigital:
		return ColorData
	default:
		return ColorSignal
	}
}

// Wire joins two endpoints.
type Wire struct {
	ID    string    `json:"id"`
	From  Endpoint  `json:"from"`
	To    Endpoint  `json:"to"`
	Color WireColor `json:"color"`
}

// Connection is the adjacency index entry kept for each wire.
type Connection struct {
	From   Endpoint `json:"from"`
	To     Endpoint `json:"to"`
	WireID string   `json:"wire_id"`
}

// References reports whether either end of the connection sits on componentID.
func (c Connection) References(componentID string) bool {
	return c.From.ComponentID == componentID || c.To.ComponentID == componentID
}

// ConnectionFor builds the index entry of w.
func ConnectionFor(w Wire) Connection {
	return Connection{From: w.From, To: w.To, WireID: w.ID}
}

// Circuit is a point-in-time snapshot of the lab graph.
type Circuit struct {
	Components  []Component  `json:"components"`
	Wires       []Wire       `json:"wires"`
	Connections []Connection `json:"connections"`
}

// IsEmpty reports whether the circuit has no components.
func (c Circuit) IsEmpty() bool { return len(c.Components) == 0 }

// Component finds a component by id.
func (c Circuit) Component(id string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.ID == id {
			return comp, true
		}
	}
	return Component{}, false
}

// PinRole resolves the role of the pin at ep. The component is looked up first
// because pin ids repeat across components.
func (c Circuit) PinRole(ep Endpoint) (PinRole, bool) {
	comp, ok := c.Component(ep.ComponentID)
	if !ok {
		return "", false
	}
	p, ok := comp.Pin(ep.PinID)
	if !ok {
		return "", false
	}
	return p.Role, true
}

// Clone returns a deep copy.
func (c Circuit) Clone() Circuit {
	out := Circuit{
		Components:  make([]Component, len(c.Components)),
		Wires:       append([]Wire(nil), c.Wires...),
		Connections: append([]Connection(nil), c.Connections...),
	}
	for i, comp := range c.Components {
		comp.Pins = append([]Pin(nil), comp.Pins...)
		if comp.State.Value != nil {
			v := *comp.State.Value
			comp.State.Value = &v
		}
		out.Components[i] = comp
	}
	return out
}
