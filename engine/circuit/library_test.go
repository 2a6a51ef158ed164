package circuit

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	d, err := Lookup(TypeLEDRed)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "LED (Red)" || d.Width != 40 || d.Height != 60 {
		t.Fatalf("unexpected definition: %+v", d)
	}
	if len(d.Pins) != 2 || d.Pins[1].Role != RoleGround {
		t.Fatalf("unexpected pins: %+v", d.Pins)
	}

	_, err = Lookup("flux-capacitor")
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	d, _ := Lookup(TypeBattery9V)
	d.Pins[0].Role = RoleGround
	again, _ := Lookup(TypeBattery9V)
	if again.Pins[0].Role != RolePower {
		t.Fatal("catalog mutated through Lookup result")
	}
}

func TestArduinoPins(t *testing.T) {
	d, _ := Lookup(TypeArduinoUno)
	roles := map[PinRole]int{}
	for _, p := range d.Pins {
		roles[p.Role]++
	}
	if roles[RoleDigital] != 14 || roles[RoleAnalog] != 6 || roles[RolePower] != 3 || roles[RoleGround] != 2 {
		t.Fatalf("unexpected role counts: %v", roles)
	}
}

func TestDefinitionsCoverAllTypes(t *testing.T) {
	defs := Definitions()
	if len(defs) != 14 {
		t.Fatalf("expected 14 parts, got %d", len(defs))
	}
	if defs[0].Type != TypeArduinoUno {
		t.Fatalf("palette should start with the Arduino, got %s", defs[0].Type)
	}
	for _, d := range defs {
		if len(d.Pins) == 0 || d.Width <= 0 || d.Height <= 0 {
			t.Errorf("%s: incomplete definition", d.Type)
		}
		for _, p := range d.Pins {
			if !p.Role.Valid() {
				t.Errorf("%s/%s: invalid role %q", d.Type, p.ID, p.Role)
			}
		}
	}
}

func TestByCategory(t *testing.T) {
	groups := ByCategory()
	if n := len(groups[CategoryMotor]); n != 2 {
		t.Fatalf("expected 2 motors, got %d", n)
	}
	out := groups[CategoryOutput]
	if len(out) != 6 || out[0].Type != TypeLEDRed {
		t.Fatalf("unexpected output group: %d parts", len(out))
	}
}

func TestNewComponent(t *testing.T) {
	d, _ := Lookup(TypeResistor)
	c := NewComponent(d, "r1", -20, 35)
	if c.X != 0 || c.Y != 35 {
		t.Fatalf("expected clamped position, got (%v, %v)", c.X, c.Y)
	}
	if c.Value != "1000" || c.Name != "Resistor" {
		t.Fatalf("unexpected component: %+v", c)
	}
	c.Pins[0].ID = "changed"
	if d2, _ := Lookup(TypeResistor); d2.Pins[0].ID != "pin1" {
		t.Fatal("component shares pins with catalog")
	}
}

func TestNormalizeRotation(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {90, 90}, {180, 180}, {270, 270}, {360, 0},
		{-90, 270}, {450, 90}, {100, 90}, {136, 180}, {359, 0},
	}
	for _, tt := range tests {
		if got := NormalizeRotation(tt.in); got != tt.want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPinPosition(t *testing.T) {
	d, _ := Lookup(TypeLEDRed)
	c := NewComponent(d, "led", 100, 50)

	// Two pins across 40px: spacing 40/3.
	p, err := PinPosition(c, "anode")
	if err != nil {
		t.Fatal(err)
	}
	if !near(p.X, 100+40.0/3) || p.Y != 110 {
		t.Fatalf("anode at %+v", p)
	}

	c.Rotation = 180
	p, _ = PinPosition(c, "anode")
	// Mirrored through the centre (120, 80).
	if !near(p.X, 140-40.0/3) || p.Y != 50 {
		t.Fatalf("rotated anode at %+v", p)
	}

	c.Rotation = 90
	p, _ = PinPosition(c, "cathode")
	// A quarter turn maps the centre offset (dx, dy) to (-dy, dx).
	dx := 40.0/3*2 - 20
	if !near(p.X, 120-30) || !near(p.Y, 80+dx) {
		t.Fatalf("quarter-turn cathode at %+v", p)
	}

	if _, err := PinPosition(c, "gate"); !errors.Is(err, ErrPinNotFound) {
		t.Fatalf("expected ErrPinNotFound, got %v", err)
	}
	c.Type = "mystery"
	if _, err := PinPosition(c, "anode"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
