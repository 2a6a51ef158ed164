package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/pkg/repo"
	"github.com/WessleyAI/picolab/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	recs []*neo4j.Record
	i    int
}

func (m *mockResult) Next(context.Context) bool {
	if m.i < len(m.recs) {
		m.i++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.recs[m.i-1] }

// mockSession answers queries by the first cypher keyword that matches.
type mockSession struct {
	answers map[string][]*neo4j.Record
	err     error
	ran     []string
	params  []map[string]any
	writes  int
	closed  int
}

func (m *mockSession) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	m.ran = append(m.ran, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	for key, recs := range m.answers {
		if strings.Contains(cypher, key) {
			return &mockResult{recs: recs}, nil
		}
	}
	return &mockResult{}, nil
}

func (m *mockSession) Close(context.Context) error { m.closed++; return nil }

func (m *mockSession) ExecuteWrite(_ context.Context, work func(repo.Runner) error) error {
	m.writes++
	return work(m)
}

type mockOpener struct{ sess *mockSession }

func (o mockOpener) Open(context.Context) Session { return o.sess }

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

var (
	partKeys = []string{"id", "type", "name", "x", "y", "rotation", "value"}
	wireKeys = []string{"id", "from", "from_pin", "to", "to_pin", "color"}
)

func sample(t *testing.T) circuit.Circuit {
	t.Helper()
	var c circuit.Circuit
	for _, p := range []struct {
		id  string
		typ circuit.ComponentType
	}{{"bat", circuit.TypeBattery9V}, {"led", circuit.TypeLEDRed}} {
		def, err := circuit.Lookup(p.typ)
		if err != nil {
			t.Fatal(err)
		}
		c.Components = append(c.Components, circuit.NewComponent(def, p.id, 10, 20))
	}
	w := circuit.Wire{
		ID:    "w1",
		From:  circuit.Endpoint{ComponentID: "bat", PinID: "positive"},
		To:    circuit.Endpoint{ComponentID: "led", PinID: "anode"},
		Color: circuit.ColorPower,
	}
	c.Wires = []circuit.Wire{w}
	c.Connections = []circuit.Connection{circuit.ConnectionFor(w)}
	return c
}

func TestSaveCircuit(t *testing.T) {
	sess := &mockSession{}
	g := NewWithOpener(mockOpener{sess})
	g.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := g.SaveCircuit(context.Background(), "blink", sample(t)); err != nil {
		t.Fatal(err)
	}
	if sess.writes != 1 || len(sess.ran) != 4 || sess.closed != 1 {
		t.Fatalf("writes=%d ran=%d closed=%d", sess.writes, len(sess.ran), sess.closed)
	}
	if sess.params[0]["updated_at"] != "2025-01-02T03:04:05Z" {
		t.Fatalf("updated_at = %v", sess.params[0]["updated_at"])
	}
	parts := sess.params[2]["parts"].([]map[string]any)
	if len(parts) != 2 || parts[1]["id"] != "led" || parts[1]["circuit"] != "blink" || parts[1]["type"] != "led-red" {
		t.Fatalf("parts = %v", parts)
	}
	wires := sess.params[3]["wires"].([]map[string]any)
	if wires[0]["from_pin"] != "positive" || wires[0]["color"] != "power" {
		t.Fatalf("wires = %v", wires)
	}
}

func TestSaveCircuitRejects(t *testing.T) {
	sess := &mockSession{}
	g := NewWithOpener(mockOpener{sess})
	ctx := context.Background()

	if err := g.SaveCircuit(ctx, "bad name!", sample(t)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("name: %v", err)
	}
	broken := sample(t)
	broken.Connections = nil
	if err := g.SaveCircuit(ctx, "ok", broken); !errors.Is(err, circuit.ErrInconsistent) {
		t.Fatalf("inconsistent: %v", err)
	}
	if len(sess.ran) != 0 {
		t.Fatal("rejected saves must not reach the database")
	}
}

func TestLoadCircuit(t *testing.T) {
	sess := &mockSession{answers: map[string][]*neo4j.Record{
		"RETURN c.name": {record([]string{"name"}, "blink")},
		"RETURN p.id": {
			record(partKeys, "bat", "battery-9v", nil, int64(40), 15.5, int64(0), nil),
			record(partKeys, "led", "led-red", "Status LED", 100.0, 50.0, int64(450), "red"),
		},
		"RETURN w.id": {record(wireKeys, "w1", "bat", "positive", "led", "anode", "power")},
	}}
	c, err := NewWithOpener(mockOpener{sess}).LoadCircuit(context.Background(), "blink")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Components) != 2 || len(c.Wires) != 1 || len(c.Connections) != 1 {
		t.Fatalf("circuit = %+v", c)
	}
	bat := c.Components[0]
	if bat.X != 40 || bat.Y != 15.5 || bat.Name != "9V Battery" || len(bat.Pins) != 2 {
		t.Fatalf("bat = %+v", bat)
	}
	led := c.Components[1]
	if led.Name != "Status LED" || led.Rotation != 90 || led.Value != "red" {
		t.Fatalf("led = %+v", led)
	}
	if c.Connections[0].WireID != "w1" || c.Wires[0].Color != circuit.ColorPower {
		t.Fatalf("wire = %+v", c.Wires[0])
	}
}

func TestLoadCircuitNotFound(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour})
	g := NewWithOpener(mockOpener{&mockSession{}}, WithBreaker(b))
	for i := 0; i < 2; i++ {
		if _, err := g.LoadCircuit(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v", err)
		}
	}
	if b.State() != resilience.StateClosed {
		t.Fatal("not found must not trip the breaker")
	}
}

func TestLoadCircuitUnknownPart(t *testing.T) {
	sess := &mockSession{answers: map[string][]*neo4j.Record{
		"RETURN c.name": {record([]string{"name"}, "odd")},
		"RETURN p.id":   {record(partKeys, "x", "tesla-coil", nil, 0.0, 0.0, int64(0), nil)},
	}}
	_, err := NewWithOpener(mockOpener{sess}).LoadCircuit(context.Background(), "odd")
	if !errors.Is(err, circuit.ErrUnknownType) {
		t.Fatalf("got %v", err)
	}
}

func TestListCircuits(t *testing.T) {
	sess := &mockSession{answers: map[string][]*neo4j.Record{
		"MATCH (c:Circuit) RETURN": {record([]string{"name"}, "alpha"), record([]string{"name"}, "blink")},
	}}
	names, err := NewWithOpener(mockOpener{sess}).ListCircuits(context.Background())
	if err != nil || len(names) != 2 || names[1] != "blink" {
		t.Fatalf("names=%v err=%v", names, err)
	}
}

func TestDeleteCircuit(t *testing.T) {
	sess := &mockSession{answers: map[string][]*neo4j.Record{
		"RETURN c.name": {record([]string{"name"}, "blink")},
	}}
	g := NewWithOpener(mockOpener{sess})
	if err := g.DeleteCircuit(context.Background(), "blink"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sess.ran[1], "DETACH DELETE p, c") {
		t.Fatalf("ran %v", sess.ran)
	}

	empty := &mockSession{}
	if err := NewWithOpener(mockOpener{empty}).DeleteCircuit(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if len(empty.ran) != 1 {
		t.Fatal("missing circuit must not run the delete")
	}
}

func TestDatabaseErrorsTripBreaker(t *testing.T) {
	down := errors.New("connection refused")
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour})
	sess := &mockSession{err: down}
	g := NewWithOpener(mockOpener{sess}, WithBreaker(b))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.ListCircuits(ctx); !errors.Is(err, down) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := g.LoadCircuit(ctx, "blink"); !errors.Is(err, resilience.ErrBreakerOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"blink":                 true,
		"traffic_light-2":       true,
		"":                      false,
		"has space":             false,
		"semi;colon":            false,
		strings.Repeat("a", 65): false,
	}
	for name, want := range tests {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}
