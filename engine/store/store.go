// Package store persists named lab circuits in Neo4j. Each component is a
// (:Part) node and each wire a [:WIRE] relationship between two parts.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/pkg/repo"
	"github.com/WessleyAI/picolab/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound    = errors.New("store: circuit not found")
	ErrInvalidName = errors.New("store: invalid circuit name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Session is the part of a Neo4j session the store uses.
type Session interface {
	repo.Runner
	// ExecuteWrite runs work in a single write transaction.
	ExecuteWrite(ctx context.Context, work func(tx repo.Runner) error) error
}

// SessionOpener hands out sessions.
type SessionOpener interface {
	Open(ctx context.Context) Session
}

// DriverOpener opens sessions on a real driver.
type DriverOpener struct {
	Driver neo4j.DriverWithContext
}

func (o DriverOpener) Open(ctx context.Context) Session {
	return &driverSession{SessionAdapter: repo.SessionAdapter{Session: o.Driver.NewSession(ctx, neo4j.SessionConfig{})}}
}

type driverSession struct {
	repo.SessionAdapter
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx repo.Runner) error) error {
	_, err := s.Session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txRunner{tx: tx})
	})
	return err
}

// txRunner lets transaction work use the same Runner interface as sessions.
type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (t txRunner) Run(ctx context.Context, cypher string, params map[string]any) (repo.Result, error) {
	return t.tx.Run(ctx, cypher, params)
}

func (txRunner) Close(context.Context) error { return nil }

// GraphStore saves and loads whole circuits.
type GraphStore struct {
	opener  SessionOpener
	breaker *resilience.Breaker
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a GraphStore.
type Option func(*GraphStore)

// WithBreaker shares b with other stores on the same database.
func WithBreaker(b *resilience.Breaker) Option { return func(g *GraphStore) { g.breaker = b } }

// New creates a GraphStore on driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *GraphStore {
	return NewWithOpener(DriverOpener{Driver: driver}, opts...)
}

// NewWithOpener creates a GraphStore on any session source.
func NewWithOpener(o SessionOpener, opts ...Option) *GraphStore {
	g := &GraphStore{
		opener: o,
		tracer: otel.Tracer("engine/store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return g
}

// ValidName reports whether name can be used as a circuit name.
func ValidName(name string) bool { return namePattern.MatchString(name) }

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// call runs f through the breaker; ErrNotFound passes through without
// counting as a database failure.
func (g *GraphStore) call(ctx context.Context, op, name string, f func(context.Context, Session) error) error {
	ctx, span := g.tracer.Start(ctx, "store."+op, trace.WithAttributes(attribute.String("circuit", name)))
	defer span.End()

	var notFound bool
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		sess := g.opener.Open(ctx)
		defer sess.Close(ctx)
		err := f(ctx, sess)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: %s %q: %w", op, name, err)
	}
	return nil
}

const (
	cypherMergeCircuit = `MERGE (c:Circuit {name: $name}) SET c.updated_at = $updated_at`
	cypherDropParts    = `MATCH (p:Part {circuit: $name}) DETACH DELETE p`
	cypherCreateParts  = `UNWIND $parts AS part CREATE (p:Part) SET p = part`
	cypherCreateWires  = `UNWIND $wires AS w
MATCH (a:Part {circuit: $name, id: w.from}), (b:Part {circuit: $name, id: w.to})
CREATE (a)-[:WIRE {id: w.id, from_pin: w.from_pin, to_pin: w.to_pin, color: w.color, seq: w.seq}]->(b)`
	cypherCircuitExists = `MATCH (c:Circuit {name: $name}) RETURN c.name AS name`
	cypherLoadParts     = `MATCH (p:Part {circuit: $name})
RETURN p.id AS id, p.type AS type, p.name AS name, p.x AS x, p.y AS y, p.rotation AS rotation, p.value AS value
ORDER BY p.seq`
	cypherLoadWires = `MATCH (a:Part {circuit: $name})-[w:WIRE]->(b:Part {circuit: $name})
RETURN w.id AS id, a.id AS from, w.from_pin AS from_pin, b.id AS to, w.to_pin AS to_pin, w.color AS color
ORDER BY w.seq`
	cypherListCircuits  = `MATCH (c:Circuit) RETURN c.name AS name ORDER BY name`
	cypherDeleteCircuit = `MATCH (c:Circuit {name: $name}) OPTIONAL MATCH (p:Part {circuit: $name}) DETACH DELETE p, c`
)

// SaveCircuit stores c under name, replacing any previous version.
func (g *GraphStore) SaveCircuit(ctx context.Context, name string, c circuit.Circuit) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := c.CheckConsistency(); err != nil {
		return err
	}
	parts := make([]map[string]any, len(c.Components))
	for i, comp := range c.Components {
		parts[i] = map[string]any{
			"circuit":  name,
			"seq":      int64(i),
			"id":       comp.ID,
			"type":     string(comp.Type),
			"name":     comp.Name,
			"x":        comp.X,
			"y":        comp.Y,
			"rotation": int64(comp.Rotation),
			"value":    comp.Value,
		}
	}
	wires := make([]map[string]any, len(c.Wires))
	for i, w := range c.Wires {
		wires[i] = map[string]any{
			"seq":      int64(i),
			"id":       w.ID,
			"from":     w.From.ComponentID,
			"from_pin": w.From.PinID,
			"to":       w.To.ComponentID,
			"to_pin":   w.To.PinID,
			"color":    string(w.Color),
		}
	}
	return g.call(ctx, "save", name, func(ctx context.Context, sess Session) error {
		return sess.ExecuteWrite(ctx, func(tx repo.Runner) error {
			steps := []struct {
				cypher string
				params map[string]any
			}{
				{cypherMergeCircuit, map[string]any{"name": name, "updated_at": g.now().UTC().Format(time.RFC3339)}},
				{cypherDropParts, map[string]any{"name": name}},
				{cypherCreateParts, map[string]any{"parts": parts}},
				{cypherCreateWires, map[string]any{"name": name, "wires": wires}},
			}
			for _, s := range steps {
				if _, err := tx.Run(ctx, s.cypher, s.params); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// LoadCircuit rebuilds the circuit stored under name. Pins come from the
// component library.
func (g *GraphStore) LoadCircuit(ctx context.Context, name string) (circuit.Circuit, error) {
	if err := checkName(name); err != nil {
		return circuit.Circuit{}, err
	}
	var out circuit.Circuit
	err := g.call(ctx, "load", name, func(ctx context.Context, sess Session) error {
		params := map[string]any{"name": name}
		res, err := sess.Run(ctx, cypherCircuitExists, params)
		if err != nil {
			return err
		}
		if !res.Next(ctx) {
			return ErrNotFound
		}

		if res, err = sess.Run(ctx, cypherLoadParts, params); err != nil {
			return err
		}
		for res.Next(ctx) {
			comp, err := partFromRecord(res.Record())
			if err != nil {
				return err
			}
			out.Components = append(out.Components, comp)
		}

		if res, err = sess.Run(ctx, cypherLoadWires, params); err != nil {
			return err
		}
		for res.Next(ctx) {
			w, err := wireFromRecord(res.Record())
			if err != nil {
				return err
			}
			out.Wires = append(out.Wires, w)
			out.Connections = append(out.Connections, circuit.ConnectionFor(w))
		}
		return nil
	})
	if err != nil {
		return circuit.Circuit{}, err
	}
	if err := out.CheckConsistency(); err != nil {
		return circuit.Circuit{}, fmt.Errorf("store: load %q: %w", name, err)
	}
	return out, nil
}

// ListCircuits returns the stored circuit names in order.
func (g *GraphStore) ListCircuits(ctx context.Context) ([]string, error) {
	var names []string
	err := g.call(ctx, "list", "", func(ctx context.Context, sess Session) error {
		res, err := sess.Run(ctx, cypherListCircuits, nil)
		if err != nil {
			return err
		}
		for res.Next(ctx) {
			n, _, err := neo4j.GetRecordValue[string](res.Record(), "name")
			if err != nil {
				return err
			}
			names = append(names, n)
		}
		return nil
	})
	return names, err
}

// DeleteCircuit removes a stored circuit and its parts.
func (g *GraphStore) DeleteCircuit(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return g.call(ctx, "delete", name, func(ctx context.Context, sess Session) error {
		return sess.ExecuteWrite(ctx, func(tx repo.Runner) error {
			params := map[string]any{"name": name}
			res, err := tx.Run(ctx, cypherCircuitExists, params)
			if err != nil {
				return err
			}
			if !res.Next(ctx) {
				return ErrNotFound
			}
			_, err = tx.Run(ctx, cypherDeleteCircuit, params)
			return err
		})
	})
}

func partFromRecord(rec *neo4j.Record) (circuit.Component, error) {
	id, _, err := neo4j.GetRecordValue[string](rec, "id")
	if err != nil {
		return circuit.Component{}, err
	}
	typ, _, err := neo4j.GetRecordValue[string](rec, "type")
	if err != nil {
		return circuit.Component{}, err
	}
	def, err := circuit.Lookup(circuit.ComponentType(typ))
	if err != nil {
		return circuit.Component{}, fmt.Errorf("part %s: %w", id, err)
	}
	x, _ := floatValue(rec, "x")
	y, _ := floatValue(rec, "y")
	comp := circuit.NewComponent(def, id, x, y)
	if name, isNil, err := neo4j.GetRecordValue[string](rec, "name"); err == nil && !isNil && name != "" {
		comp.Name = name
	}
	if rot, isNil, err := neo4j.GetRecordValue[int64](rec, "rotation"); err == nil && !isNil {
		comp.Rotation = circuit.NormalizeRotation(int(rot))
	}
	if v, isNil, err := neo4j.GetRecordValue[string](rec, "value"); err == nil && !isNil {
		comp.Value = v
	}
	return comp, nil
}

// floatValue accepts integers too; Cypher literals like 10 come back as int64.
func floatValue(rec *neo4j.Record, key string) (float64, bool) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func wireFromRecord(rec *neo4j.Record) (circuit.Wire, error) {
	str := func(key string) (string, error) {
		s, _, err := neo4j.GetRecordValue[string](rec, key)
		return s, err
	}
	var w circuit.Wire
	var err error
	fields := []struct {
		key string
		dst *string
	}{
		{"id", &w.ID},
		{"from", &w.From.ComponentID},
		{"from_pin", &w.From.PinID},
		{"to", &w.To.ComponentID},
		{"to_pin", &w.To.PinID},
	}
	for _, f := range fields {
		if *f.dst, err = str(f.key); err != nil {
			return circuit.Wire{}, err
		}
	}
	color, _ := str("color")
	w.Color = circuit.WireColor(color)
	return w, nil
}
