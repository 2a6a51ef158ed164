//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := os.Getenv("NEO4J_URL")
	if url == "" {
		url = "neo4j://localhost:7687"
	}
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) WHERE n:Circuit OR n:Part DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func TestNeo4j_SaveLoadDelete(t *testing.T) {
	g := New(testDriver(t))
	ctx := context.Background()
	want := sample(t)

	if err := g.SaveCircuit(ctx, "integ-blink", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := g.SaveCircuit(ctx, "integ-blink", want); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := g.LoadCircuit(ctx, "integ-blink")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Components) != 2 || len(got.Wires) != 1 {
		t.Fatalf("loaded %d parts, %d wires", len(got.Components), len(got.Wires))
	}

	names, err := g.ListCircuits(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("list: %v %v", names, err)
	}
	if err := g.DeleteCircuit(ctx, "integ-blink"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := g.LoadCircuit(ctx, "integ-blink"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load after delete: %v", err)
	}
}
