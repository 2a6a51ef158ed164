package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

type mockRunner struct {
	result *mockResult
	err    error
	cypher []string
	params []map[string]any
	closed int
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cypher = append(m.cypher, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRunner) Close(context.Context) error {
	m.closed++
	return nil
}

type part struct {
	ID   string
	Kind string
}

func partRecord(id, kind string) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{map[string]any{"id": id, "kind": kind}}}
}

func newPartRepo(r *mockRunner, opts ...Neo4jOption[part, string]) *Neo4jRepo[part, string] {
	opts = append(opts, WithSession[part, string](func(context.Context) Runner { return r }))
	return NewNeo4jRepo[part, string](
		nil, "Part",
		func(p part) map[string]any { return map[string]any{"id": p.ID, "kind": p.Kind} },
		func(rec *neo4j.Record) (part, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return part{}, errors.New("bad record")
			}
			return part{ID: m["id"].(string), Kind: m["kind"].(string)}, nil
		},
		opts...,
	)
}

func TestNewNeo4jRepoDefaults(t *testing.T) {
	r := NewNeo4jRepo[part, string](nil, "Part", nil, nil)
	if r.idKey != "id" || r.label != "Part" {
		t.Fatalf("unexpected defaults: idKey=%s label=%s", r.idKey, r.label)
	}
	r = NewNeo4jRepo[part, string](nil, "Exam", nil, nil, WithIDKey[part, string]("code"))
	if r.idKey != "code" {
		t.Fatalf("expected idKey=code, got %s", r.idKey)
	}
}

func TestGet(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{partRecord("r1", "resistor")}}}
	p, err := newPartRepo(r).Get(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != "resistor" {
		t.Fatalf("got %+v", p)
	}
	if r.cypher[0] != "MATCH (n:Part {id: $id}) RETURN n" {
		t.Fatalf("cypher = %q", r.cypher[0])
	}
	if r.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	_, err := newPartRepo(r).Get(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunErrorsWrapped(t *testing.T) {
	boom := errors.New("db down")
	repo := newPartRepo(&mockRunner{err: boom})
	ctx := context.Background()

	if _, err := repo.Get(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Get: %v", err)
	}
	if _, err := repo.List(ctx, ListOpts{}); !errors.Is(err, boom) {
		t.Errorf("List: %v", err)
	}
	if _, err := repo.Create(ctx, part{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("Create: %v", err)
	}
	if _, err := repo.Update(ctx, part{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("Update: %v", err)
	}
	if err := repo.Delete(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Delete: %v", err)
	}
}

func TestListFilterAndOrder(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{partRecord("a", "led"), partRecord("b", "led")}}}
	items, err := newPartRepo(r).List(context.Background(), ListOpts{
		Filter:  map[string]any{"kind": "led", "circuit": "demo"},
		OrderBy: "id",
		Limit:   5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	want := "MATCH (n:Part) WHERE n.circuit = $f0 AND n.kind = $f1 RETURN n ORDER BY n.id SKIP $offset LIMIT $limit"
	if r.cypher[0] != want {
		t.Fatalf("cypher =\n%s\nwant\n%s", r.cypher[0], want)
	}
	p := r.params[0]
	if p["f0"] != "demo" || p["f1"] != "led" || p["limit"] != 5 {
		t.Fatalf("params = %v", p)
	}
}

func TestListDefaultLimit(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	if _, err := newPartRepo(r).List(context.Background(), ListOpts{}); err != nil {
		t.Fatal(err)
	}
	if r.params[0]["limit"] != 100 {
		t.Fatalf("default limit = %v", r.params[0]["limit"])
	}
	if strings.Contains(r.cypher[0], "WHERE") {
		t.Fatal("no filter means no WHERE clause")
	}
}

func TestListRejectsUnsafeKeys(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	repo := newPartRepo(r)
	if _, err := repo.List(context.Background(), ListOpts{Filter: map[string]any{"id}) DETACH DELETE n //": 1}}); err == nil {
		t.Fatal("expected invalid filter key error")
	}
	if _, err := repo.List(context.Background(), ListOpts{OrderBy: "id DESC; MATCH"}); err == nil {
		t.Fatal("expected invalid order key error")
	}
	if len(r.cypher) != 0 {
		t.Fatal("unsafe query must not reach the session")
	}
}

func TestListDecodeError(t *testing.T) {
	bad := &neo4j.Record{Keys: []string{"n"}, Values: []any{"not a map"}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{bad}}}
	if _, err := newPartRepo(r).List(context.Background(), ListOpts{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCreateAndUpdate(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{partRecord("p1", "buzzer")}}}
	repo := newPartRepo(r, WithIDKey[part, string]("id"))
	p, err := repo.Create(context.Background(), part{ID: "p1", Kind: "buzzer"})
	if err != nil || p.ID != "p1" {
		t.Fatalf("create: %+v %v", p, err)
	}
	if r.params[0]["props"].(map[string]any)["kind"] != "buzzer" {
		t.Fatal("props not passed")
	}

	r.result = &mockResult{}
	if _, err := repo.Update(context.Background(), part{ID: "p1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing node: %v", err)
	}
	if _, err := repo.Create(context.Background(), part{ID: "p2"}); err == nil {
		t.Fatal("create without returned row should fail")
	}
}

func TestDeleteDetaches(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	if err := newPartRepo(r).Delete(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.cypher[0], "DETACH DELETE") {
		t.Fatalf("cypher = %q", r.cypher[0])
	}
}

type fakeDriver struct {
	neo4j.DriverWithContext
	opened bool
}

func (d *fakeDriver) NewSession(context.Context, neo4j.SessionConfig) neo4j.SessionWithContext {
	d.opened = true
	return nil
}

func TestSessionFallsBackToDriver(t *testing.T) {
	fd := &fakeDriver{}
	r := &Neo4jRepo[part, string]{driver: fd}
	if _, ok := r.session(context.Background()).(*SessionAdapter); !ok {
		t.Fatal("expected SessionAdapter")
	}
	if !fd.opened {
		t.Fatal("driver session not opened")
	}
}

func mergeRecord(id, kind string, created bool) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n", "created"},
		Values: []any{map[string]any{"id": id, "kind": kind}, created},
	}
}

func TestCreateUnique(t *testing.T) {
	tests := []struct {
		name    string
		rec     *neo4j.Record
		wantID  string
		created bool
	}{
		{"new node", mergeRecord("p1", "led", true), "p1", true},
		{"existing node", mergeRecord("p0", "led", false), "p0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockRunner{result: &mockResult{records: []*neo4j.Record{tt.rec}}}
			got, created, err := newPartRepo(r).CreateUnique(context.Background(), part{ID: "p1", Kind: "led"}, "kind")
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != tt.wantID || created != tt.created {
				t.Fatalf("got %+v created=%v", got, created)
			}
			want := "MERGE (n:Part {kind: $k0}) ON CREATE SET n += $props RETURN n, n.id = $id AS created"
			if r.cypher[0] != want {
				t.Fatalf("cypher =\n%s\nwant\n%s", r.cypher[0], want)
			}
			if r.params[0]["k0"] != "led" || r.params[0]["id"] != "p1" {
				t.Fatalf("params = %v", r.params[0])
			}
		})
	}
}

func TestCreateUniqueRejects(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	repo := newPartRepo(r)
	ctx := context.Background()
	if _, _, err := repo.CreateUnique(ctx, part{ID: "p1"}); err == nil {
		t.Fatal("no keys should be rejected")
	}
	if _, _, err := repo.CreateUnique(ctx, part{ID: "p1"}, "kind}) DETACH DELETE n //"); err == nil {
		t.Fatal("unsafe key should be rejected")
	}
	if len(r.cypher) != 0 {
		t.Fatal("rejected calls must not reach the database")
	}
	if _, _, err := repo.CreateUnique(ctx, part{ID: "p1", Kind: "led"}, "kind"); err == nil {
		t.Fatal("empty result should be an error")
	}
}

func TestEnsureUnique(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	repo := newPartRepo(r)
	if err := repo.EnsureUnique(context.Background(), "part_kind", "circuit", "kind"); err != nil {
		t.Fatal(err)
	}
	want := "CREATE CONSTRAINT part_kind IF NOT EXISTS FOR (n:Part) REQUIRE (n.circuit, n.kind) IS UNIQUE"
	if r.cypher[0] != want {
		t.Fatalf("cypher =\n%s\nwant\n%s", r.cypher[0], want)
	}
	if err := repo.EnsureUnique(context.Background(), "bad name"); err == nil {
		t.Fatal("invalid constraint name should be rejected")
	}
}
