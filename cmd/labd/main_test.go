package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/picolab/engine/circuit"
)

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestLibraryEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).handleLibrary(rec, httptest.NewRequest("GET", "/api/library", nil))

	var groups []libraryGroup
	if err := json.NewDecoder(rec.Body).Decode(&groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	total := 0
	seen := make(map[circuit.Category]bool)
	for _, g := range groups {
		if seen[g.Category] {
			t.Fatalf("category %s listed twice", g.Category)
		}
		seen[g.Category] = true
		total += len(g.Parts)
	}
	if total != len(circuit.Definitions()) {
		t.Fatalf("expected %d parts, got %d", len(circuit.Definitions()), total)
	}
	if groups[0].Category != circuit.Definitions()[0].Category {
		t.Fatalf("palette should start with %s, got %s", circuit.Definitions()[0].Category, groups[0].Category)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", cfg.CORSOrigin)
	}
	if cfg.Neo4jURL != "" || cfg.QdrantURL != "" || cfg.NATSURL != "" || cfg.ExamDB != "" {
		t.Fatal("backends should be disabled by default")
	}
	if cfg.SimRate != 2 || cfg.SimBurst != 5 {
		t.Fatalf("unexpected rate defaults: %v/%d", cfg.SimRate, cfg.SimBurst)
	}
}

func TestLoadConfig_BadNumbersFallBack(t *testing.T) {
	t.Setenv("SIM_RATE", "fast")
	t.Setenv("SIM_BURST", "10")
	cfg := loadConfig()
	if cfg.SimRate != 2 {
		t.Fatalf("expected fallback rate, got %v", cfg.SimRate)
	}
	if cfg.SimBurst != 10 {
		t.Fatalf("expected burst 10, got %d", cfg.SimBurst)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}
