package app

import (
	"strings"
	"testing"
	"time"
)

func TestProfilerScopes(t *testing.T) {
	p := NewProfiler()

	p.BeginScope("shadow")
	time.Sleep(2 * time.Millisecond)
	p.EndScope("shadow")

	if p.ScopeMS("shadow") < 1.0 {
		t.Errorf("shadow scope measured %.3f ms, expected at least 1 ms", p.ScopeMS("shadow"))
	}
	if p.ScopeMS("missing") != 0 {
		t.Errorf("unknown scope should read 0, got %.3f", p.ScopeMS("missing"))
	}
}

func TestProfilerEndWithoutBegin(t *testing.T) {
	p := NewProfiler()
	p.EndScope("orphan")
	if d, ok := p.Scopes["orphan"]; ok && d != 0 {
		t.Errorf("EndScope without BeginScope recorded %v", d)
	}
}

func TestProfilerOrderStable(t *testing.T) {
	p := NewProfiler()
	for frame := 0; frame < 3; frame++ {
		p.Reset()
		p.BeginScope("geometry")
		p.EndScope("geometry")
		p.BeginScope("lighting")
		p.EndScope("lighting")
	}
	if len(p.Order) != 2 {
		t.Fatalf("expected 2 ordered scopes, got %v", p.Order)
	}
	if p.Order[0] != "geometry" || p.Order[1] != "lighting" {
		t.Errorf("order changed across frames: %v", p.Order)
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler()
	p.BeginScope("sync")
	p.EndScope("sync")
	p.SetCount("rays", 42)

	p.Reset()

	if p.Scopes["sync"] != 0 {
		t.Errorf("scope survived reset: %v", p.Scopes["sync"])
	}
	if p.Counts["rays"] != 0 {
		t.Errorf("count survived reset: %d", p.Counts["rays"])
	}
	if len(p.Order) != 1 || p.Order[0] != "sync" {
		t.Errorf("reset should keep order, got %v", p.Order)
	}
}

func TestProfilerStatsString(t *testing.T) {
	p := NewProfiler()
	p.BeginScope("shadow")
	p.EndScope("shadow")
	p.BeginScope("raytrace")
	p.EndScope("raytrace")
	p.SetCount("rays", 128)
	p.SetCount("lights", 2)

	s := p.StatsString()
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), s)
	}
	if !strings.HasPrefix(lines[0], "shadow") || !strings.HasPrefix(lines[1], "raytrace") {
		t.Errorf("scope lines out of order:\n%s", s)
	}
	// Counters are sorted by name after the scopes.
	if !strings.HasPrefix(lines[2], "lights") || !strings.HasPrefix(lines[3], "rays") {
		t.Errorf("counter lines out of order:\n%s", s)
	}
	if !strings.Contains(lines[0], "ms") {
		t.Errorf("scope line missing unit: %q", lines[0])
	}
	if !strings.HasSuffix(lines[3], "128") {
		t.Errorf("rays counter not rendered: %q", lines[3])
	}
}
