package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler accumulates per-frame CPU scopes and counters for the
// overlay. Scopes keep their first-seen order so the readout is stable
// frame to frame.
type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = time.Now()
	for _, n := range p.Order {
		if n == name {
			return
		}
	}
	p.Order = append(p.Order, name)
}

func (p *Profiler) EndScope(name string) {
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] = time.Since(start)
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) ScopeMS(name string) float64 {
	return float64(p.Scopes[name].Microseconds()) / 1000.0
}

// Reset zeroes the measurements but keeps the display order.
func (p *Profiler) Reset() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
	for k := range p.Counts {
		p.Counts[k] = 0
	}
}

func (p *Profiler) StatsString() string {
	var sb strings.Builder
	for _, name := range p.Order {
		fmt.Fprintf(&sb, "%-10s %6.2f ms\n", name, p.ScopeMS(name))
	}

	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%-10s %d\n", k, p.Counts[k])
	}
	return sb.String()
}
