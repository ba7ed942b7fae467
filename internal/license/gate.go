package license

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// proPrefix scopes the module-wide wildcard pattern.
const proPrefix = "pro."

// Snapshot is an immutable view of one loaded record and its feature patterns.
type Snapshot struct {
	record   *Record
	patterns map[string]struct{}
	loadedAt time.Time
}

func newSnapshot(rec *Record, at time.Time) *Snapshot {
	s := &Snapshot{record: rec, patterns: make(map[string]struct{}), loadedAt: at}
	if rec != nil {
		for _, f := range rec.Features {
			s.patterns[f] = struct{}{}
		}
	}
	return s
}

// Record returns a copy of the loaded record, or nil when none was loaded.
func (s *Snapshot) Record() *Record {
	if s.record == nil {
		return nil
	}
	return s.record.clone()
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Matches reports whether the record grants id: exact id, family wildcard
// (pro.squads.* for pro.squads.premium), or pro.* for ids under pro.
// Matching ignores license state.
func (s *Snapshot) Matches(id string) bool {
	if id == "" || len(s.patterns) == 0 {
		return false
	}
	if _, ok := s.patterns[id]; ok {
		return true
	}
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		if _, ok := s.patterns[id[:i]+".*"]; ok {
			return true
		}
	}
	if strings.HasPrefix(id, proPrefix) {
		_, ok := s.patterns[proPrefix+"*"]
		return ok
	}
	return false
}

// FeatureStatus pairs a catalog entry with its current availability.
type FeatureStatus struct {
	Feature
	Available bool `json:"available"`
}

// Gate answers feature availability from a lazily loaded, atomically swapped snapshot.
type Gate struct {
	source RecordSource
	opts   *options
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	mu        sync.Mutex
	listeners []func(*Snapshot)
}

// NewGate creates a gate reading records from source on first use and on Reload.
func NewGate(source RecordSource, opts ...Option) *Gate {
	o := newOptions(opts)
	return &Gate{
		source: source,
		opts:   o,
		logger: o.logger.With(slog.String("component", "feature_gate")),
	}
}

// Registry returns the feature catalog the gate lists from.
func (g *Gate) Registry() *Registry { return g.opts.registry }

// Snapshot returns the current snapshot, loading it once if needed.
func (g *Gate) Snapshot() *Snapshot {
	if s := g.current.Load(); s != nil {
		return s
	}
	v, _, _ := g.group.Do("load", func() (interface{}, error) {
		if s := g.current.Load(); s != nil {
			return s, nil
		}
		g.current.CompareAndSwap(nil, g.build())
		return g.current.Load(), nil
	})
	return v.(*Snapshot)
}

// Reload re-reads the source and swaps in a new snapshot.
func (g *Gate) Reload() *Snapshot {
	s := g.build()
	g.current.Store(s)

	g.logger.Debug("Feature gate reloaded",
		slog.Bool("activated", s.record != nil),
		slog.Int("patterns", len(s.patterns)),
	)

	g.mu.Lock()
	listeners := append([]func(*Snapshot){}, g.listeners...)
	g.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	return s
}

// OnReload registers fn to be called with every snapshot produced by Reload.
func (g *Gate) OnReload(fn func(*Snapshot)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

func (g *Gate) build() (snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("License source panicked, treating as not activated",
				slog.String("panic", fmt.Sprint(r)))
			snap = newSnapshot(nil, g.opts.now())
		}
	}()
	var rec *Record
	if g.source != nil {
		rec = g.source.Read()
	}
	return newSnapshot(rec, g.opts.now())
}

// State returns the current license state.
func (g *Gate) State() State {
	return StateAt(g.Snapshot().record, g.opts.now())
}

// IsAvailable reports whether id is unlocked. It never panics.
func (g *Gate) IsAvailable(id string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if id == "" {
		return false
	}
	snap := g.Snapshot()
	if !StateAt(snap.record, g.opts.now()).Usable() {
		g.recordDenied(id)
		return false
	}
	if !snap.Matches(id) {
		g.recordDenied(id)
		return false
	}
	return true
}

func (g *Gate) recordDenied(id string) {
	if g.opts.metrics == nil {
		return
	}
	g.opts.metrics.FeatureDenied.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("feature", id)))
}

// Require returns nil when id is available, otherwise a *FeatureUnavailableError.
// An empty title falls back to the registry name, then the id.
func (g *Gate) Require(id, title string) error {
	if g.IsAvailable(id) {
		return nil
	}
	if title == "" {
		title = g.opts.registry.Name(id)
	}
	return &FeatureUnavailableError{
		FeatureID:       id,
		Title:           title,
		ActivateCommand: g.opts.activateCommand(),
		PurchaseURL:     g.opts.purchaseURL,
	}
}

// Info describes the loaded license, or nil when not activated.
func (g *Gate) Info() *Info {
	return NewInfo(g.Snapshot().record, g.opts.now())
}

// ListAvailable returns the sorted ids of catalog features currently available.
func (g *Gate) ListAvailable() []string {
	var ids []string
	for _, f := range g.opts.registry.All() {
		if g.IsAvailable(f.ID) {
			ids = append(ids, f.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListAll returns every catalog feature with its availability.
func (g *Gate) ListAll() []FeatureStatus {
	all := g.opts.registry.All()
	out := make([]FeatureStatus, 0, len(all))
	for _, f := range all {
		out = append(out, FeatureStatus{Feature: f, Available: g.IsAvailable(f.ID)})
	}
	return out
}

// ListByModule groups ListAll by module.
func (g *Gate) ListByModule() map[string][]FeatureStatus {
	out := make(map[string][]FeatureStatus)
	for _, fs := range g.ListAll() {
		out[fs.Module] = append(out[fs.Module], fs)
	}
	return out
}
