package hexbin

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/dsc-hexbins/server/internal/metrics"
	"github.com/dsc-hexbins/server/pkg/colormap"
)

// GraphicsSource loads the full hexbin set for a predicate.
type GraphicsSource interface {
	Hexbins(ctx context.Context, predicate string) ([]Graphic, error)
}

// GraphicsResult is the completion of one graphics load.
type GraphicsResult struct {
	Generation uint64
	Predicate  string
	Graphics   []Graphic
	Err        error
}

// Synchronizer rebuilds the displayed collection whenever the filter predicate
// changes. Begin runs on the inspector loop; Load may run anywhere; Apply runs
// on the loop again.
type Synchronizer struct {
	source  GraphicsSource
	layer   *Layer
	machine *Machine
	cmap    colormap.Colormap
	metrics *metrics.Collector

	gen       uint64
	predicate string
	pending   bool
	failed    bool
}

// NewSynchronizer creates a synchronizer. cmap and m may be nil.
func NewSynchronizer(src GraphicsSource, layer *Layer, machine *Machine, cmap colormap.Colormap, m *metrics.Collector) *Synchronizer {
	return &Synchronizer{
		source:  src,
		layer:   layer,
		machine: machine,
		cmap:    cmap,
		metrics: m,
	}
}

// Predicate returns the predicate of the latest rebuild.
func (s *Synchronizer) Predicate() string { return s.predicate }

// Pending reports whether a rebuild has not completed yet.
func (s *Synchronizer) Pending() bool { return s.pending }

// Failed reports whether the latest rebuild failed to load. The displayed
// collection then still belongs to an earlier predicate.
func (s *Synchronizer) Failed() bool { return s.failed }

// Begin starts a rebuild for predicate. The selection is forced to idle right
// away, before any load completes, so the previous highlight reference never
// outlives its collection.
func (s *Synchronizer) Begin(predicate string) uint64 {
	s.machine.Clear()
	s.gen++
	s.predicate = predicate
	s.pending = true
	s.failed = false
	s.metrics.IncGraphicsRebuilds()
	return s.gen
}

// Load queries the graphics for a rebuild started by Begin.
func (s *Synchronizer) Load(ctx context.Context, gen uint64, predicate string) GraphicsResult {
	graphics, err := s.source.Hexbins(ctx, predicate)
	if err != nil {
		return GraphicsResult{Generation: gen, Predicate: predicate, Err: fmt.Errorf("load hexbins: %w", err)}
	}
	return GraphicsResult{Generation: gen, Predicate: predicate, Graphics: graphics}
}

// Apply replaces the collection with r unless a newer rebuild superseded it.
// A failed load keeps the previous collection. A selection made while the
// rebuild was pending is moved onto the new graphic, or cleared if its hexbin
// is no longer drawn.
func (s *Synchronizer) Apply(r GraphicsResult) bool {
	if r.Generation != s.gen {
		s.metrics.IncStaleResults(metrics.KindGraphics)
		return false
	}
	s.pending = false
	if r.Err != nil {
		s.failed = true
		log.Printf("[Synchronizer] keeping previous hexbins for %q: %v", r.Predicate, r.Err)
		return false
	}

	s.layer.Replace(r.Predicate, Symbolize(r.Graphics, s.cmap))
	s.metrics.SetGraphicsDisplayed(s.layer.Len())

	if sel := s.machine.Selected(); sel != nil {
		if g := s.layer.Find(sel.H3); g != nil {
			s.machine.Rebind(g)
		} else {
			s.machine.Clear()
		}
	}
	return true
}

// Symbolize returns a copy of graphics with Fill set from cmap, scaled on a
// log curve against the largest count. A nil cmap leaves fills untouched.
func Symbolize(graphics []Graphic, cmap colormap.Colormap) []Graphic {
	out := make([]Graphic, len(graphics))
	copy(out, graphics)
	if cmap == nil || len(out) == 0 {
		return out
	}

	maxCount := 0
	for _, g := range out {
		if g.Count > maxCount {
			maxCount = g.Count
		}
	}
	denom := math.Log1p(float64(maxCount))
	for i := range out {
		t := 0.0
		if denom > 0 {
			t = math.Log1p(float64(out[i].Count)) / denom
		}
		out[i].Fill = colormap.Hex(cmap.At(t))
	}
	return out
}
