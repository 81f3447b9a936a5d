package hexbin

import "sync"

// Layer is the displayed hexbin collection. Only the inspector loop writes to
// it; readers get copies.
type Layer struct {
	mu        sync.RWMutex
	predicate string
	graphics  []*Graphic
	byHex     map[HexID]*Graphic
}

// NewLayer returns an empty layer.
func NewLayer() *Layer {
	return &Layer{byHex: make(map[HexID]*Graphic)}
}

// Replace swaps the whole collection: clear, then add. predicate is the filter
// the collection was loaded for.
func (l *Layer) Replace(predicate string, graphics []Graphic) {
	next := make([]*Graphic, 0, len(graphics))
	byHex := make(map[HexID]*Graphic, len(graphics))
	for i := range graphics {
		g := graphics[i]
		g.Highlighted = false
		ptr := &g
		next = append(next, ptr)
		if _, dup := byHex[g.H3]; !dup {
			byHex[g.H3] = ptr
		}
	}

	l.mu.Lock()
	l.predicate = predicate
	l.graphics = next
	l.byHex = byHex
	l.mu.Unlock()
}

// Snapshot returns the collection and the predicate it was loaded for.
func (l *Layer) Snapshot() (string, []Graphic) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Graphic, len(l.graphics))
	for i, g := range l.graphics {
		out[i] = *g
	}
	return l.predicate, out
}

// Find returns the displayed graphic for h3, or nil.
func (l *Layer) Find(h3 HexID) *Graphic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byHex[h3]
}

// Contains reports whether g is part of the current collection.
func (l *Layer) Contains(g *Graphic) bool {
	if g == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byHex[g.H3] == g
}

// Len returns the number of displayed graphics.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.graphics)
}

// Graphics returns a copy of the collection in display order.
func (l *Layer) Graphics() []Graphic {
	_, out := l.Snapshot()
	return out
}

// Highlighted returns the first highlighted graphic. There should never be
// more than one.
func (l *Layer) Highlighted() *Graphic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, g := range l.graphics {
		if g.Highlighted {
			return g
		}
	}
	return nil
}

// setHighlight toggles the outline of g. g may belong to a previous collection,
// in which case only the detached object changes.
func (l *Layer) setHighlight(g *Graphic, on bool) {
	if g == nil {
		return
	}
	l.mu.Lock()
	g.Highlighted = on
	l.mu.Unlock()
}

// clearHighlight removes the outline from every displayed graphic.
func (l *Layer) clearHighlight() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range l.graphics {
		g.Highlighted = false
	}
}
