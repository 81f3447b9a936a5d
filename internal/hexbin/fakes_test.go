package hexbin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errQueryFailed = errors.New("query failed")

// fakeQuerier answers with data derived from the hex id. Hexes with a gate
// block until the gate is closed or the context is cancelled.
type fakeQuerier struct {
	mu         sync.Mutex
	gates      map[HexID]chan struct{}
	failPhylum map[HexID]bool
	calls      atomic.Int32
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		gates:      make(map[HexID]chan struct{}),
		failPhylum: make(map[HexID]bool),
	}
}

func (f *fakeQuerier) gate(hex HexID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[hex] = ch
	return ch
}

func (f *fakeQuerier) fail(hex HexID) {
	f.mu.Lock()
	f.failPhylum[hex] = true
	f.mu.Unlock()
}

func (f *fakeQuerier) wait(ctx context.Context, hex HexID) error {
	f.mu.Lock()
	g := f.gates[hex]
	f.mu.Unlock()
	if g == nil {
		return nil
	}
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeQuerier) DepthRange(ctx context.Context, hex HexID, predicate string) (DepthRange, error) {
	f.calls.Add(1)
	if err := f.wait(ctx, hex); err != nil {
		return DepthRange{}, err
	}
	return DepthRange{Min: 50, Max: 50 + float64(len(hex))*100}, nil
}

func (f *fakeQuerier) PhylumCounts(ctx context.Context, hex HexID, predicate string) ([]PhylumCount, error) {
	f.calls.Add(1)
	if err := f.wait(ctx, hex); err != nil {
		return nil, err
	}
	f.mu.Lock()
	fail := f.failPhylum[hex]
	f.mu.Unlock()
	if fail {
		return nil, errQueryFailed
	}
	return []PhylumCount{{Phylum: "Cnidaria-" + string(hex), Count: 3}}, nil
}

func (f *fakeQuerier) ScientificNameCounts(ctx context.Context, hex HexID, predicate string) ([]ScientificNameCount, error) {
	f.calls.Add(1)
	if err := f.wait(ctx, hex); err != nil {
		return nil, err
	}
	return []ScientificNameCount{
		{Name: "Species " + string(hex), Count: 2},
		{Name: "Predicate " + predicate, Count: 1},
	}, nil
}

// fakeGraphics serves hexbin sets per predicate.
type fakeGraphics struct {
	mu    sync.Mutex
	sets  map[string][]Graphic
	gates map[string]chan struct{}
	calls atomic.Int32
}

func newFakeGraphics() *fakeGraphics {
	return &fakeGraphics{
		sets:  make(map[string][]Graphic),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeGraphics) set(predicate string, hexes ...string) {
	gs := make([]Graphic, len(hexes))
	for i, h := range hexes {
		gs[i] = Graphic{H3: HexID(h), Count: 10 * (i + 1)}
	}
	f.mu.Lock()
	f.sets[predicate] = gs
	f.mu.Unlock()
}

func (f *fakeGraphics) gate(predicate string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[predicate] = ch
	return ch
}

func (f *fakeGraphics) Hexbins(ctx context.Context, predicate string) ([]Graphic, error) {
	f.calls.Add(1)
	f.mu.Lock()
	g := f.gates[predicate]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	gs, ok := f.sets[predicate]
	if !ok {
		return nil, fmt.Errorf("no hexbins for %q: %w", predicate, errQueryFailed)
	}
	out := make([]Graphic, len(gs))
	copy(out, gs)
	return out, nil
}

// fakePanel records panel intents in order.
type fakePanel struct {
	mu      sync.Mutex
	present bool
	calls   []string
}

func (p *fakePanel) HasWidget(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present
}

func (p *fakePanel) ExpandPanel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "expand:"+id)
	return nil
}

func (p *fakePanel) SwitchView(sectionID, viewID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "switch:"+sectionID+"/"+viewID)
}

func (p *fakePanel) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// waitView polls the inspector until cond holds.
func waitView(t *testing.T, in *Inspector, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := in.View()
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last view %+v", what, v)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitGraphics polls until the displayed collection satisfies cond.
func waitGraphics(t *testing.T, in *Inspector, what string, cond func([]Graphic) bool) []Graphic {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		gs := in.Graphics()
		if cond(gs) {
			return gs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last graphics %+v", what, gs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitGraphicsState polls until the graphics state satisfies cond.
func waitGraphicsState(t *testing.T, in *Inspector, what string, cond func(GraphicsState) bool) GraphicsState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := in.GraphicsState()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last state %+v", what, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func highlighted(gs []Graphic) []HexID {
	var out []HexID
	for _, g := range gs {
		if g.Highlighted {
			out = append(out, g.H3)
		}
	}
	return out
}
