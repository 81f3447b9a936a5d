package hexbin

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/dsc-hexbins/server/internal/metrics"
	"github.com/dsc-hexbins/server/pkg/colormap"
)

// Config wires an Inspector to its collaborators.
type Config struct {
	Querier  SummaryQuerier
	Graphics GraphicsSource
	Panel    PanelStore // optional
	Bridge   BridgeConfig
	Colormap colormap.Colormap  // optional
	Metrics  *metrics.Collector // optional

	// InitialPredicate is used for the first graphics load (default "1=1").
	InitialPredicate string
	// QueueSize bounds the event queue (default 64).
	QueueSize int
}

// Inspector serialises clicks, filter changes and async completions on a
// single loop goroutine. Everything the loop owns (layer contents, machine,
// synchronizer) is only mutated there; callers read through View and
// Graphics.
type Inspector struct {
	cfg          Config
	layer        *Layer
	machine      *Machine
	fetcher      *Fetcher
	synchronizer *Synchronizer
	bridge       *Bridge
	metrics      *metrics.Collector

	events   chan event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc

	// loop-owned
	predicate    string
	popupVisible bool
	fetchCancel  context.CancelFunc

	viewMu     sync.RWMutex
	view       View
	pending    bool
	loadFailed bool

	subsMu  sync.Mutex
	subs    map[int]chan View
	nextSub int
}

type event interface{ isEvent() }

type clickEvent struct {
	hits  []Hit
	reply chan ClickOutcome
}

type filterEvent struct{ predicate string }

type resetEvent struct{ done chan struct{} }

type fetchDoneEvent struct{ result Result }

type graphicsDoneEvent struct{ result GraphicsResult }

func (clickEvent) isEvent()        {}
func (filterEvent) isEvent()       {}
func (resetEvent) isEvent()        {}
func (fetchDoneEvent) isEvent()    {}
func (graphicsDoneEvent) isEvent() {}

// NewInspector creates an inspector. Call Start to run it.
func NewInspector(cfg Config) *Inspector {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if strings.TrimSpace(cfg.InitialPredicate) == "" {
		cfg.InitialPredicate = DefaultPredicate
	}

	layer := NewLayer()
	machine := NewMachine(layer)
	ctx, cancel := context.WithCancel(context.Background())

	return &Inspector{
		cfg:          cfg,
		layer:        layer,
		machine:      machine,
		fetcher:      NewFetcher(cfg.Querier, cfg.Metrics),
		synchronizer: NewSynchronizer(cfg.Graphics, layer, machine, cfg.Colormap, cfg.Metrics),
		bridge:       NewBridge(cfg.Bridge, cfg.Panel),
		metrics:      cfg.Metrics,
		events:       make(chan event, cfg.QueueSize),
		stopCh:       make(chan struct{}),
		baseCtx:      ctx,
		cancel:       cancel,
		subs:         make(map[int]chan View),
		view:         View{State: StateIdle},
	}
}

// Start runs the event loop and triggers the initial graphics load.
func (in *Inspector) Start() {
	in.wg.Add(1)
	go in.run()
	in.post(filterEvent{predicate: in.cfg.InitialPredicate})
}

// Stop terminates the loop. In-flight queries are cancelled and their results
// dropped. Subscriber channels are closed.
func (in *Inspector) Stop() {
	in.stopOnce.Do(func() {
		close(in.stopCh)
		in.cancel()
		in.wg.Wait()

		in.subsMu.Lock()
		for id, ch := range in.subs {
			close(ch)
			delete(in.subs, id)
		}
		in.subsMu.Unlock()
	})
}

// Click delivers a hit-test result and waits until the loop has applied it.
func (in *Inspector) Click(ctx context.Context, hits []Hit) (ClickOutcome, error) {
	reply := make(chan ClickOutcome, 1)
	if err := in.send(ctx, clickEvent{hits: hits, reply: reply}); err != nil {
		return ClickOutcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return ClickOutcome{}, ctx.Err()
	case <-in.stopCh:
		return ClickOutcome{}, ErrClosed
	}
}

// FilterChanged delivers a new predicate snapshot. An empty predicate means
// unconstrained.
func (in *Inspector) FilterChanged(ctx context.Context, predicate string) error {
	return in.send(ctx, filterEvent{predicate: predicate})
}

// Reset clears the selection and waits until the loop has applied it.
func (in *Inspector) Reset(ctx context.Context) error {
	done := make(chan struct{})
	if err := in.send(ctx, resetEvent{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-in.stopCh:
		return ErrClosed
	}
}

// View returns the latest projection.
func (in *Inspector) View() View {
	in.viewMu.RLock()
	defer in.viewMu.RUnlock()
	return in.view
}

// Graphics returns a copy of the displayed collection.
func (in *Inspector) Graphics() []Graphic {
	return in.layer.Graphics()
}

// GraphicsState describes the displayed collection. Predicate is the filter
// the graphics were loaded for, which differs from the view's predicate while
// a rebuild is pending or after it failed.
type GraphicsState struct {
	Predicate  string    `json:"predicate"`
	Pending    bool      `json:"pending"`
	LoadFailed bool      `json:"loadFailed"`
	Graphics   []Graphic `json:"graphics"`
}

// GraphicsState returns the displayed collection with its load status.
func (in *Inspector) GraphicsState() GraphicsState {
	predicate, graphics := in.layer.Snapshot()
	in.viewMu.RLock()
	defer in.viewMu.RUnlock()
	return GraphicsState{
		Predicate:  predicate,
		Pending:    in.pending,
		LoadFailed: in.loadFailed,
		Graphics:   graphics,
	}
}

// Subscribe returns a channel receiving the projection after every change. Slow
// subscribers only see the latest view. The returned func unsubscribes.
func (in *Inspector) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	in.subsMu.Lock()
	id := in.nextSub
	in.nextSub++
	select {
	case <-in.stopCh:
		close(ch)
		in.subsMu.Unlock()
		return ch, func() {}
	default:
	}
	in.subs[id] = ch
	ch <- in.View()
	in.subsMu.Unlock()

	return ch, func() {
		in.subsMu.Lock()
		defer in.subsMu.Unlock()
		if c, ok := in.subs[id]; ok {
			close(c)
			delete(in.subs, id)
		}
	}
}

func (in *Inspector) send(ctx context.Context, ev event) error {
	select {
	case <-in.stopCh:
		return ErrClosed
	default:
	}
	select {
	case in.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-in.stopCh:
		return ErrClosed
	}
}

// post is used by async completions; after Stop they are discarded.
func (in *Inspector) post(ev event) {
	select {
	case in.events <- ev:
	case <-in.stopCh:
	}
}

func (in *Inspector) run() {
	defer in.wg.Done()
	for {
		select {
		case <-in.stopCh:
			return
		case ev := <-in.events:
			in.handle(ev)
			in.publish()
		}
	}
}

func (in *Inspector) handle(ev event) {
	switch e := ev.(type) {
	case clickEvent:
		e.reply <- in.handleClick(e.hits)
	case filterEvent:
		in.handleFilter(e.predicate)
	case resetEvent:
		in.abandonFetch()
		in.machine.Clear()
		in.popupVisible = false
		close(e.done)
	case fetchDoneEvent:
		if !in.machine.Apply(e.result) {
			in.metrics.IncStaleResults(metrics.KindSummary)
			return
		}
		in.abandonFetch()
		if e.result.Err != nil {
			log.Printf("[Inspector] error getting summary for %s: %v", e.result.Token.Hex, e.result.Err)
		}
	case graphicsDoneEvent:
		in.synchronizer.Apply(e.result)
	}
}

func (in *Inspector) handleClick(hits []Hit) ClickOutcome {
	out := Interpret(hits)

	if out.Selection == nil {
		in.abandonFetch()
		in.machine.Clear()
	} else if in.synchronizer.Pending() {
		// The displayed collection is about to be replaced.
		log.Printf("[Inspector] ignoring hexbin %s while hexbins reload for %q", out.Selection.H3, in.predicate)
		in.abandonFetch()
		in.machine.Clear()
	} else if g := in.layer.Find(out.Selection.H3); g == nil {
		log.Printf("[Inspector] hexbin %s is not in the displayed collection", out.Selection.H3)
		in.abandonFetch()
		in.machine.Clear()
	} else if tok, fetch := in.machine.Select(g, in.predicate); fetch {
		in.startFetch(tok)
	}

	in.bridge.Navigate(out.Intent)
	in.popupVisible = out.PopupVisible
	return out
}

func (in *Inspector) handleFilter(predicate string) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		predicate = DefaultPredicate
	}
	// The same predicate only reloads when its last load failed.
	if in.predicate == predicate && !in.synchronizer.Failed() {
		return
	}
	in.predicate = predicate
	in.abandonFetch()

	gen := in.synchronizer.Begin(predicate)
	ctx := in.baseCtx
	go func() {
		in.post(graphicsDoneEvent{result: in.synchronizer.Load(ctx, gen, predicate)})
	}()
}

func (in *Inspector) startFetch(tok Token) {
	in.abandonFetch()
	ctx, cancel := context.WithCancel(in.baseCtx)
	in.fetchCancel = cancel
	go func() {
		res := in.fetcher.Fetch(ctx, tok)
		in.post(fetchDoneEvent{result: res})
	}()
}

// abandonFetch cancels the in-flight fetch. Its result, if it still arrives,
// fails the token check.
func (in *Inspector) abandonFetch() {
	if in.fetchCancel != nil {
		in.fetchCancel()
		in.fetchCancel = nil
	}
}

func (in *Inspector) publish() {
	v := in.machine.View()
	v.Predicate = in.predicate
	v.PopupVisible = in.popupVisible

	in.viewMu.Lock()
	in.view = v
	in.pending = in.synchronizer.Pending()
	in.loadFailed = in.synchronizer.Failed()
	in.viewMu.Unlock()

	in.subsMu.Lock()
	defer in.subsMu.Unlock()
	for _, ch := range in.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}
