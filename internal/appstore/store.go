// Package appstore is the shared application store: per-widget state, the
// data filter of each widget, the panel view router and the message bus panel
// components subscribe to.
package appstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Widget state keys.
const (
	PropQueryParams = "queryParams"
	PropExtent      = "extent"
	// PropCollapse is the host store's panel flag. collapse=true means the
	// panel is expanded.
	PropCollapse = "collapse"
)

// ErrWidgetNotFound is returned when a widget id has no state.
var ErrWidgetNotFound = errors.New("appstore: widget not found")

// IntentKind is the type of a panel intent.
type IntentKind string

const (
	IntentExpandPanel IntentKind = "expandPanel"
	IntentSwitchView  IntentKind = "switchView"
)

// Intent is a message for panel components.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	PanelID   string     `json:"panelId,omitempty"`
	SectionID string     `json:"sectionId,omitempty"`
	ViewID    string     `json:"viewId,omitempty"`
	At        time.Time  `json:"at"`
}

// Extent is a map extent in the map's spatial reference.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// ViewState is the panel router's current section and view.
type ViewState struct {
	SectionID string `json:"sectionId"`
	ViewID    string `json:"viewId"`
}

// Store is safe for concurrent use.
// Lock order is mu, then subsMu.
type Store struct {
	mu      sync.RWMutex
	widgets map[string]map[string]any
	view    ViewState

	subsMu     sync.Mutex
	filterSubs map[string]map[int]chan string
	intentSubs map[int]chan Intent
	nextID     int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		widgets:    make(map[string]map[string]any),
		filterSubs: make(map[string]map[int]chan string),
		intentSubs: make(map[int]chan Intent),
	}
}

// RegisterWidget creates empty state for id if it has none.
func (s *Store) RegisterWidget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.widgets[id]; !ok {
		s.widgets[id] = make(map[string]any)
	}
}

// HasWidget reports whether id has state.
func (s *Store) HasWidget(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.widgets[id]
	return ok
}

// WidgetIDs returns the registered widget ids.
func (s *Store) WidgetIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.widgets))
	for id := range s.widgets {
		ids = append(ids, id)
	}
	return ids
}

// SetWidgetProp sets one key of a widget's state, creating the state if needed.
func (s *Store) SetWidgetProp(id, key string, value any) {
	s.mu.Lock()
	st, ok := s.widgets[id]
	if !ok {
		st = make(map[string]any)
		s.widgets[id] = st
	}
	st[key] = value
	s.mu.Unlock()
}

// WidgetProp returns one key of a widget's state.
func (s *Store) WidgetProp(id, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.widgets[id]
	if !ok {
		return nil, false
	}
	v, ok := st[key]
	return v, ok
}

// Filter returns the widget's filter predicate, or "" when unset.
func (s *Store) Filter(id string) string {
	v, ok := s.WidgetProp(id, PropQueryParams)
	if !ok {
		return ""
	}
	where, _ := v.(string)
	return where
}

// SetFilter stores a new filter predicate for the widget and notifies its
// subscribers. Setting the current value again is a no-op.
func (s *Store) SetFilter(id, where string) bool {
	where = strings.TrimSpace(where)

	s.mu.Lock()
	st, ok := s.widgets[id]
	if !ok {
		st = make(map[string]any)
		s.widgets[id] = st
	}
	if prev, ok := st[PropQueryParams].(string); ok && prev == where {
		s.mu.Unlock()
		return false
	}
	st[PropQueryParams] = where

	// Notify before releasing mu so subscribers see writes in store order.
	s.subsMu.Lock()
	for _, ch := range s.filterSubs[id] {
		sendLatest(ch, where)
	}
	s.subsMu.Unlock()
	s.mu.Unlock()
	return true
}

// SubscribeFilter delivers the widget's filter predicate on every change. A
// slow subscriber only sees the latest predicate.
func (s *Store) SubscribeFilter(id string) (<-chan string, func()) {
	ch := make(chan string, 1)
	s.subsMu.Lock()
	subID := s.nextID
	s.nextID++
	if s.filterSubs[id] == nil {
		s.filterSubs[id] = make(map[int]chan string)
	}
	s.filterSubs[id][subID] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.filterSubs[id][subID]; ok {
			close(c)
			delete(s.filterSubs[id], subID)
		}
	}
}

// SetExtent stores the widget's map extent.
func (s *Store) SetExtent(id string, e Extent) {
	s.SetWidgetProp(id, PropExtent, e)
}

// Extent returns the widget's last map extent.
func (s *Store) Extent(id string) (Extent, bool) {
	v, ok := s.WidgetProp(id, PropExtent)
	if !ok {
		return Extent{}, false
	}
	e, ok := v.(Extent)
	return e, ok
}

// ExpandPanel marks the panel expanded and publishes an IntentExpandPanel.
func (s *Store) ExpandPanel(id string) error {
	if !s.HasWidget(id) {
		return fmt.Errorf("expand %q: %w", id, ErrWidgetNotFound)
	}
	s.SetWidgetProp(id, PropCollapse, true)
	s.publish(Intent{Kind: IntentExpandPanel, PanelID: id, At: time.Now()})
	return nil
}

// PanelExpanded reports the panel flag, translating the host's naming.
func (s *Store) PanelExpanded(id string) bool {
	v, ok := s.WidgetProp(id, PropCollapse)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SwitchView moves the panel router to a view and publishes an
// IntentSwitchView.
func (s *Store) SwitchView(sectionID, viewID string) {
	s.mu.Lock()
	s.view = ViewState{SectionID: sectionID, ViewID: viewID}
	s.mu.Unlock()
	s.publish(Intent{Kind: IntentSwitchView, SectionID: sectionID, ViewID: viewID, At: time.Now()})
}

// CurrentView returns the panel router's current view.
func (s *Store) CurrentView() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SubscribeIntents delivers panel intents in publish order. Intents are
// dropped for a subscriber whose buffer is full.
func (s *Store) SubscribeIntents() (<-chan Intent, func()) {
	ch := make(chan Intent, 32)
	s.subsMu.Lock()
	subID := s.nextID
	s.nextID++
	s.intentSubs[subID] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.intentSubs[subID]; ok {
			close(c)
			delete(s.intentSubs, subID)
		}
	}
}

func (s *Store) publish(in Intent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.intentSubs {
		select {
		case ch <- in:
		default:
		}
	}
}

func sendLatest(ch chan string, v string) {
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
