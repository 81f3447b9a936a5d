// Package hexbin implements hexbin inspection for the map overlay: click
// interpretation, the single-selection state machine, summary fetching with
// stale-result rejection, graphics synchronisation on filter changes and the
// navigation bridge to the side panel.
package hexbin

import (
	"errors"
	"fmt"
)

// DefaultPredicate is the unconstrained filter predicate.
const DefaultPredicate = "1=1"

// ErrClosed is returned by entry points once the inspector has been stopped.
var ErrClosed = errors.New("hexbin: inspector closed")

// HexID is an H3 cell index as displayed on the map.
type HexID string

// Graphic is a hexbin polygon in the displayed collection.
type Graphic struct {
	H3          HexID  `json:"h3"`
	Count       int    `json:"count"`
	Fill        string `json:"fill,omitempty"`
	Highlighted bool   `json:"highlighted"`
}

// LayerKind tags which map layer a hit-test entry came from.
type LayerKind string

const (
	LayerFeature  LayerKind = "feature"
	LayerGraphics LayerKind = "graphics"
)

// Hit is one entry of a hit-test result, in the order the map engine reported it.
type Hit struct {
	LayerKind  LayerKind      `json:"layerKind"`
	Graphic    Graphic        `json:"graphic"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DepthRange is the min/max sample depth inside a hexbin.
type DepthRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PhylumCount is one row of the phylum breakdown.
type PhylumCount struct {
	Phylum string `json:"phylum"`
	Count  int    `json:"count"`
}

// ScientificNameCount is one row of the scientific name breakdown. Names are
// unique within a list.
type ScientificNameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SpeciesCount holds the number of distinct scientific names.
type SpeciesCount struct {
	RawCount int `json:"rawCount"`
}

// Summary is the merged result of the three summary queries. It is built once
// and never mutated afterwards.
type Summary struct {
	DepthRange           DepthRange            `json:"depthRange"`
	PhylumCounts         []PhylumCount         `json:"phylumCounts"`
	ScientificNameCounts []ScientificNameCount `json:"scientificNameCounts"`
	SpeciesCount         SpeciesCount          `json:"speciesCount"`
}

// Token identifies a summary request. A result may only be applied while its
// token equals the machine's current token.
type Token struct {
	Generation uint64 `json:"generation"`
	Hex        HexID  `json:"hex"`
	Predicate  string `json:"predicate"`
}

func (t Token) String() string {
	return fmt.Sprintf("%s@%q#%d", t.Hex, t.Predicate, t.Generation)
}

// State is the selection state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is the read-only projection handed to the UI.
type View struct {
	SelectedHexID HexID    `json:"selectedHexId,omitempty"`
	PointCount    int      `json:"pointCount"`
	Summary       *Summary `json:"summary"`
	LoadError     bool     `json:"loadError"`
	State         State    `json:"state"`
	Predicate     string   `json:"predicate"`
	PopupVisible  bool     `json:"popupVisible"`
}

// LoadErrorMessage is shown while the selection is in StateFailed.
const LoadErrorMessage = "Server Error - currently unable to collect statistics, please try again"
