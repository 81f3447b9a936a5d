package hexbin

import "fmt"

// NavIntent tells the side panel what to show after a click.
type NavIntent int

const (
	IntentNone NavIntent = iota
	IntentShowFeatureDetail
	IntentShowHexbinSummary
)

func (n NavIntent) String() string {
	switch n {
	case IntentNone:
		return "none"
	case IntentShowFeatureDetail:
		return "showFeatureDetail"
	case IntentShowHexbinSummary:
		return "showHexbinSummary"
	default:
		return fmt.Sprintf("intent(%d)", int(n))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n NavIntent) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// ClickOutcome is the classification of one hit-test result.
type ClickOutcome struct {
	// Selection is the hexbin to select, or nil to clear the selection.
	Selection    *Graphic  `json:"selection,omitempty"`
	Intent       NavIntent `json:"intent"`
	PopupVisible bool      `json:"popupVisible"`
	FeatureHits  int       `json:"featureHits"`
	GraphicHits  int       `json:"graphicHits"`
}

// Interpret classifies a hit-test result. Feature hits take priority for
// navigation even when hexbin hits are present. When several hexbins are hit
// (a click on a shared boundary) the first one in hit order wins.
func Interpret(hits []Hit) ClickOutcome {
	var out ClickOutcome
	var first *Graphic
	for i := range hits {
		switch hits[i].LayerKind {
		case LayerFeature:
			out.FeatureHits++
		case LayerGraphics:
			if first == nil {
				g := hits[i].Graphic
				first = &g
			}
			out.GraphicHits++
		}
	}
	out.Selection = first

	switch {
	case out.FeatureHits > 0:
		out.Intent = IntentShowFeatureDetail
		out.PopupVisible = true
	case out.GraphicHits > 0:
		out.Intent = IntentShowHexbinSummary
	}
	return out
}
