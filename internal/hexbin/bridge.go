package hexbin

import "log"

// PanelStore is the part of the shared application store the bridge writes to.
// The store owns the panel state; the bridge only publishes intents.
type PanelStore interface {
	HasWidget(id string) bool
	ExpandPanel(id string) error
	SwitchView(sectionID, viewID string)
}

// BridgeConfig maps navigation intents onto the side panel's views.
type BridgeConfig struct {
	SidePanelID   string
	SectionID     string
	DetailsViewID string
	SummaryViewID string
}

// Bridge expands the side panel and switches it to the view matching a click.
type Bridge struct {
	cfg   BridgeConfig
	store PanelStore
}

// NewBridge creates a bridge. A nil store turns Navigate into a no-op.
func NewBridge(cfg BridgeConfig, store PanelStore) *Bridge {
	return &Bridge{cfg: cfg, store: store}
}

// Resolve returns the section and view for intent. ok is false for IntentNone.
func (b *Bridge) Resolve(intent NavIntent) (sectionID, viewID string, ok bool) {
	switch intent {
	case IntentShowFeatureDetail:
		return b.cfg.SectionID, b.cfg.DetailsViewID, true
	case IntentShowHexbinSummary:
		return b.cfg.SectionID, b.cfg.SummaryViewID, true
	default:
		return "", "", false
	}
}

// Navigate expands the panel, then switches its view. It reports whether both
// intents were published. A missing panel is logged and ignored.
func (b *Bridge) Navigate(intent NavIntent) bool {
	sectionID, viewID, ok := b.Resolve(intent)
	if !ok || b.store == nil {
		return false
	}
	if !b.store.HasWidget(b.cfg.SidePanelID) {
		log.Printf("[Bridge] warning: side panel %q not available", b.cfg.SidePanelID)
		return false
	}
	if err := b.store.ExpandPanel(b.cfg.SidePanelID); err != nil {
		log.Printf("[Bridge] warning: expand side panel %q: %v", b.cfg.SidePanelID, err)
		return false
	}
	b.store.SwitchView(sectionID, viewID)
	return true
}
