package hexbin

import (
	"reflect"
	"testing"
)

var testBridgeConfig = BridgeConfig{
	SidePanelID:   "sidePanel",
	SectionID:     "main",
	DetailsViewID: "details",
	SummaryViewID: "hexSummary",
}

func TestBridge_Navigate(t *testing.T) {
	tests := []struct {
		name   string
		intent NavIntent
		want   []string
	}{
		{"hexbin", IntentShowHexbinSummary, []string{"expand:sidePanel", "switch:main/hexSummary"}},
		{"feature", IntentShowFeatureDetail, []string{"expand:sidePanel", "switch:main/details"}},
		{"none", IntentNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePanel{present: true}
			b := NewBridge(testBridgeConfig, p)
			ok := b.Navigate(tt.intent)
			if ok != (tt.want != nil) {
				t.Fatalf("Navigate returned %v", ok)
			}
			if got := p.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected calls %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBridge_MissingPanel(t *testing.T) {
	p := &fakePanel{present: false}
	b := NewBridge(testBridgeConfig, p)
	if b.Navigate(IntentShowHexbinSummary) {
		t.Fatal("expected Navigate to report nothing published")
	}
	if len(p.Calls()) != 0 {
		t.Fatalf("expected no intents, got %v", p.Calls())
	}

	if NewBridge(testBridgeConfig, nil).Navigate(IntentShowHexbinSummary) {
		t.Fatal("expected nil store to be a no-op")
	}
}
