package hexbin

import "testing"

func TestSpeciesBreakdown(t *testing.T) {
	s := &Summary{ScientificNameCounts: []ScientificNameCount{
		{Name: "Lophelia pertusa", Count: 300},
		{Name: "Paragorgia arborea", Count: 699},
		{Name: "Primnoa resedaeformis", Count: 1},
	}}

	got := SpeciesBreakdown(s)
	want := []SpeciesShare{
		{Name: "Lophelia pertusa", Count: 300, Percent: "30"},
		{Name: "Paragorgia arborea", Count: 699, Percent: "70"},
		{Name: "Primnoa resedaeformis", Count: 1, Percent: "<1"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	if TotalSamples(s) != 1000 {
		t.Fatalf("expected 1000 samples, got %d", TotalSamples(s))
	}

	text := FormatSpecies(s)
	if text != "Lophelia pertusa: 300 (30%)\nParagorgia arborea: 699 (70%)\nPrimnoa resedaeformis: 1 (<1%)\n" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestSpeciesBreakdown_Empty(t *testing.T) {
	if SpeciesBreakdown(nil) != nil {
		t.Fatal("expected nil for nil summary")
	}
	if got := SpeciesBreakdown(&Summary{}); len(got) != 0 {
		t.Fatalf("expected no rows, got %v", got)
	}
	if FormatSpecies(nil) != "" {
		t.Fatal("expected empty text")
	}
}
