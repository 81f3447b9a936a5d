package hexbin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SpeciesShare is one scientific name with its share of the hexbin's samples.
type SpeciesShare struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Percent string `json:"percent"`
}

// SpeciesBreakdown lists every scientific name of s in query order with its
// rounded percentage of all samples. Shares that round to zero read "<1".
func SpeciesBreakdown(s *Summary) []SpeciesShare {
	if s == nil {
		return nil
	}
	total := TotalSamples(s)
	out := make([]SpeciesShare, 0, len(s.ScientificNameCounts))
	for _, it := range s.ScientificNameCounts {
		pct := "<1"
		if total > 0 {
			if p := int(math.Round(float64(it.Count) / float64(total) * 100)); p > 0 {
				pct = strconv.Itoa(p)
			}
		}
		out = append(out, SpeciesShare{Name: it.Name, Count: it.Count, Percent: pct})
	}
	return out
}

// TotalSamples sums the scientific name counts of s.
func TotalSamples(s *Summary) int {
	if s == nil {
		return 0
	}
	total := 0
	for _, it := range s.ScientificNameCounts {
		total += it.Count
	}
	return total
}

// FormatSpecies renders the breakdown as "Name: count (pct%)" lines.
func FormatSpecies(s *Summary) string {
	var b strings.Builder
	for _, sh := range SpeciesBreakdown(s) {
		fmt.Fprintf(&b, "%s: %d (%s%%)\n", sh.Name, sh.Count, sh.Percent)
	}
	return b.String()
}
