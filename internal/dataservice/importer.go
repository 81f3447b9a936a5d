package dataservice

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// batchSize bounds the observations written per transaction during import.
const batchSize = 5000

// columnAliases maps normalised CSV headers onto observation fields. Both the
// snake_case names and the field names of the coral/sponge export are accepted.
var columnAliases = map[string]string{
	"h3":             "h3",
	"h3index":        "h3",
	"depth":          "depth",
	"depthinmeters":  "depth",
	"phylum":         "phylum",
	"scientificname": "scientific_name",
	"catalognumber":  "catalog_number",
}

// ImportCSV reads observations with a header row from r and inserts them.
// Rows with an empty depth are stored with depth 0.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.NewReplacer("_", "", " ", "").Replace(strings.TrimSpace(h)))
		if field, ok := columnAliases[key]; ok {
			idx[field] = i
		}
	}
	if _, ok := idx["h3"]; !ok {
		return 0, errors.New("read csv header: missing h3 column")
	}

	get := func(rec []string, field string) string {
		i, ok := idx[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	total := 0
	batch := make([]Observation, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.Insert(ctx, batch)
		total += n
		batch = batch[:0]
		return err
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return total, fmt.Errorf("read csv line %d: %w", line, err)
		}

		o := Observation{
			H3:             get(rec, "h3"),
			Phylum:         get(rec, "phylum"),
			ScientificName: get(rec, "scientific_name"),
			CatalogNumber:  get(rec, "catalog_number"),
		}
		if d := get(rec, "depth"); d != "" {
			v, err := strconv.ParseFloat(d, 64)
			if err != nil {
				return total, fmt.Errorf("csv line %d: invalid depth %q: %w", line, d, err)
			}
			o.Depth = v
		}
		batch = append(batch, o)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
