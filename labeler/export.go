package labeler

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// WriteSummaryCSV flattens records into one row per item: position, text and
// for every category its top label and score. Grouped categories use their
// Key as the column name.
func WriteSummaryCSV(w io.Writer, categories []LabelCategory, records []AnalysisRecord) error {
	cw := csv.NewWriter(w)
	header := []string{"position", "text"}
	for _, cat := range categories {
		header = append(header, cat.Key(), cat.Key()+"_score")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(rec.Position), rec.Text)
		for _, cat := range categories {
			res, ok := rec.Categories[cat.Name]
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row, res.TopMatch, strconv.FormatFloat(res.Score, 'f', 4, 64))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", rec.Position, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// RecordCategories returns the categories that actually occur in records:
// configured ones first in their configured order, then unknown names
// sorted. Used to export an artifact produced with a category subset.
func RecordCategories(configured []LabelCategory, records []AnalysisRecord) []LabelCategory {
	present := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec.Categories {
			present[name] = struct{}{}
		}
	}
	out := make([]LabelCategory, 0, len(present))
	for _, cat := range configured {
		if _, ok := present[cat.Name]; ok {
			out = append(out, cat)
			delete(present, cat.Name)
		}
	}
	extra := make([]string, 0, len(present))
	for name := range present {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, LabelCategory{Name: name})
	}
	return out
}

// LabelCount is how often a label was the top match of its category.
type LabelCount struct {
	Label string
	Count int
}

// Tally counts top matches per category and keeps the n most frequent.
// Ties are ordered by the category vocabulary. n <= 0 keeps all labels
// that occurred.
func Tally(records []AnalysisRecord, categories []LabelCategory, n int) map[string][]LabelCount {
	out := make(map[string][]LabelCount, len(categories))
	for _, cat := range categories {
		counts := make(map[string]int, len(cat.Labels))
		for _, rec := range records {
			if res, ok := rec.Categories[cat.Name]; ok {
				counts[res.TopMatch]++
			}
		}
		order := make(map[string]int, len(cat.Labels))
		for i, l := range cat.Labels {
			order[l] = i
		}
		list := make([]LabelCount, 0, len(counts))
		for label, c := range counts {
			list = append(list, LabelCount{Label: label, Count: c})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Count != list[j].Count {
				return list[i].Count > list[j].Count
			}
			oi, iok := order[list[i].Label]
			oj, jok := order[list[j].Label]
			if iok != jok {
				return iok
			}
			if oi != oj {
				return oi < oj
			}
			return list[i].Label < list[j].Label
		})
		if n > 0 && len(list) > n {
			list = list[:n]
		}
		out[cat.Name] = list
	}
	return out
}
