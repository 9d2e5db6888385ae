package labeler

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// textColumnCandidates are header names tried, case-insensitively, when no
// text column is configured.
var textColumnCandidates = []string{"headline", "headlines", "title", "text", "content", "sentence"}

// LoadItems reads a CSV, TSV or plain-text file into items. Positions are the
// zero-based data row numbers, so they stay stable across runs over the same
// file; blank rows are skipped without shifting later positions.
func LoadItems(path string, opts InputConfig) ([]TextItem, error) {
	var (
		items []TextItem
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		items, err = loadDelimited(path, ',', opts.TextColumn)
	case ".tsv":
		items, err = loadDelimited(path, '\t', opts.TextColumn)
	default:
		items, err = loadLines(path)
	}
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

func loadLines(path string) ([]TextItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text file: %w", err)
	}
	defer f.Close()
	var out []TextItem
	scanner := bufio.NewScanner(f)
	row := 0
	for scanner.Scan() {
		line := cleanCell(scanner.Text())
		if line != "" {
			out = append(out, TextItem{Position: row, Text: line})
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan text file: %w", err)
	}
	return out, nil
}

func loadDelimited(path string, comma rune, column string) ([]TextItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, errors.New("empty file")
	}
	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		header[i] = cleanCell(cell)
	}
	col, hasHeader, err := resolveTextColumn(header, column)
	if err != nil {
		return nil, err
	}
	data := rows
	if hasHeader {
		data = rows[1:]
	}
	out := make([]TextItem, 0, len(data))
	for i, row := range data {
		if col >= len(row) {
			continue
		}
		text := cleanCell(row[col])
		if text == "" {
			continue
		}
		out = append(out, TextItem{Position: i, Text: text})
	}
	return out, nil
}

// resolveTextColumn picks the column holding the text. An explicit name must
// match a header; "#n" selects the n-th column (1-based). Without either the
// header is searched for a known name, and a file with no recognizable header
// is read from its first column.
func resolveTextColumn(header []string, explicit string) (int, bool, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		if idx := findColumn(header, []string{explicit}); idx >= 0 {
			return idx, true, nil
		}
		if strings.HasPrefix(explicit, "#") {
			idx, err := parseColumnIndex(explicit)
			if err != nil {
				return -1, false, err
			}
			if idx >= len(header) {
				return -1, false, fmt.Errorf("column index %s is out of range", explicit)
			}
			return idx, false, nil
		}
		return -1, false, fmt.Errorf("column %q not found", explicit)
	}
	if idx := findColumn(header, textColumnCandidates); idx >= 0 {
		return idx, true, nil
	}
	return 0, false, nil
}

func findColumn(header []string, candidates []string) int {
	for _, cand := range candidates {
		for i, col := range header {
			if strings.EqualFold(col, cand) {
				return i
			}
		}
	}
	return -1
}

func parseColumnIndex(token string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(token, "#"))
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	if idx <= 0 {
		return -1, fmt.Errorf("column indices are 1-based: %q", token)
	}
	return idx - 1, nil
}

func cleanCell(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "\ufeff")
}
