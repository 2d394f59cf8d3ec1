package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ResearchQuery is one row of the research list CSV:
// index,region,city,country,search_query.
type ResearchQuery struct {
	Index   int
	Region  string
	City    string
	Country string
	Query   string
}

// LoadQueries reads the research CSV, tolerating a header row.
func LoadQueries(path string) ([]ResearchQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse query list: %w", err)
	}

	var queries []ResearchQuery
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("query list row %d has %d columns, want 5", i+1, len(row))
		}
		index, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("query list row %d: bad index %q", i+1, row[0])
		}
		query := strings.TrimSpace(row[4])
		if query == "" {
			continue
		}
		queries = append(queries, ResearchQuery{
			Index:   index,
			Region:  strings.TrimSpace(row[1]),
			City:    strings.TrimSpace(row[2]),
			Country: strings.TrimSpace(row[3]),
			Query:   query,
		})
	}
	return queries, nil
}

// Window slices the query list to [start, start+count). A count of 0
// means everything from start.
func Window(queries []ResearchQuery, start, count int) []ResearchQuery {
	if start < 0 {
		start = 0
	}
	if start >= len(queries) {
		return nil
	}
	out := queries[start:]
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return out
}

// slugify turns a query into a directory-name-safe fragment.
func slugify(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	for strings.Contains(slug, "__") {
		slug = strings.ReplaceAll(slug, "__", "_")
	}
	if len(slug) > 30 {
		slug = strings.Trim(slug[:30], "_")
	}
	if slug == "" {
		slug = "query"
	}
	return slug
}
