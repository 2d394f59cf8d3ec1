package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `index,region,city,country,search_query
0,Europe,Lisbon,Portugal,lisbon hidden gems
1,Europe,Porto,Portugal,porto street food
2,Asia,Tokyo,Japan,
3,Asia,Osaka,Japan,osaka night market
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadQueries(t *testing.T) {
	got, err := LoadQueries(writeCSV(t, sampleCSV))
	require.NoError(t, err)

	require.Len(t, got, 3, "header and empty-query rows dropped")
	assert.Equal(t, ResearchQuery{Index: 0, Region: "Europe", City: "Lisbon", Country: "Portugal", Query: "lisbon hidden gems"}, got[0])
	assert.Equal(t, "osaka night market", got[2].Query)
}

func TestLoadQueriesNoHeader(t *testing.T) {
	got, err := LoadQueries(writeCSV(t, "5,Asia,Seoul,Korea,seoul cafes\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Index)
}

func TestLoadQueriesBadRow(t *testing.T) {
	_, err := LoadQueries(writeCSV(t, "index,region,city,country,search_query\nnot_a_number,a,b,c,d\n"))
	assert.Error(t, err)
}

func TestLoadQueriesMissingFile(t *testing.T) {
	_, err := LoadQueries(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	queries := make([]ResearchQuery, 10)
	for i := range queries {
		queries[i].Index = i
	}

	assert.Len(t, Window(queries, 0, 0), 10)
	assert.Len(t, Window(queries, 0, 3), 3)

	w := Window(queries, 7, 5)
	require.Len(t, w, 3, "count clamps to the list end")
	assert.Equal(t, 7, w[0].Index)

	assert.Nil(t, Window(queries, 20, 5))
	assert.Len(t, Window(queries, -1, 2), 2)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"lisbon hidden gems", "lisbon_hidden_gems"},
		{"Lisbon Hidden-Gems!", "lisbon_hidden_gems"},
		{"  café & bars  ", "caf_bars"},
		{"!!!", "query"},
		{"a very long query string that keeps going and going", "a_very_long_query_string_that"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, slugify(tt.in))
		})
	}
}
