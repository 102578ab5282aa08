package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collector-cli/internal/county"
)

// fakeSearcher serves canned pages per zipcode and records the page
// numbers requested.
type fakeSearcher struct {
	pages map[string][][]string
	calls []string
}

func (f *fakeSearcher) SearchProperty(_ context.Context, query string, page int) (*county.SearchResult, error) {
	zip := strings.TrimPrefix(query, "zipcode:")
	f.calls = append(f.calls, fmt.Sprintf("%s/%d", zip, page))

	all := f.pages[zip]
	total := 0
	for _, p := range all {
		total += len(p)
	}
	res := &county.SearchResult{Count: total}
	if page <= len(all) {
		for _, apn := range all[page-1] {
			row, _ := json.Marshal(map[string]string{"APN": apn})
			res.Results = append(res.Results, row)
		}
	}
	return res, nil
}

func TestCollectCountyPaginatesEveryZipcode(t *testing.T) {
	f := &fakeSearcher{pages: map[string][][]string{
		"85001": {{"101-01-001", "101-01-002"}, {"101-01-003"}},
		"85002": {{"102-01-001", "102-01-002"}, {"102-01-003", "102-01-004"}},
	}}

	items, err := collectCounty(context.Background(), f, []string{"85001", "85002"})
	require.NoError(t, err)

	// Every page of every zipcode is fetched, regardless of how many
	// items earlier zipcodes contributed.
	assert.Equal(t, []string{"85001/1", "85001/2", "85002/1", "85002/2"}, f.calls)
	require.Len(t, items, 7)

	for _, it := range items {
		assert.Equal(t, "county", it.Source)
		assert.NotEmpty(t, it.Content)
	}
	assert.Equal(t, "85002-2-1", items[6].ID)
}

func TestCollectCountyStopsOnEmptyPage(t *testing.T) {
	f := &fakeSearcher{pages: map[string][][]string{"85003": {}}}

	items, err := collectCounty(context.Background(), f, []string{"85003"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []string{"85003/1"}, f.calls)
}
