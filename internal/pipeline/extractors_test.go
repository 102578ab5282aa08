package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collector-cli/internal/cache"
	"github.com/sells-group/collector-cli/internal/llm"
	"github.com/sells-group/collector-cli/internal/model"
)

const extractionOutput = `<output>{
  "property_id": "mls-6701234",
  "address": {"street": "4021 E Cactus Rd", "city": "Phoenix", "state": "AZ", "zipcode": "85032"},
  "price": 485000,
  "beds": 3,
  "baths": 2,
  "sqft": 1700,
  "year_built": 2004,
  "property_type": "Single Family Residence",
  "last_updated": "2026-08-01T00:00:00Z"
}</output>`

func newExtractionServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		*calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":   extractionOutput,
			"eval_count": 42,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLLMExtractorCachesExtractions(t *testing.T) {
	calls := 0
	srv := newExtractionServer(t, &calls)

	client, err := llm.New(llm.Config{BaseURL: srv.URL, Model: "llama3.1"})
	require.NoError(t, err)
	ex := NewLLMExtractor(client, cache.New(cache.Config{}))

	item := Item{
		ID:          "p1",
		Source:      "mls",
		ContentType: model.ContentTypeJSON,
		Content:     `<div class="listing">4021 E Cactus Rd ... $485,000</div>`,
	}

	rec1, conf1, err := ex.Extract(context.Background(), item)
	require.NoError(t, err)
	require.NotNil(t, rec1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "mls-6701234", rec1.PropertyID)
	assert.Equal(t, model.PropertyTypeSingleFamily, rec1.PropertyType)
	assert.Positive(t, conf1)

	rec2, _, err := ex.Extract(context.Background(), item)
	require.NoError(t, err)
	require.NotNil(t, rec2)
	// Second call is served from cache without touching the model.
	assert.Equal(t, 1, calls)

	json1, err := rec1.CanonicalJSON()
	require.NoError(t, err)
	json2, err := rec2.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, json1, json2)
}

func TestLLMExtractorRejectsOutOfBoundsOutput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": `<output>{"property_id":"x","address":{"street":"1 Main","city":"Phoenix","state":"AZ","zipcode":"85001"},"beds":99}</output>`,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := llm.New(llm.Config{BaseURL: srv.URL, Model: "llama3.1"})
	require.NoError(t, err)
	ex := NewLLMExtractor(client, nil)

	_, _, err = ex.Extract(context.Background(), Item{Content: "raw"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}
