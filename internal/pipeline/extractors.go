package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/cache"
	"github.com/sells-group/collector-cli/internal/county"
	"github.com/sells-group/collector-cli/internal/llm"
	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/parse"
)

// HTMLExtractor pulls fields out of listing pages by selector priority.
type HTMLExtractor struct {
	parser *parse.Parser
}

func NewHTMLExtractor(p *parse.Parser) *HTMLExtractor {
	if p == nil {
		p = parse.New(parse.DefaultSelectors())
	}
	return &HTMLExtractor{parser: p}
}

func (e *HTMLExtractor) Extract(ctx context.Context, item Item) (*model.PropertyRecord, float64, error) {
	rec, err := e.parser.Parse(item.Content, item.URL)
	if err != nil {
		return nil, 0, err
	}
	// Selector-based extraction carries no model confidence.
	return rec, -1, nil
}

// CountyExtractor maps assessor search rows directly onto records and,
// when a client is attached, enriches them from parcel sub-resources.
type CountyExtractor struct {
	client *county.Client
	log    *zap.Logger
}

func NewCountyExtractor(client *county.Client) *CountyExtractor {
	return &CountyExtractor{client: client, log: zap.L().Named("pipeline")}
}

func (e *CountyExtractor) Extract(ctx context.Context, item Item) (*model.PropertyRecord, float64, error) {
	rec, err := county.MapSearchRow(json.RawMessage(item.Content), time.Now())
	if err != nil {
		return nil, 0, err
	}
	if e.client != nil {
		apn := strings.TrimPrefix(rec.PropertyID, "apn-")
		parcel, err := e.client.GetParcelDetails(ctx, apn)
		if err != nil {
			// The base row is still worth keeping.
			e.log.Warn("parcel enrichment failed", zap.String("apn", apn), zap.Error(err))
		} else {
			county.ApplyParcel(rec, parcel)
		}
	}
	return rec, -1, nil
}

const propertySchema = `{
  "property_id": "string",
  "address": {"street": "string", "city": "string", "state": "string", "zipcode": "string"},
  "price": "number|null",
  "beds": "integer|null",
  "baths": "number|null",
  "sqft": "integer|null",
  "year_built": "integer|null",
  "lot_size": "number|null",
  "lot_unit": "acres|sqft|null",
  "property_type": "string|null",
  "description": "string|null",
  "features": ["string"],
  "mls_id": "string|null"
}`

// llmConfidence is attached to model-extracted records. The model gives
// no per-field signal, so a flat estimate feeds the validator blend.
const llmConfidence = 0.9

// LLMExtractor asks a local language model for structured output and
// caches extractions keyed on the raw content.
type LLMExtractor struct {
	client *llm.Client
	cache  *cache.Cache
}

func NewLLMExtractor(client *llm.Client, c *cache.Cache) *LLMExtractor {
	return &LLMExtractor{client: client, cache: c}
}

func (e *LLMExtractor) Extract(ctx context.Context, item Item) (*model.PropertyRecord, float64, error) {
	key := cache.CompletionKey(item.Content, "extract")
	if e.cache != nil {
		if payload, ok := e.cache.Get(ctx, key); ok {
			var rec model.PropertyRecord
			if err := json.Unmarshal(payload, &rec); err == nil {
				return &rec, llmConfidence, nil
			}
			e.cache.Delete(ctx, key)
		}
	}

	var rec model.PropertyRecord
	if err := e.client.Extract(ctx, item.Content, propertySchema, &rec); err != nil {
		return nil, 0, err
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	if rec.PropertyType != "" {
		rec.PropertyType = model.NormalizePropertyType(string(rec.PropertyType))
	}
	if err := rec.CheckBounds(time.Now()); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: model output out of bounds")
	}

	if e.cache != nil {
		if payload, err := rec.CanonicalJSON(); err == nil {
			e.cache.Set(ctx, key, payload)
			// Also index by the canonical field subset so cosmetically
			// different raw inputs resolve to the same extraction.
			e.cache.Set(ctx, cache.ExtractionKey(&rec, "extract"), payload)
		}
	}
	return &rec, llmConfidence, nil
}
