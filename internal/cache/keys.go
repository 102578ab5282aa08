package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sells-group/collector-cli/internal/model"
)

// extractionKeyFields is the canonical subset of record fields hashed
// into extraction cache keys. Cosmetic differences in the raw input do
// not change the key.
type extractionKeyFields struct {
	Address   model.Address `json:"address"`
	Beds      *int          `json:"beds"`
	Baths     *float64      `json:"baths"`
	Sqft      *int          `json:"sqft"`
	Price     *float64      `json:"price"`
	ListingID string        `json:"listing_id"`
	Op        string        `json:"op"`
}

// ExtractionKey derives a deterministic key for extraction results.
func ExtractionKey(rec *model.PropertyRecord, op string) string {
	fields := extractionKeyFields{
		Address:   rec.Address,
		Beds:      rec.Beds,
		Baths:     rec.Baths,
		Sqft:      rec.Sqft,
		Price:     rec.Price,
		ListingID: rec.MLSID,
		Op:        op,
	}
	raw, _ := json.Marshal(fields)
	sum := sha256.Sum256(raw)
	return "extract:" + hex.EncodeToString(sum[:])
}

// CompletionKey derives a deterministic key for LLM completions: the
// prompt text verbatim plus the operation tag.
func CompletionKey(prompt, op string) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return "completion:" + hex.EncodeToString(h.Sum(nil))
}
