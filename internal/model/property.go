// Package model holds the canonical data types shared across the collection
// pipeline: property records, processing results, and validation outcomes.
package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// LotUnit is the unit a lot size is expressed in.
type LotUnit string

const (
	LotUnitAcres LotUnit = "acres"
	LotUnitSqft  LotUnit = "sqft"
)

// PropertyType is the normalized property category.
type PropertyType string

const (
	PropertyTypeSingleFamily PropertyType = "single_family"
	PropertyTypeCondo        PropertyType = "condo"
	PropertyTypeTownhouse    PropertyType = "townhouse"
	PropertyTypeMultiFamily  PropertyType = "multi_family"
	PropertyTypeManufactured PropertyType = "manufactured"
	PropertyTypeLand         PropertyType = "land"
	PropertyTypeApartment    PropertyType = "apartment"
	PropertyTypeOther        PropertyType = "other"
)

// Numeric bounds every emitted PropertyRecord must satisfy.
const (
	MaxBeds     = 20
	MaxBaths    = 20.0
	MinSqft     = 100
	MaxSqft     = 50000
	MinYearBuilt = 1800
)

// Address is the structured street address of a property.
type Address struct {
	Street  string `json:"street" bson:"street"`
	City    string `json:"city" bson:"city"`
	State   string `json:"state" bson:"state"`
	Zipcode string `json:"zipcode" bson:"zipcode"`
}

// PropertyRecord is the canonical structured output of the pipeline.
// Records are immutable after creation and persisted exactly once per run.
type PropertyRecord struct {
	PropertyID  string    `json:"property_id" bson:"property_id"`
	Address     Address   `json:"address" bson:"address"`
	LastUpdated time.Time `json:"last_updated" bson:"last_updated"`

	Price        *float64     `json:"price,omitempty" bson:"price,omitempty"`
	Beds         *int         `json:"beds,omitempty" bson:"beds,omitempty"`
	Baths        *float64     `json:"baths,omitempty" bson:"baths,omitempty"`
	Sqft         *int         `json:"sqft,omitempty" bson:"sqft,omitempty"`
	YearBuilt    *int         `json:"year_built,omitempty" bson:"year_built,omitempty"`
	LotSize      *float64     `json:"lot_size,omitempty" bson:"lot_size,omitempty"`
	LotUnit      LotUnit      `json:"lot_unit,omitempty" bson:"lot_unit,omitempty"`
	PropertyType PropertyType `json:"property_type,omitempty" bson:"property_type,omitempty"`
	Description  string       `json:"description,omitempty" bson:"description,omitempty"`
	Features     []string     `json:"features,omitempty" bson:"features,omitempty"`
	ImageURLs    []string     `json:"image_urls,omitempty" bson:"image_urls,omitempty"`
	MLSID        string       `json:"mls_id,omitempty" bson:"mls_id,omitempty"`
}

// propertyTypeSynonyms maps raw source strings to normalized types.
// Lookup is case-insensitive over the trimmed input.
var propertyTypeSynonyms = map[string]PropertyType{
	"single family":           PropertyTypeSingleFamily,
	"single-family":           PropertyTypeSingleFamily,
	"single family home":      PropertyTypeSingleFamily,
	"single family residence": PropertyTypeSingleFamily,
	"sfr":                     PropertyTypeSingleFamily,
	"house":                   PropertyTypeSingleFamily,
	"detached":                PropertyTypeSingleFamily,
	"residence":               PropertyTypeSingleFamily,
	"condo":                   PropertyTypeCondo,
	"condominium":             PropertyTypeCondo,
	"townhouse":               PropertyTypeTownhouse,
	"townhome":                PropertyTypeTownhouse,
	"town house":              PropertyTypeTownhouse,
	"multi family":            PropertyTypeMultiFamily,
	"multi-family":            PropertyTypeMultiFamily,
	"multifamily":             PropertyTypeMultiFamily,
	"duplex":                  PropertyTypeMultiFamily,
	"triplex":                 PropertyTypeMultiFamily,
	"fourplex":                PropertyTypeMultiFamily,
	"manufactured":            PropertyTypeManufactured,
	"manufactured home":       PropertyTypeManufactured,
	"mobile home":             PropertyTypeManufactured,
	"mobile/manufactured":     PropertyTypeManufactured,
	"land":                    PropertyTypeLand,
	"lot":                     PropertyTypeLand,
	"vacant land":             PropertyTypeLand,
	"lots and land":           PropertyTypeLand,
	"apartment":               PropertyTypeApartment,
	"apt":                     PropertyTypeApartment,
}

// NormalizePropertyType resolves a raw source string through the synonym
// table. Unrecognized non-empty inputs map to PropertyTypeOther.
func NormalizePropertyType(raw string) PropertyType {
	key := normalizeKey(raw)
	if key == "" {
		return ""
	}
	if t, ok := propertyTypeSynonyms[key]; ok {
		return t
	}
	return PropertyTypeOther
}

func normalizeKey(s string) string {
	b := make([]byte, 0, len(s))
	space := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
			fallthrough
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '/':
			if space && len(b) > 0 {
				b = append(b, ' ')
			}
			space = false
			b = append(b, c)
		default:
			space = true
		}
	}
	return string(b)
}

// CheckBounds verifies the numeric invariants on a record. It returns the
// first violated constraint as an error, or nil when the record is in range.
func (r *PropertyRecord) CheckBounds(now time.Time) error {
	if r.PropertyID == "" {
		return eris.New("property record: missing property_id")
	}
	if r.Address.Street == "" || r.Address.City == "" || r.Address.State == "" || r.Address.Zipcode == "" {
		return eris.New("property record: incomplete address")
	}
	if r.LastUpdated.IsZero() {
		return eris.New("property record: missing last_updated")
	}
	if r.Price != nil && *r.Price <= 0 {
		return eris.Errorf("property record: price %v out of range", *r.Price)
	}
	if r.Beds != nil && (*r.Beds < 0 || *r.Beds > MaxBeds) {
		return eris.Errorf("property record: beds %d out of range", *r.Beds)
	}
	if r.Baths != nil && (*r.Baths < 0 || *r.Baths > MaxBaths) {
		return eris.Errorf("property record: baths %v out of range", *r.Baths)
	}
	if r.Sqft != nil && (*r.Sqft < MinSqft || *r.Sqft > MaxSqft) {
		return eris.Errorf("property record: sqft %d out of range", *r.Sqft)
	}
	if r.YearBuilt != nil && (*r.YearBuilt < MinYearBuilt || *r.YearBuilt > now.Year()+1) {
		return eris.Errorf("property record: year_built %d out of range", *r.YearBuilt)
	}
	if r.LotSize != nil && r.LotUnit != LotUnitAcres && r.LotUnit != LotUnitSqft {
		return eris.Errorf("property record: lot_size present with invalid unit %q", r.LotUnit)
	}
	return nil
}

// CanonicalJSON serializes the record deterministically: UTC timestamps,
// sorted keys (encoding/json map behavior is irrelevant since the struct
// field order is fixed), no trailing whitespace. Parsing and re-serializing
// a record yields byte-equal output.
func (r *PropertyRecord) CanonicalJSON() ([]byte, error) {
	clone := *r
	clone.LastUpdated = clone.LastUpdated.UTC().Truncate(time.Second)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&clone); err != nil {
		return nil, eris.Wrap(err, "property record: marshal")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PropertyStub is a search-result listing with just enough data to fetch
// and identify the full record.
type PropertyStub struct {
	MLSID     string `json:"mls_id,omitempty"`
	Address   string `json:"address,omitempty"`
	PriceText string `json:"price_text,omitempty"`
	DetailURL string `json:"detail_url"`
}
