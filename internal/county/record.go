package county

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/parse"
)

// searchRow is the subset of assessor search fields the mapper reads.
// The upstream payload carries many more; unknown keys are ignored.
type searchRow struct {
	APN             string `json:"APN"`
	PropertyAddress string `json:"PropertyAddress"`
	City            string `json:"City"`
	State           string `json:"State"`
	Zip             string `json:"Zip"`
	PropertyType    string `json:"PropertyType"`
}

type propertyInfo struct {
	LotSize      float64 `json:"LotSize"`
	LotSizeUnit  string  `json:"LotSizeUnit"`
	PropertyType string  `json:"PropertyType"`
	Description  string  `json:"PropertyDescription"`
}

type residentialDetails struct {
	Bedrooms         *int     `json:"Bedrooms"`
	Bathrooms        *float64 `json:"Bathrooms"`
	LivingArea       *int     `json:"LivingSpace"`
	ConstructionYear *int     `json:"ConstructionYear"`
}

type valuationEntry struct {
	FullCashValue float64 `json:"FullCashValue"`
	TaxYear       string  `json:"TaxYear"`
}

// MapSearchRow converts one search hit into a PropertyRecord. The APN
// becomes the stable property id.
func MapSearchRow(raw json.RawMessage, now time.Time) (*model.PropertyRecord, error) {
	var row searchRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, eris.Wrap(err, "county: decode search row")
	}
	if row.APN == "" {
		return nil, eris.New("county: search row has no APN")
	}

	rec := &model.PropertyRecord{
		PropertyID: "apn-" + row.APN,
		Address: model.Address{
			Street:  parse.NormalizeText(row.PropertyAddress),
			City:    parse.NormalizeText(row.City),
			State:   strings.ToUpper(strings.TrimSpace(row.State)),
			Zipcode: strings.TrimSpace(row.Zip),
		},
		LastUpdated: now.UTC(),
	}
	if row.PropertyType != "" {
		rec.PropertyType = model.NormalizePropertyType(row.PropertyType)
	}
	return rec, nil
}

// ApplyParcel enriches a record with parcel sub-resource fields. Absent
// sub-resources leave the record untouched; decode failures on one
// sub-resource do not block the others.
func ApplyParcel(rec *model.PropertyRecord, p *Parcel) {
	if p == nil {
		return
	}

	if len(p.PropertyInfo) > 0 {
		var info propertyInfo
		if err := json.Unmarshal(p.PropertyInfo, &info); err == nil {
			if info.LotSize > 0 {
				size := info.LotSize
				rec.LotSize = &size
				if strings.EqualFold(info.LotSizeUnit, "sqft") {
					rec.LotUnit = model.LotUnitSqft
				} else {
					rec.LotUnit = model.LotUnitAcres
				}
			}
			if rec.PropertyType == "" && info.PropertyType != "" {
				rec.PropertyType = model.NormalizePropertyType(info.PropertyType)
			}
			if rec.Description == "" {
				rec.Description = parse.NormalizeText(info.Description)
			}
		}
	}

	if len(p.Residential) > 0 {
		var res residentialDetails
		if err := json.Unmarshal(p.Residential, &res); err == nil {
			if res.Bedrooms != nil {
				rec.Beds = res.Bedrooms
			}
			if res.Bathrooms != nil {
				rec.Baths = res.Bathrooms
			}
			if res.LivingArea != nil {
				rec.Sqft = res.LivingArea
			}
			if res.ConstructionYear != nil {
				rec.YearBuilt = res.ConstructionYear
			}
		}
	}

	if len(p.Valuations) > 0 {
		var vals []valuationEntry
		if err := json.Unmarshal(p.Valuations, &vals); err == nil && len(vals) > 0 && rec.Price == nil {
			// Entries arrive newest tax year first.
			if v := vals[0].FullCashValue; v > 0 {
				rec.Price = &v
			}
		}
	}
}
