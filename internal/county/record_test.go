package county

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collector-cli/internal/model"
)

func TestMapSearchRow(t *testing.T) {
	raw := json.RawMessage(`{
		"APN": "123-45-678",
		"PropertyAddress": "1 Main St",
		"City": "phoenix",
		"State": "az",
		"Zip": "85031",
		"PropertyType": "Single Family"
	}`)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	rec, err := MapSearchRow(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "apn-123-45-678", rec.PropertyID)
	assert.Equal(t, "1 Main St", rec.Address.Street)
	assert.Equal(t, "AZ", rec.Address.State)
	assert.Equal(t, "85031", rec.Address.Zipcode)
	assert.Equal(t, model.PropertyTypeSingleFamily, rec.PropertyType)
	assert.Equal(t, now, rec.LastUpdated)
}

func TestMapSearchRowMissingAPN(t *testing.T) {
	_, err := MapSearchRow(json.RawMessage(`{"PropertyAddress":"1 Main"}`), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APN")
}

func TestApplyParcel(t *testing.T) {
	rec := &model.PropertyRecord{PropertyID: "apn-123"}
	p := &Parcel{
		APN:          "123",
		PropertyInfo: json.RawMessage(`{"LotSize": 0.25, "LotSizeUnit": "acres", "PropertyType": "SFR"}`),
		Residential:  json.RawMessage(`{"Bedrooms": 3, "Bathrooms": 2.5, "LivingSpace": 1850, "ConstructionYear": 1998}`),
		Valuations:   json.RawMessage(`[{"FullCashValue": 425000, "TaxYear": "2026"}, {"FullCashValue": 398000, "TaxYear": "2025"}]`),
	}

	ApplyParcel(rec, p)

	require.NotNil(t, rec.LotSize)
	assert.Equal(t, 0.25, *rec.LotSize)
	assert.Equal(t, model.LotUnitAcres, rec.LotUnit)
	assert.Equal(t, model.PropertyTypeSingleFamily, rec.PropertyType)
	require.NotNil(t, rec.Beds)
	assert.Equal(t, 3, *rec.Beds)
	require.NotNil(t, rec.Baths)
	assert.Equal(t, 2.5, *rec.Baths)
	require.NotNil(t, rec.Sqft)
	assert.Equal(t, 1850, *rec.Sqft)
	require.NotNil(t, rec.YearBuilt)
	assert.Equal(t, 1998, *rec.YearBuilt)
	require.NotNil(t, rec.Price)
	assert.Equal(t, float64(425000), *rec.Price)
}

func TestApplyParcelPartial(t *testing.T) {
	rec := &model.PropertyRecord{PropertyID: "apn-9"}
	ApplyParcel(rec, &Parcel{APN: "9"})
	assert.Nil(t, rec.Beds)
	assert.Nil(t, rec.Price)

	// A malformed sub-resource does not block the others.
	ApplyParcel(rec, &Parcel{
		APN:          "9",
		PropertyInfo: json.RawMessage(`not json`),
		Residential:  json.RawMessage(`{"Bedrooms": 2}`),
	})
	require.NotNil(t, rec.Beds)
	assert.Equal(t, 2, *rec.Beds)
	assert.Nil(t, rec.LotSize)
}
