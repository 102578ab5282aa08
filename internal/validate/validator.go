// Package validate scores PropertyRecords against configurable field
// and consistency rules.
package validate

import (
	"fmt"
	"time"

	"github.com/sells-group/collector-cli/internal/model"
)

// FieldRule bounds one numeric field.
type FieldRule struct {
	Min *float64
	Max *float64
}

// ConsistencyRule checks a cross-field relation. Name feeds the result;
// Check returns ok plus an explanation on failure.
type ConsistencyRule struct {
	Name  string
	Check func(rec *model.PropertyRecord) (bool, string)
}

// Config drives the validator.
type Config struct {
	RequiredFields []string
	FieldRules     map[string]FieldRule
	Consistency    []ConsistencyRule
	// MinConfidence is the aggregate threshold below which a record is
	// rejected.
	MinConfidence float64
}

func ptr(v float64) *float64 { return &v }

// DefaultConfig applies the record bounds plus the bedroom density
// check.
func DefaultConfig() Config {
	return Config{
		RequiredFields: []string{"property_id", "address", "last_updated"},
		FieldRules: map[string]FieldRule{
			"price":      {Min: ptr(1)},
			"beds":       {Min: ptr(0), Max: ptr(model.MaxBeds)},
			"baths":      {Min: ptr(0), Max: ptr(model.MaxBaths)},
			"sqft":       {Min: ptr(model.MinSqft), Max: ptr(model.MaxSqft)},
			"year_built": {Min: ptr(model.MinYearBuilt)},
		},
		Consistency: []ConsistencyRule{
			{
				Name: "beds_per_1000_sqft",
				Check: func(rec *model.PropertyRecord) (bool, string) {
					if rec.Beds == nil || rec.Sqft == nil || *rec.Beds == 0 || *rec.Sqft == 0 {
						return true, ""
					}
					ratio := float64(*rec.Beds) / (float64(*rec.Sqft) / 1000)
					if ratio < 0.5 || ratio > 2.0 {
						return false, fmt.Sprintf("bedroom density %.2f per 1000 sqft outside [0.5, 2.0]", ratio)
					}
					return true, ""
				},
			},
			{
				Name: "lot_unit_present",
				Check: func(rec *model.PropertyRecord) (bool, string) {
					if rec.LotSize != nil && rec.LotUnit != model.LotUnitAcres && rec.LotUnit != model.LotUnitSqft {
						return false, fmt.Sprintf("lot size without valid unit: %q", rec.LotUnit)
					}
					return true, ""
				},
			},
		},
		MinConfidence: 0.5,
	}
}

// Validator applies the configured rules.
type Validator struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Validator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	return &Validator{cfg: cfg, now: time.Now}
}

// materialFields are the fields counted toward completeness.
var materialFields = []string{
	"price", "beds", "baths", "sqft", "year_built",
	"lot_size", "property_type", "description",
}

// Validate scores one record. ExtractionConfidence may be negative to
// signal "not available"; it is then excluded from the blend.
func (v *Validator) Validate(rec *model.PropertyRecord, extractionConfidence float64) *model.ValidationResult {
	res := &model.ValidationResult{
		Fields: map[string]model.FieldValidation{},
	}

	requiredFailed := v.checkRequired(rec, res)
	v.checkFields(rec, res)
	consistencyScore := v.checkConsistency(rec, res)

	res.Quality = model.QualityMetrics{
		Completeness: completeness(rec),
		Consistency:  consistencyScore,
		Accuracy:     accuracy(res.Fields),
		Timeliness:   timeliness(rec, v.now()),
	}

	fieldMean := meanFieldConfidence(res.Fields)
	var confidence float64
	if extractionConfidence >= 0 {
		confidence = 0.7*extractionConfidence + 0.3*fieldMean
	} else {
		confidence = fieldMean
	}
	if requiredFailed {
		confidence /= 2
	}
	res.Confidence = confidence
	res.IsValid = !requiredFailed && len(res.Errors) == 0 && confidence >= v.cfg.MinConfidence
	return res
}

func (v *Validator) checkRequired(rec *model.PropertyRecord, res *model.ValidationResult) bool {
	failed := false
	for _, name := range v.cfg.RequiredFields {
		ok := true
		switch name {
		case "property_id":
			ok = rec.PropertyID != ""
		case "address":
			a := rec.Address
			ok = a.Street != "" && a.City != "" && a.State != "" && a.Zipcode != ""
		case "last_updated":
			ok = !rec.LastUpdated.IsZero()
		}
		if !ok {
			failed = true
			res.Errors = append(res.Errors, "missing required field: "+name)
			res.Fields[name] = model.FieldValidation{Valid: false, Confidence: 0,
				Errors: []string{"required field missing"}}
		} else {
			res.Fields[name] = model.FieldValidation{Valid: true, Confidence: 1}
		}
	}
	return failed
}

func (v *Validator) checkFields(rec *model.PropertyRecord, res *model.ValidationResult) {
	check := func(name string, value *float64) {
		rule, hasRule := v.cfg.FieldRules[name]
		if value == nil {
			return
		}
		fv := model.FieldValidation{Value: *value, Valid: true, Confidence: 1}
		if hasRule {
			if rule.Min != nil && *value < *rule.Min {
				fv.Valid = false
				fv.Confidence = 0
				fv.Errors = append(fv.Errors, fmt.Sprintf("%s %v below minimum %v", name, *value, *rule.Min))
			}
			if rule.Max != nil && *value > *rule.Max {
				fv.Valid = false
				fv.Confidence = 0
				fv.Errors = append(fv.Errors, fmt.Sprintf("%s %v above maximum %v", name, *value, *rule.Max))
			}
		}
		if !fv.Valid {
			res.Errors = append(res.Errors, fv.Errors...)
		}
		res.Fields[name] = fv
	}

	check("price", rec.Price)
	check("baths", rec.Baths)
	if rec.Beds != nil {
		f := float64(*rec.Beds)
		check("beds", &f)
	}
	if rec.Sqft != nil {
		f := float64(*rec.Sqft)
		check("sqft", &f)
	}
	if rec.YearBuilt != nil {
		f := float64(*rec.YearBuilt)
		fv := model.FieldValidation{Value: f, Valid: true, Confidence: 1}
		rule := v.cfg.FieldRules["year_built"]
		min := float64(model.MinYearBuilt)
		if rule.Min != nil {
			min = *rule.Min
		}
		max := float64(v.now().Year() + 1)
		if rule.Max != nil {
			max = *rule.Max
		}
		if f < min || f > max {
			fv.Valid = false
			fv.Confidence = 0
			fv.Errors = append(fv.Errors, fmt.Sprintf("year_built %v outside [%v, %v]", f, min, max))
			res.Errors = append(res.Errors, fv.Errors...)
		}
		res.Fields["year_built"] = fv
	}
}

func (v *Validator) checkConsistency(rec *model.PropertyRecord, res *model.ValidationResult) float64 {
	if len(v.cfg.Consistency) == 0 {
		return 1
	}
	passed := 0
	for _, rule := range v.cfg.Consistency {
		ok, reason := rule.Check(rec)
		if ok {
			passed++
			continue
		}
		res.Warnings = append(res.Warnings, rule.Name+": "+reason)
	}
	return float64(passed) / float64(len(v.cfg.Consistency))
}

func completeness(rec *model.PropertyRecord) float64 {
	present := 0
	for _, name := range materialFields {
		switch name {
		case "price":
			if rec.Price != nil {
				present++
			}
		case "beds":
			if rec.Beds != nil {
				present++
			}
		case "baths":
			if rec.Baths != nil {
				present++
			}
		case "sqft":
			if rec.Sqft != nil {
				present++
			}
		case "year_built":
			if rec.YearBuilt != nil {
				present++
			}
		case "lot_size":
			if rec.LotSize != nil {
				present++
			}
		case "property_type":
			if rec.PropertyType != "" {
				present++
			}
		case "description":
			if rec.Description != "" {
				present++
			}
		}
	}
	return float64(present) / float64(len(materialFields))
}

func accuracy(fields map[string]model.FieldValidation) float64 {
	if len(fields) == 0 {
		return 1
	}
	valid := 0
	for _, fv := range fields {
		if fv.Valid {
			valid++
		}
	}
	return float64(valid) / float64(len(fields))
}

// timeliness decays from 1.0 as last_updated ages past a week.
func timeliness(rec *model.PropertyRecord, now time.Time) float64 {
	if rec.LastUpdated.IsZero() {
		return 0.95
	}
	age := now.Sub(rec.LastUpdated)
	if age < 0 {
		age = 0
	}
	if age <= 7*24*time.Hour {
		return 0.99
	}
	weeks := float64(age) / float64(7*24*time.Hour)
	score := 0.99 - 0.05*(weeks-1)
	if score < 0.5 {
		score = 0.5
	}
	return score
}

func meanFieldConfidence(fields map[string]model.FieldValidation) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, fv := range fields {
		sum += fv.Confidence
	}
	return sum / float64(len(fields))
}
