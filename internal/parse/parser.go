// Package parse extracts PropertyRecords from listing HTML and keeps
// the raw payloads around for reprocessing.
package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/model"
)

// Selectors lists the CSS selectors tried per field, in priority order.
// The first selector yielding usable text wins.
type Selectors struct {
	Price        []string
	Address      []string
	Beds         []string
	Baths        []string
	Sqft         []string
	LotSize      []string
	YearBuilt    []string
	PropertyType []string
	Description  []string
	Images       []string
	MlsID        []string
}

// DefaultSelectors covers the common MLS listing layouts.
func DefaultSelectors() Selectors {
	return Selectors{
		Price:        []string{"[data-testid='price']", ".price", ".listing-price", "span[itemprop='price']"},
		Address:      []string{"[data-testid='address']", ".address", "h1.listing-address", "[itemprop='address']"},
		Beds:         []string{"[data-testid='beds']", ".beds", "li.beds", "[data-label='property-beds']"},
		Baths:        []string{"[data-testid='baths']", ".baths", "li.baths", "[data-label='property-baths']"},
		Sqft:         []string{"[data-testid='sqft']", ".sqft", "li.sqft", "[data-label='property-sqft']"},
		LotSize:      []string{"[data-testid='lot-size']", ".lot-size", "[data-label='property-lot']"},
		YearBuilt:    []string{"[data-testid='year-built']", ".year-built", "[data-label='property-year']"},
		PropertyType: []string{"[data-testid='property-type']", ".property-type", "[data-label='property-type']"},
		Description:  []string{"[data-testid='description']", ".listing-description", "#description", "[itemprop='description']"},
		Images:       []string{".gallery img", ".photos img", "img[itemprop='image']"},
		MlsID:        []string{"[data-testid='mls-id']", ".mls-id", "[data-label='mls-number']"},
	}
}

// Parser turns raw listing HTML into PropertyRecords.
type Parser struct {
	sel Selectors
	now func() time.Time
	log *zap.Logger
}

func New(sel Selectors) *Parser {
	return &Parser{sel: sel, now: time.Now, log: zap.L().Named("parse")}
}

// Parse extracts every field it can find. Fields with no matching
// selector or unusable text stay nil; an error is returned only when
// the document itself cannot be read or yields no fields at all.
func (p *Parser) Parse(html, sourceURL string) (*model.PropertyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "parse: read document")
	}

	rec := &model.PropertyRecord{
		LastUpdated: p.now().UTC(),
	}

	found := 0
	if txt := p.first(doc, p.sel.Price); txt != "" {
		if v, ok := ParsePrice(txt); ok {
			rec.Price = &v
			found++
		}
	}
	if txt := p.first(doc, p.sel.Address); txt != "" {
		rec.Address = parseAddress(txt)
		found++
	}
	if txt := p.first(doc, p.sel.Beds); txt != "" {
		if v, ok := ParseBeds(txt); ok {
			rec.Beds = &v
			found++
		}
	}
	if txt := p.first(doc, p.sel.Baths); txt != "" {
		if v, ok := ParseBaths(txt); ok {
			rec.Baths = &v
			found++
		}
	}
	if txt := p.first(doc, p.sel.Sqft); txt != "" {
		if v, ok := ParseSqft(txt); ok {
			rec.Sqft = &v
			found++
		}
	}
	if txt := p.first(doc, p.sel.LotSize); txt != "" {
		if size, unit, ok := ParseLotSize(txt); ok {
			rec.LotSize = &size
			rec.LotUnit = unit
			found++
		}
	}
	if txt := p.first(doc, p.sel.YearBuilt); txt != "" {
		if v, ok := p.parseYear(txt); ok {
			rec.YearBuilt = &v
			found++
		}
	}
	if txt := p.first(doc, p.sel.PropertyType); txt != "" {
		rec.PropertyType = model.NormalizePropertyType(txt)
		found++
	}
	if txt := p.first(doc, p.sel.Description); txt != "" {
		rec.Description = NormalizeText(txt)
		found++
	}
	if txt := p.first(doc, p.sel.MlsID); txt != "" {
		rec.MLSID = txt
		found++
	}
	rec.ImageURLs = p.images(doc, sourceURL)
	if len(rec.ImageURLs) > 0 {
		found++
	}

	if found == 0 {
		return nil, eris.New("parse: no recognizable fields")
	}
	rec.PropertyID = ListingID(rec.MLSID, sourceURL)
	return rec, nil
}

// ListingID derives a stable property id for a scraped listing. The MLS
// number wins when the page exposes one; otherwise the id is a digest
// of the listing URL so re-scrapes of the same page collide.
func ListingID(mlsID, sourceURL string) string {
	id := strings.TrimPrefix(strings.ToLower(mlsID), "mls#")
	var b strings.Builder
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			b.WriteRune(r)
		}
	}
	if s := strings.Trim(b.String(), "-"); s != "" {
		return "mls-" + s
	}
	if sourceURL == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sourceURL))
	return "url-" + hex.EncodeToString(sum[:8])
}

func (p *Parser) first(doc *goquery.Document, selectors []string) string {
	for _, s := range selectors {
		sel := doc.Find(s)
		if sel.Length() == 0 {
			continue
		}
		if txt := NormalizeText(sel.First().Text()); txt != "" {
			return txt
		}
		// Price and similar values sometimes live in the content attr.
		if attr, ok := sel.First().Attr("content"); ok {
			if txt := NormalizeText(attr); txt != "" {
				return txt
			}
		}
	}
	return ""
}

func (p *Parser) images(doc *goquery.Document, sourceURL string) []string {
	base, _ := url.Parse(sourceURL)
	seen := map[string]bool{}
	var urls []string
	for _, s := range p.sel.Images {
		doc.Find(s).Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("src")
			if !ok || src == "" || strings.HasPrefix(src, "data:") {
				return
			}
			if base != nil {
				if ref, err := url.Parse(src); err == nil {
					src = base.ResolveReference(ref).String()
				}
			}
			if !seen[src] {
				seen[src] = true
				urls = append(urls, src)
			}
		})
		if len(urls) > 0 {
			break
		}
	}
	return urls
}

var (
	priceRe    = regexp.MustCompile(`(?i)\$?\s*([\d,]+(?:\.\d+)?)\s*([mk])?`)
	numberRe   = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	fullHalfRe = regexp.MustCompile(`(?i)(\d+)\s*full(?:[^0-9]+(\d+)\s*half)?`)
	yearRe     = regexp.MustCompile(`(1[89]\d{2}|20\d{2})`)
)

// ParsePrice handles "$1.2M", "450K", "$425,000".
func ParsePrice(s string) (float64, bool) {
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "m":
		v *= 1_000_000
	case "k":
		v *= 1_000
	}
	return v, true
}

// ParseBeds handles plain integers and "studio".
func ParseBeds(s string) (int, bool) {
	if strings.Contains(strings.ToLower(s), "studio") {
		return 0, true
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil || v < 0 || v > model.MaxBeds {
		return 0, false
	}
	return v, true
}

// ParseBaths handles decimals and "N full / M half".
func ParseBaths(s string) (float64, bool) {
	if m := fullHalfRe.FindStringSubmatch(s); m != nil {
		full, _ := strconv.Atoi(m[1])
		half := 0
		if m[2] != "" {
			half, _ = strconv.Atoi(m[2])
		}
		v := float64(full) + 0.5*float64(half)
		if v < 0 || v > model.MaxBaths {
			return 0, false
		}
		return v, true
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || v < 0 || v > model.MaxBaths {
		return 0, false
	}
	return v, true
}

// ParseSqft strips commas and enforces the plausible range.
func ParseSqft(s string) (int, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil || v < model.MinSqft || v > model.MaxSqft {
		return 0, false
	}
	return v, true
}

// ParseLotSize returns the size and its unit, distinguishing acre
// figures from square-foot figures by the text.
func ParseLotSize(s string) (float64, model.LotUnit, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, "", false
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "acre"):
		return v, model.LotUnitAcres, true
	case strings.Contains(lower, "sq"):
		return v, model.LotUnitSqft, true
	case v < 100:
		// Small bare numbers read as acreage.
		return v, model.LotUnitAcres, true
	default:
		return v, model.LotUnitSqft, true
	}
}

func (p *Parser) parseYear(s string) (int, bool) {
	m := yearRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, _ := strconv.Atoi(m)
	if v < model.MinYearBuilt || v > p.now().Year()+1 {
		return 0, false
	}
	return v, true
}

var addressRe = regexp.MustCompile(`^(.*?),\s*([^,]+),\s*([A-Z]{2})\s+(\d{5}(?:-\d{4})?)$`)

// parseAddress splits "street, city, ST 85001" formatted text. Text
// that does not match keeps the whole string as the street line.
func parseAddress(s string) model.Address {
	s = NormalizeText(s)
	if m := addressRe.FindStringSubmatch(s); m != nil {
		return model.Address{
			Street:  strings.TrimSpace(m[1]),
			City:    strings.TrimSpace(m[2]),
			State:   m[3],
			Zipcode: m[4],
		}
	}
	return model.Address{Street: s}
}
