package captcha

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type detector struct {
	typ      Type
	selector string
	keyAttr  string
}

// detectors are tried in order; the first hit wins.
var detectors = []detector{
	{TypeHCaptcha, ".h-captcha", "data-sitekey"},
	{TypeHCaptcha, "iframe[src*='hcaptcha.com']", ""},
	{TypeRecaptchaV2, ".g-recaptcha", "data-sitekey"},
	{TypeRecaptchaV2, "iframe[src*='recaptcha']", ""},
	{TypeImage, "img[src*='captcha']", ""},
	{TypeImage, "input[name*='captcha']", ""},
}

// DetectHTML inspects page HTML for a challenge. Returns nil when the
// page is clean.
func DetectHTML(html, pageURL string) (*Challenge, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &DetectionError{Err: err}
	}

	// v3 loads invisibly; the script tag is the only marker.
	if key := recaptchaV3Key(html); key != "" {
		return &Challenge{Type: TypeRecaptchaV3, SiteKey: key, PageURL: pageURL}, nil
	}

	for _, d := range detectors {
		sel := doc.Find(d.selector)
		if sel.Length() == 0 {
			continue
		}
		ch := &Challenge{Type: d.typ, PageURL: pageURL}
		if d.keyAttr != "" {
			ch.SiteKey, _ = sel.First().Attr(d.keyAttr)
		}
		if ch.SiteKey == "" {
			ch.SiteKey = siteKeyFromIframe(sel)
		}
		return ch, nil
	}
	return nil, nil
}

func recaptchaV3Key(html string) string {
	const marker = "recaptcha/api.js?render="
	i := strings.Index(html, marker)
	if i < 0 {
		return ""
	}
	rest := html[i+len(marker):]
	end := strings.IndexAny(rest, `"'&`)
	if end < 0 {
		return ""
	}
	key := rest[:end]
	if key == "explicit" {
		return ""
	}
	return key
}

func siteKeyFromIframe(sel *goquery.Selection) string {
	src, ok := sel.First().Attr("src")
	if !ok {
		return ""
	}
	for _, param := range []string{"k=", "sitekey="} {
		if i := strings.Index(src, param); i >= 0 {
			rest := src[i+len(param):]
			if end := strings.IndexAny(rest, "&#"); end >= 0 {
				return rest[:end]
			}
			return rest
		}
	}
	return ""
}
