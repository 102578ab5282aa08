// Package classify pattern-matches HTTP responses and rendered pages into
// the scrape error taxonomy and recommends a recovery action.
package classify

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Kind is the classified error category.
type Kind string

const (
	KindRateLimit      Kind = "rate_limit"
	KindBlockedIP      Kind = "blocked_ip"
	KindSessionExpired Kind = "session_expired"
	KindCaptcha        Kind = "captcha"
	KindMaintenance    Kind = "maintenance"
	KindAuth           Kind = "auth"
	KindNotFound       Kind = "not_found"
	KindServerError    Kind = "server_error"
	KindUnknown        Kind = "unknown"
)

// Action is the recommended recovery.
type Action string

const (
	ActionRetry        Action = "retry"
	ActionWait         Action = "wait"
	ActionSwitchProxy  Action = "switch_proxy"
	ActionReauth       Action = "reauth"
	ActionSolveCaptcha Action = "solve_captcha"
	ActionWaitLong     Action = "wait_long"
	ActionSkip         Action = "skip"
)

// kindPriority resolves the dominant error when multiple rules match.
// Lower index wins.
var kindPriority = []Kind{
	KindCaptcha,
	KindRateLimit,
	KindBlockedIP,
	KindSessionExpired,
	KindMaintenance,
	KindAuth,
	KindServerError,
	KindNotFound,
	KindUnknown,
}

// kindActions maps each kind to its default recovery.
var kindActions = map[Kind]Action{
	KindCaptcha:        ActionSolveCaptcha,
	KindRateLimit:      ActionWait,
	KindBlockedIP:      ActionSwitchProxy,
	KindSessionExpired: ActionReauth,
	KindMaintenance:    ActionWaitLong,
	KindAuth:           ActionReauth,
	KindServerError:    ActionRetry,
	KindNotFound:       ActionSkip,
	KindUnknown:        ActionRetry,
}

// Rule declares one matcher. All non-empty matcher groups must hit for the
// rule to match (AND across groups, OR within a group).
type Rule struct {
	Name           string
	Kind           Kind
	StatusCodes    []int
	Headers        map[string]string // name -> exact value; "*" matches presence
	BodySubstrings []string          // case-insensitive
	Selectors      []string          // CSS selectors present on the page
	URLPatterns    []string          // substring match against the URL
	Confidence     float64
}

// Input is one response to classify. Body is the raw or rendered page
// text; Doc is parsed lazily when a rule needs selectors.
type Input struct {
	StatusCode int
	Header     http.Header
	Body       string
	URL        string

	doc    *goquery.Document
	docErr error
}

func (in *Input) document() *goquery.Document {
	if in.doc == nil && in.docErr == nil {
		in.doc, in.docErr = goquery.NewDocumentFromReader(strings.NewReader(in.Body))
	}
	return in.doc
}

// Context carries structured details extracted alongside the match.
type Context struct {
	StatusCode      int           `json:"status_code,omitempty"`
	URL             string        `json:"url,omitempty"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	BlockType       string        `json:"block_type,omitempty"`
	CaptchaType     string        `json:"captcha_type,omitempty"`
	MaintenanceWait time.Duration `json:"maintenance_wait,omitempty"`
}

// Detected is the classification outcome.
type Detected struct {
	Kind       Kind    `json:"kind"`
	Rule       string  `json:"rule"`
	Confidence float64 `json:"confidence"`
	Action     Action  `json:"action"`
	Context    Context `json:"context"`
}

// Classifier evaluates a rule set against responses.
type Classifier struct {
	rules []Rule
}

// New creates a classifier. With no rules it uses the default set.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify evaluates every rule, collects matches, and resolves the
// dominant error by the fixed priority order, tie-broken by confidence.
// Returns nil when nothing matches.
func (c *Classifier) Classify(in *Input) *Detected {
	var matches []Detected
	for _, r := range c.rules {
		if c.matches(r, in) {
			matches = append(matches, Detected{
				Kind:       r.Kind,
				Rule:       r.Name,
				Confidence: r.Confidence,
				Action:     kindActions[r.Kind],
				Context:    buildContext(r.Kind, in),
			})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	for _, m := range matches[1:] {
		pm, pb := priorityOf(m.Kind), priorityOf(best.Kind)
		if pm < pb || (pm == pb && m.Confidence > best.Confidence) {
			best = m
		}
	}
	return &best
}

func priorityOf(k Kind) int {
	for i, p := range kindPriority {
		if p == k {
			return i
		}
	}
	return len(kindPriority)
}

func (c *Classifier) matches(r Rule, in *Input) bool {
	if len(r.StatusCodes) > 0 {
		hit := false
		for _, s := range r.StatusCodes {
			if in.StatusCode == s || (s == -500 && in.StatusCode >= 500) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if len(r.Headers) > 0 {
		for name, want := range r.Headers {
			got := in.Header.Get(name)
			if got == "" {
				return false
			}
			if want != "*" && !strings.EqualFold(got, want) {
				return false
			}
		}
	}

	if len(r.BodySubstrings) > 0 {
		lower := strings.ToLower(in.Body)
		hit := false
		for _, sub := range r.BodySubstrings {
			if strings.Contains(lower, strings.ToLower(sub)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if len(r.Selectors) > 0 {
		doc := in.document()
		if doc == nil {
			return false
		}
		hit := false
		for _, sel := range r.Selectors {
			if doc.Find(sel).Length() > 0 {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if len(r.URLPatterns) > 0 {
		hit := false
		for _, pat := range r.URLPatterns {
			if strings.Contains(in.URL, pat) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	return true
}

var (
	maintenanceWaitRe = regexp.MustCompile(`(?i)(?:back|available|return)[^0-9]{0,20}(\d{1,3})\s*(minute|min|hour|hr)`)
	waitSecondsRe     = regexp.MustCompile(`(?i)(?:wait|retry)[^0-9]{0,20}(\d{1,5})\s*second`)
)

func buildContext(kind Kind, in *Input) Context {
	ctx := Context{StatusCode: in.StatusCode, URL: in.URL}

	switch kind {
	case KindRateLimit:
		ctx.RetryAfter = retryAfter(in)
	case KindBlockedIP:
		ctx.BlockType = blockType(in)
	case KindCaptcha:
		ctx.CaptchaType = captchaType(in)
	case KindMaintenance:
		ctx.MaintenanceWait = maintenanceWait(in.Body)
	}
	return ctx
}

// retryAfter reads the Retry-After header, falling back to wait text in
// the body and finally a 60s default.
func retryAfter(in *Input) time.Duration {
	if v := in.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	if m := waitSecondsRe.FindStringSubmatch(in.Body); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

func blockType(in *Input) string {
	lower := strings.ToLower(in.Body)
	switch {
	case in.Header.Get("cf-ray") != "" || strings.Contains(lower, "cloudflare"):
		return "cloudflare"
	case strings.Contains(lower, "akamai"):
		return "akamai"
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "forbidden"):
		return "waf"
	default:
		return "unknown"
	}
}

func captchaType(in *Input) string {
	lower := strings.ToLower(in.Body)
	switch {
	case strings.Contains(lower, "recaptcha/api.js?render="), strings.Contains(lower, "grecaptcha.execute"):
		return "recaptcha_v3"
	case strings.Contains(lower, "g-recaptcha"), strings.Contains(lower, "recaptcha"):
		return "recaptcha_v2"
	case strings.Contains(lower, "h-captcha"), strings.Contains(lower, "hcaptcha"):
		return "hcaptcha"
	case strings.Contains(lower, "captcha"):
		return "image"
	default:
		return "unknown"
	}
}

func maintenanceWait(body string) time.Duration {
	m := maintenanceWaitRe.FindStringSubmatch(body)
	if m == nil {
		return 30 * time.Minute
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 30 * time.Minute
	}
	unit := strings.ToLower(m[2])
	if strings.HasPrefix(unit, "hour") || strings.HasPrefix(unit, "hr") {
		return time.Duration(n) * time.Hour
	}
	return time.Duration(n) * time.Minute
}
