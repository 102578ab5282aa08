package classify

// DefaultRules covers the failure modes seen on county portals and MLS
// search frontends. Order does not matter; priority resolution happens
// in Classify.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "rate-limit-429",
			Kind:           KindRateLimit,
			StatusCodes:    []int{429},
			Confidence:     0.95,
		},
		{
			Name:           "rate-limit-text",
			Kind:           KindRateLimit,
			BodySubstrings: []string{"rate limit", "too many requests", "slow down"},
			Confidence:     0.80,
		},
		{
			Name:       "rate-limit-remaining-zero",
			Kind:       KindRateLimit,
			Headers:    map[string]string{"X-RateLimit-Remaining": "0"},
			Confidence: 0.90,
		},
		{
			Name:        "rate-limit-503-retry-after",
			Kind:        KindRateLimit,
			StatusCodes: []int{503},
			Headers:     map[string]string{"Retry-After": "*"},
			Confidence:  0.85,
		},
		{
			Name:           "blocked-cloudflare",
			Kind:           KindBlockedIP,
			StatusCodes:    []int{403, 503},
			BodySubstrings: []string{"cloudflare", "attention required", "checking your browser"},
			Confidence:     0.90,
		},
		{
			Name:           "blocked-waf-403",
			Kind:           KindBlockedIP,
			StatusCodes:    []int{403},
			BodySubstrings: []string{"access denied", "forbidden", "blocked"},
			Confidence:     0.80,
		},
		{
			Name:        "session-login-redirect",
			Kind:        KindSessionExpired,
			URLPatterns: []string{"/login", "/signin", "/auth/login"},
			Confidence:  0.85,
		},
		{
			Name:           "session-expired-text",
			Kind:           KindSessionExpired,
			BodySubstrings: []string{"session expired", "session has expired", "please log in again"},
			Confidence:     0.85,
		},
		{
			Name:       "captcha-recaptcha",
			Kind:       KindCaptcha,
			Selectors:  []string{".g-recaptcha", "iframe[src*='recaptcha']", "#recaptcha"},
			Confidence: 0.95,
		},
		{
			Name:           "captcha-recaptcha-v3",
			Kind:           KindCaptcha,
			BodySubstrings: []string{"recaptcha/api.js?render=", "grecaptcha.execute"},
			Confidence:     0.90,
		},
		{
			Name:       "captcha-hcaptcha",
			Kind:       KindCaptcha,
			Selectors:  []string{".h-captcha", "iframe[src*='hcaptcha']"},
			Confidence: 0.95,
		},
		{
			Name:           "captcha-text",
			Kind:           KindCaptcha,
			BodySubstrings: []string{"verify you are human", "complete the captcha", "are you a robot"},
			Confidence:     0.75,
		},
		{
			Name:           "maintenance",
			Kind:           KindMaintenance,
			BodySubstrings: []string{"scheduled maintenance", "under maintenance", "temporarily unavailable for maintenance"},
			Confidence:     0.85,
		},
		{
			Name:        "auth-401",
			Kind:        KindAuth,
			StatusCodes: []int{401},
			Confidence:  0.95,
		},
		{
			// Some portals answer 200 with a login error page.
			Name:           "auth-text",
			Kind:           KindAuth,
			BodySubstrings: []string{"invalid credentials", "account locked", "session has been terminated"},
			Confidence:     0.8,
		},
		{
			Name:        "not-found",
			Kind:        KindNotFound,
			StatusCodes: []int{404, 410},
			Confidence:  0.95,
		},
		{
			Name:        "server-error",
			Kind:        KindServerError,
			StatusCodes: []int{-500},
			Confidence:  0.70,
		},
	}
}
