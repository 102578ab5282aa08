// Package captcha detects challenges on rendered pages, solves them
// through an external solver service, and injects the solution back
// into the page.
package captcha

import (
	"fmt"
	"time"
)

// Type identifies the challenge variant.
type Type string

const (
	TypeRecaptchaV2 Type = "recaptcha_v2"
	TypeRecaptchaV3 Type = "recaptcha_v3"
	TypeHCaptcha    Type = "hcaptcha"
	TypeImage       Type = "image"
	TypeUnknown     Type = "unknown"
)

// Challenge is a detected captcha on a page.
type Challenge struct {
	Type    Type   `json:"type"`
	SiteKey string `json:"site_key,omitempty"`
	PageURL string `json:"page_url"`
	// ImageB64 holds the challenge image for image captchas.
	ImageB64 string `json:"image_b64,omitempty"`
}

// Solution is the solver's answer, ready to apply.
type Solution struct {
	Token     string        `json:"token"`
	Type      Type          `json:"type"`
	SolvedIn  time.Duration `json:"solved_in"`
	TaskID    string        `json:"task_id"`
	CostCents float64       `json:"cost_cents,omitempty"`
}

// Error is the base failure for captcha operations.
type Error struct {
	Stage string
	Type  Type
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("captcha %s (%s): %v", e.Stage, e.Type, e.Err)
	}
	return fmt.Sprintf("captcha %s (%s)", e.Stage, e.Type)
}

func (e *Error) Unwrap() error { return e.Err }

// DetectionError signals the page could not be inspected.
type DetectionError struct{ Err error }

func (e *DetectionError) Error() string { return fmt.Sprintf("captcha detection: %v", e.Err) }
func (e *DetectionError) Unwrap() error { return e.Err }

// SolvingError signals the solver service failed or timed out.
type SolvingError struct {
	Type   Type
	TaskID string
	Err    error
}

func (e *SolvingError) Error() string {
	return fmt.Sprintf("captcha solving (%s, task %s): %v", e.Type, e.TaskID, e.Err)
}
func (e *SolvingError) Unwrap() error { return e.Err }
