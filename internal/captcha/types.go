// Package captcha defines the challenge domain model shared by the detector,
// the relay bridge, the solver, and the injector. A challenge is identified by
// its variant and the per-deployment site key the solving service needs; a
// solve produces exactly one terminal Result per request.
package captcha

import (
	"fmt"
	"time"
)

// ChallengeType identifies a CAPTCHA widget variant.
type ChallengeType string

const (
	// TypeRecaptchaV2 is the synchronous checkbox-style widget.
	TypeRecaptchaV2 ChallengeType = "recaptcha_v2"

	// TypeRecaptchaV3 is the script-injected, score-based variant.
	TypeRecaptchaV3 ChallengeType = "recaptcha_v3"

	// TypeHCaptcha is the hCaptcha widget.
	TypeHCaptcha ChallengeType = "hcaptcha"
)

// ParseChallengeType validates a wire-format challenge type string.
func ParseChallengeType(s string) (ChallengeType, error) {
	switch ChallengeType(s) {
	case TypeRecaptchaV2, TypeRecaptchaV3, TypeHCaptcha:
		return ChallengeType(s), nil
	}
	return "", fmt.Errorf("unsupported challenge type: %q", s)
}

// String returns the wire-format name of the challenge type.
func (t ChallengeType) String() string {
	return string(t)
}

// Descriptor identifies one solvable challenge instance on a page.
// It is immutable once detected.
type Descriptor struct {
	// Type is the challenge variant.
	Type ChallengeType `json:"challenge_type"`

	// SiteKey is the per-deployment key the solving service solves against.
	SiteKey string `json:"site_identifier"`

	// PageURL is the URL of the page hosting the widget.
	PageURL string `json:"page_url"`

	// Action is the action name for recaptcha_v3; empty for other variants.
	Action string `json:"action,omitempty"`
}

// SolveRequest is one in-flight solve operation, owned by the solver from
// submission until a terminal Result is produced.
type SolveRequest struct {
	// ID is a unique token identifying this request.
	ID string `json:"request_id"`

	// Descriptor is the challenge being solved.
	Descriptor Descriptor `json:"descriptor"`

	// SubmittedAt is when the request entered the relay.
	SubmittedAt time.Time `json:"submitted_at"`
}

// FailureReason classifies a terminal solve failure.
type FailureReason string

const (
	// ReasonProviderError covers transport failures and provider-side errors
	// that exhausted the retry budget.
	ReasonProviderError FailureReason = "provider_error"

	// ReasonTimeout means the total-wait ceiling elapsed before a token arrived.
	ReasonTimeout FailureReason = "timeout"

	// ReasonInvalidChallenge means the provider rejected the site key. Permanent.
	ReasonInvalidChallenge FailureReason = "invalid_challenge"

	// ReasonNoBalance means the solving account has insufficient funds. Permanent.
	ReasonNoBalance FailureReason = "no_balance"
)

// Permanent reports whether retrying the same request can never succeed.
func (r FailureReason) Permanent() bool {
	return r == ReasonInvalidChallenge || r == ReasonNoBalance
}

// Result is the terminal outcome of one SolveRequest. Exactly one of the two
// variants is populated: a solved token, or a failure reason. A Result is
// immutable once produced.
type Result struct {
	// Token is the solution token when the challenge was solved.
	Token string `json:"token,omitempty"`

	// SolvedAt is when the token was obtained.
	SolvedAt time.Time `json:"solved_at,omitempty"`

	// Reason is set when the solve failed.
	Reason FailureReason `json:"reason,omitempty"`

	solved bool
}

// Solved constructs a successful Result carrying the solution token.
func Solved(token string) Result {
	return Result{Token: token, SolvedAt: time.Now(), solved: true}
}

// Failed constructs a terminal failure Result.
func Failed(reason FailureReason) Result {
	return Result{Reason: reason}
}

// OK reports whether the result carries a solution token.
func (r Result) OK() bool {
	return r.solved
}

// String renders the terminal status for logging.
func (r Result) String() string {
	if r.solved {
		return "solved"
	}
	return "failed:" + string(r.Reason)
}
