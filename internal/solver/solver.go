// Package solver drives the external CAPTCHA solving service. A solve is an
// asynchronous job on the provider side: submit the challenge, then poll
// until a token arrives, the total-wait ceiling elapses, or the provider
// reports a terminal condition. The transient/permanent split matters here:
// "not ready yet" and network hiccups are tolerated inside the budget, while
// balance and site-key errors surface immediately because retrying them only
// burns latency.
package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/applypilot/captcha-bridge/internal/captcha"
)

// DefaultBaseURL is the stock provider endpoint.
const DefaultBaseURL = "http://2captcha.com"

// Provider status codes that terminate a solve without retry.
const (
	codeNotReady        = "CAPCHA_NOT_READY"
	codeZeroBalance     = "ERROR_ZERO_BALANCE"
	codeWrongGoogleKey  = "ERROR_WRONG_GOOGLEKEY"
	codeWrongSiteKey    = "ERROR_WRONG_SITEKEY"
	codeWrongUserKey    = "ERROR_WRONG_USER_KEY"
	codeKeyDoesNotExist = "ERROR_KEY_DOES_NOT_EXIST"
	codeUnsolvable      = "ERROR_CAPTCHA_UNSOLVABLE"
	codeWrongCaptchaID  = "ERROR_WRONG_CAPTCHA_ID"
)

// defaultRecaptchaV3Action is used when the caller does not specify one.
const defaultRecaptchaV3Action = "submit"

// Config controls provider access and polling behavior.
type Config struct {
	// APIKey authenticates against the solving service.
	APIKey string

	// BaseURL is the provider endpoint; DefaultBaseURL when empty.
	BaseURL string

	// PollInterval is the wait between result polls.
	PollInterval time.Duration

	// MaxWait is the total-wait ceiling for one solve.
	MaxWait time.Duration

	// RetryAttempts is how many consecutive transient poll failures are
	// tolerated before the solve fails with provider_error.
	RetryAttempts int

	// RequestTimeout bounds a single HTTP exchange with the provider.
	RequestTimeout time.Duration
}

// DefaultConfig returns polling defaults matched to the provider's typical
// 10-30 second solve latency.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		PollInterval:   5 * time.Second,
		MaxWait:        2 * time.Minute,
		RetryAttempts:  3,
		RequestTimeout: 30 * time.Second,
	}
}

// Resolver is the solve surface the relay depends on.
type Resolver interface {
	// Resolve submits the challenge and drives it to a terminal Result.
	Resolve(ctx context.Context, desc captcha.Descriptor) captcha.Result

	// Balance reports the solving account balance in USD.
	Balance(ctx context.Context) (float64, error)
}

// PollOutcome is one poll's verdict: still pending, or terminal.
type PollOutcome struct {
	// Done is false while the provider is still working on the job.
	Done bool

	// Result is the terminal outcome; meaningful only when Done is true.
	Result captcha.Result
}

// Client talks the in.php/res.php wire protocol.
type Client struct {
	cfg  Config
	http *http.Client

	mu     sync.RWMutex
	apiKey string
}

// New creates a provider client. Missing config fields fall back to defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		cfg:    cfg,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// SetAPIKey replaces the provider key at runtime (config hot reload).
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// providerError is a terminal status code reported by the solving service.
type providerError struct {
	code string
}

func (e *providerError) Error() string {
	return "provider returned " + e.code
}

// reasonForCode maps a terminal provider code onto the failure taxonomy.
func reasonForCode(code string) captcha.FailureReason {
	switch code {
	case codeZeroBalance:
		return captcha.ReasonNoBalance
	case codeWrongGoogleKey, codeWrongSiteKey:
		return captcha.ReasonInvalidChallenge
	default:
		return captcha.ReasonProviderError
	}
}

// Resolve implements the full solve: submit, then poll on a fixed interval
// under the total-wait ceiling. "Not ready" polls never consume the retry
// budget; only consecutive transport failures do.
func (c *Client) Resolve(ctx context.Context, desc captcha.Descriptor) captcha.Result {
	start := time.Now()

	if c.key() == "" {
		log.Error("no solving service API key configured")
		return captcha.Failed(captcha.ReasonProviderError)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	jobID, err := c.Submit(ctx, desc)
	if err != nil {
		var perr *providerError
		if errors.As(err, &perr) {
			log.Errorf("challenge submission rejected: %s", perr.code)
			return captcha.Failed(reasonForCode(perr.code))
		}
		if ctx.Err() != nil {
			return captcha.Failed(captcha.ReasonTimeout)
		}
		log.Errorf("challenge submission failed: %v", err)
		return captcha.Failed(captcha.ReasonProviderError)
	}

	log.WithFields(log.Fields{
		"challenge_type": desc.Type.String(),
		"job_id":         jobID,
	}).Info("challenge submitted, polling for solution")

	transientFailures := 0
	for {
		if time.Since(start) >= c.cfg.MaxWait {
			return captcha.Failed(captcha.ReasonTimeout)
		}

		outcome, err := c.Poll(ctx, jobID)
		switch {
		case err != nil:
			var perr *providerError
			if errors.As(err, &perr) {
				return captcha.Failed(reasonForCode(perr.code))
			}
			if ctx.Err() != nil {
				return captcha.Failed(captcha.ReasonTimeout)
			}
			transientFailures++
			if transientFailures > c.cfg.RetryAttempts {
				log.Errorf("poll failed %d times in a row, giving up: %v", transientFailures, err)
				return captcha.Failed(captcha.ReasonProviderError)
			}
			log.Warnf("poll error (attempt %d/%d), retrying: %v", transientFailures, c.cfg.RetryAttempts, err)
		case outcome.Done:
			return outcome.Result
		default:
			// Still working provider-side; does not count against retries.
			transientFailures = 0
		}

		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return captcha.Failed(captcha.ReasonTimeout)
		}
	}
}

// Submit sends the challenge to the provider and returns the job identifier.
// A terminal provider code is returned as a *providerError.
func (c *Client) Submit(ctx context.Context, desc captcha.Descriptor) (string, error) {
	form := url.Values{
		"key":     {c.key()},
		"pageurl": {desc.PageURL},
		"json":    {"1"},
	}

	switch desc.Type {
	case captcha.TypeRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", desc.SiteKey)
	case captcha.TypeRecaptchaV3:
		action := desc.Action
		if action == "" {
			action = defaultRecaptchaV3Action
		}
		form.Set("method", "userrecaptcha")
		form.Set("version", "v3")
		form.Set("googlekey", desc.SiteKey)
		form.Set("action", action)
	case captcha.TypeHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", desc.SiteKey)
	default:
		return "", fmt.Errorf("unsupported challenge type: %q", desc.Type)
	}

	body, err := c.post(ctx, "/in.php", form)
	if err != nil {
		return "", err
	}

	if gjson.GetBytes(body, "status").Int() != 1 {
		return "", &providerError{code: gjson.GetBytes(body, "request").String()}
	}
	return gjson.GetBytes(body, "request").String(), nil
}

// Poll asks the provider for the job's status. "Not ready" maps to a pending
// outcome; terminal error codes come back as *providerError.
func (c *Client) Poll(ctx context.Context, jobID string) (PollOutcome, error) {
	body, err := c.get(ctx, "/res.php", url.Values{
		"key":    {c.key()},
		"action": {"get"},
		"id":     {jobID},
		"json":   {"1"},
	})
	if err != nil {
		return PollOutcome{}, err
	}

	request := gjson.GetBytes(body, "request").String()
	if gjson.GetBytes(body, "status").Int() == 1 {
		return PollOutcome{Done: true, Result: captcha.Solved(request)}, nil
	}

	if strings.Contains(request, codeNotReady) {
		return PollOutcome{}, nil
	}
	return PollOutcome{}, &providerError{code: request}
}

// Balance queries the solving account balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	body, err := c.get(ctx, "/res.php", url.Values{
		"key":    {c.key()},
		"action": {"getbalance"},
		"json":   {"1"},
	})
	if err != nil {
		return 0, err
	}

	request := gjson.GetBytes(body, "request").String()
	if gjson.GetBytes(body, "status").Int() != 1 {
		return 0, &providerError{code: request}
	}

	balance, err := strconv.ParseFloat(request, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable balance %q: %w", request, err)
	}
	return balance, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
