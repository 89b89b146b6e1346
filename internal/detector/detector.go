// Package detector locates CAPTCHA widgets in a rendered document and
// extracts the challenge variant and site key the solving service needs.
// Detection is a pure read of the page: one scan after a settling delay,
// plus a single delayed retry, never a continuous poll.
package detector

import (
	"context"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/applypilot/captcha-bridge/internal/captcha"
	"github.com/applypilot/captcha-bridge/internal/page"
)

// State classifies a detection outcome.
type State string

const (
	// StateFound means a complete descriptor (type and site key) was extracted.
	StateFound State = "found"

	// StatePartial means the challenge type is known but the site key is not
	// yet resolvable. Callers must treat this as "retry detection", never as
	// a solvable request.
	StatePartial State = "partial"

	// StateMiss means no challenge marker is present. Not an error.
	StateMiss State = "miss"
)

// Outcome is the result of one detection pass.
type Outcome struct {
	State      State
	Descriptor *captcha.Descriptor
}

// RuntimeGlobal is the script-injected widget API object probed for the
// partial-detection signal when no script tag carries a site key.
const RuntimeGlobal = "grecaptcha"

// Config controls detection timing.
type Config struct {
	// SettleDelay is how long to wait after page load before the first scan,
	// allowing late-injected widgets to render.
	SettleDelay time.Duration

	// RetryDelay is the wait before the single retry scan.
	RetryDelay time.Duration
}

// DefaultConfig returns the stock detection timing.
func DefaultConfig() Config {
	return Config{
		SettleDelay: time.Second,
		RetryDelay:  2 * time.Second,
	}
}

// Detector scans a page for known challenge widgets.
type Detector struct {
	cfg Config
}

// New creates a detector with the given timing configuration.
func New(cfg Config) *Detector {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultConfig().SettleDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Detector{cfg: cfg}
}

// Detect waits for the page to settle, scans once, and retries once after a
// delay if the scan did not produce a complete descriptor. It returns the
// outcome of the final scan.
func (d *Detector) Detect(ctx context.Context, insp page.Inspector) (Outcome, error) {
	if err := sleepCtx(ctx, d.cfg.SettleDelay); err != nil {
		return Outcome{State: StateMiss}, err
	}

	outcome, err := d.Scan(ctx, insp)
	if err != nil {
		return outcome, err
	}
	if outcome.State == StateFound {
		return outcome, nil
	}

	// One delayed retry; late-injected widgets get a second chance without
	// masking a genuine no-challenge page as stuck-pending.
	log.Debugf("detection %s on first scan, retrying in %s", outcome.State, d.cfg.RetryDelay)
	if err := sleepCtx(ctx, d.cfg.RetryDelay); err != nil {
		return outcome, err
	}
	return d.Scan(ctx, insp)
}

// Scan performs a single detection pass over the current document.
func (d *Detector) Scan(ctx context.Context, insp page.Inspector) (Outcome, error) {
	root, err := insp.Snapshot(ctx)
	if err != nil {
		return Outcome{State: StateMiss}, err
	}
	pageURL := insp.URL()

	if desc := scanRecaptchaV2(root, pageURL); desc != nil {
		return Outcome{State: StateFound, Descriptor: desc}, nil
	}
	if desc := scanHCaptcha(root, pageURL); desc != nil {
		return Outcome{State: StateFound, Descriptor: desc}, nil
	}
	if desc := scanRecaptchaV3(root, pageURL); desc != nil {
		return Outcome{State: StateFound, Descriptor: desc}, nil
	}

	// No script tag carries a render key, but the widget runtime may already
	// be injected. Report the type with an empty key so the caller retries
	// instead of treating this as a clean miss.
	ok, err := insp.HasGlobal(ctx, RuntimeGlobal)
	if err != nil {
		return Outcome{State: StateMiss}, err
	}
	if ok {
		return Outcome{
			State:      StatePartial,
			Descriptor: &captcha.Descriptor{Type: captcha.TypeRecaptchaV3, PageURL: pageURL},
		}, nil
	}

	return Outcome{State: StateMiss}, nil
}

// scanRecaptchaV2 looks for the checkbox-style widget. The site key is read
// from the container's data-sitekey attribute first; a key recovered from a
// widget iframe's k= query parameter overwrites it, because iframe URLs are
// harder for the page to obscure than DOM attributes.
func scanRecaptchaV2(root *html.Node, pageURL string) *captcha.Descriptor {
	siteKey := ""

	for _, n := range findSiteKeyElements(root) {
		if page.HasClass(n, "h-captcha") {
			continue
		}
		if key, ok := page.Attr(n, "data-sitekey"); ok && key != "" {
			siteKey = key
			break
		}
	}

	matched := siteKey != ""
	for _, frame := range page.FindAll(root, page.And(page.ByTag("iframe"), page.ByAttrContains("src", "recaptcha"))) {
		matched = true
		src, _ := page.Attr(frame, "src")
		if key := queryParam(src, "k"); key != "" {
			siteKey = key
			break
		}
	}

	if !matched || siteKey == "" {
		return nil
	}
	return &captcha.Descriptor{Type: captcha.TypeRecaptchaV2, SiteKey: siteKey, PageURL: pageURL}
}

// scanHCaptcha mirrors scanRecaptchaV2 restricted to the hCaptcha selector set.
func scanHCaptcha(root *html.Node, pageURL string) *captcha.Descriptor {
	siteKey := ""

	for _, n := range page.FindAll(root, page.ByClass("h-captcha")) {
		if key, ok := page.Attr(n, "data-sitekey"); ok && key != "" {
			siteKey = key
			break
		}
	}

	matched := siteKey != ""
	for _, frame := range page.FindAll(root, page.And(page.ByTag("iframe"), page.ByAttrContains("src", "hcaptcha"))) {
		matched = true
		src, _ := page.Attr(frame, "src")
		if key := queryParam(src, "k"); key != "" {
			siteKey = key
			break
		}
	}

	if !matched || siteKey == "" {
		return nil
	}
	return &captcha.Descriptor{Type: captcha.TypeHCaptcha, SiteKey: siteKey, PageURL: pageURL}
}

// scanRecaptchaV3 recovers the site key from the render= query parameter of
// the injected loader script.
func scanRecaptchaV3(root *html.Node, pageURL string) *captcha.Descriptor {
	for _, script := range page.FindAll(root, page.And(page.ByTag("script"), page.ByAttrContains("src", "recaptcha"))) {
		src, _ := page.Attr(script, "src")
		key := queryParam(src, "render")
		// render=explicit marks a v2 explicit-render load, not a v3 key.
		if key == "" || key == "explicit" || key == "onload" {
			continue
		}
		return &captcha.Descriptor{Type: captcha.TypeRecaptchaV3, SiteKey: key, PageURL: pageURL}
	}
	return nil
}

// findSiteKeyElements returns candidate widget containers: anything carrying
// a data-sitekey attribute plus explicit g-recaptcha containers.
func findSiteKeyElements(root *html.Node) []*html.Node {
	nodes := page.FindAll(root, page.ByClass("g-recaptcha"))
	for _, n := range page.FindAll(root, page.ByAttr("data-sitekey")) {
		if !page.HasClass(n, "g-recaptcha") {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func queryParam(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
