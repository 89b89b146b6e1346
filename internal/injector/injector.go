// Package injector applies a solve token back into the page. Each challenge
// variant exposes a different completion hook, so injection is an exhaustive
// dispatch on the challenge type rather than a single strategy. Injection
// never fails the surrounding form flow: a missing target or unknown variant
// reports false and the caller proceeds with submission anyway.
package injector

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/applypilot/captcha-bridge/internal/captcha"
	"github.com/applypilot/captcha-bridge/internal/page"
)

// Hidden response field selectors, in probe order per variant.
var (
	recaptchaFieldSelectors = []string{
		`textarea[name="g-recaptcha-response"]`,
		`input[name="g-recaptcha-response"]`,
	}
	hcaptchaFieldSelectors = []string{
		`textarea[name="h-captcha-response"]`,
		`input[name="h-captcha-response"]`,
	}
)

// GlobalTokenSlot is the page-global slot used for the script-injected
// variant when no hidden response field exists yet. A later form-submission
// read can still pick the token up from there.
const GlobalTokenSlot = "__captchaToken"

// Inject applies token into the page using the strategy for the given
// challenge type. It returns true when an injection point was found and the
// value applied. It never returns an error to the caller; failures are
// logged and reported as false.
func Inject(ctx context.Context, sess page.Session, typ captcha.ChallengeType, token string) bool {
	var ok bool
	switch typ {
	case captcha.TypeRecaptchaV2:
		ok = injectRecaptchaV2(ctx, sess, token)
	case captcha.TypeRecaptchaV3:
		ok = injectRecaptchaV3(ctx, sess, token)
	case captcha.TypeHCaptcha:
		ok = injectHCaptcha(ctx, sess, token)
	default:
		log.Warnf("no injection strategy for challenge type %q", typ)
		return false
	}

	if !ok {
		log.WithField("challenge_type", typ.String()).Warn("no injection target found, form will submit without token")
	}
	return ok
}

// injectRecaptchaV2 prefers the widget's registered callback: when the
// runtime exposes the instance-to-callback lookup, invoking it lets the
// widget finish exactly as a human solve would. The hidden response field is
// the fallback, with input/change events so bound listeners fire.
func injectRecaptchaV2(ctx context.Context, sess page.Session, token string) bool {
	if name, found, err := sess.WidgetCallback(ctx); err == nil && found && name != "" {
		invoked, err := sess.InvokeFunction(ctx, name, token)
		if err != nil {
			log.Debugf("widget callback %s invocation failed: %v", name, err)
		} else if invoked {
			return true
		}
	}

	return setFirstField(ctx, sess, recaptchaFieldSelectors, token, true)
}

// injectRecaptchaV3 has no reliable callback hook; the hidden field is the
// primary path. When the page has not created the field yet, the token is
// parked in a well-known global slot instead.
func injectRecaptchaV3(ctx context.Context, sess page.Session, token string) bool {
	if setFirstField(ctx, sess, recaptchaFieldSelectors, token, true) {
		return true
	}
	if err := sess.SetGlobal(ctx, GlobalTokenSlot, token); err != nil {
		log.Debugf("storing token in global slot failed: %v", err)
		return false
	}
	return true
}

// injectHCaptcha sets the hidden response field and additionally invokes the
// container's declared callback attribute when one is present.
func injectHCaptcha(ctx context.Context, sess page.Session, token string) bool {
	ok := setFirstField(ctx, sess, hcaptchaFieldSelectors, token, true)
	if !ok {
		return false
	}

	if name := containerCallback(ctx, sess); name != "" {
		if _, err := sess.InvokeFunction(ctx, name, token); err != nil {
			log.Debugf("hcaptcha callback %s invocation failed: %v", name, err)
		}
	}
	return true
}

func setFirstField(ctx context.Context, sess page.Session, selectors []string, token string, notify bool) bool {
	for _, sel := range selectors {
		found, err := sess.SetField(ctx, sel, token, notify)
		if err != nil {
			log.Debugf("setting field %s failed: %v", sel, err)
			continue
		}
		if found {
			return true
		}
	}
	return false
}

// containerCallback reads the data-callback attribute off the hCaptcha
// container, if declared.
func containerCallback(ctx context.Context, sess page.Session) string {
	root, err := sess.Snapshot(ctx)
	if err != nil {
		return ""
	}
	container := page.FindFirst(root, page.ByClass("h-captcha"))
	if container == nil {
		return ""
	}
	name, _ := page.Attr(container, "data-callback")
	return name
}
