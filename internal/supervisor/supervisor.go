// Package supervisor runs the page-side solve pipeline for one page load:
// detect the challenge, gate on bridge health, relay the solve request, and
// inject the returned token. The pipeline never aborts the surrounding form
// flow; every outcome, including a failed or skipped solve, ends with
// "proceed with submission".
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/applypilot/captcha-bridge/internal/captcha"
	"github.com/applypilot/captcha-bridge/internal/detector"
	"github.com/applypilot/captcha-bridge/internal/injector"
	"github.com/applypilot/captcha-bridge/internal/page"
	"github.com/applypilot/captcha-bridge/internal/relay"
)

// DetectionMarker is the page-global slot carrying the passive detection
// record, so in-page tooling can observe what the pipeline found.
const DetectionMarker = "__captchaDetection"

// Bridge is the slice of the relay client the session needs.
type Bridge interface {
	Health(ctx context.Context) bool
	Solve(ctx context.Context, desc captcha.Descriptor) (*relay.SolveOutcome, error)
}

// HealthGate answers the pre-solve reachability question.
type HealthGate interface {
	Healthy(ctx context.Context) bool
}

// Outcome summarizes one session run for the form-fill caller. Proceed is
// always true: an unsolved challenge never blocks submission.
type Outcome struct {
	Detection detector.State
	Result    *captcha.Result
	Injected  bool
	Proceed   bool
}

// Session is the per-page-load pipeline state. It tracks at most one
// in-flight solve request and its terminal result; nothing survives past the
// page, so a stale token can never be reused on a later load.
type Session struct {
	bridge Bridge
	gate   HealthGate
	det    *detector.Detector

	mu       sync.Mutex
	ran      bool
	disabled bool
	result   *captcha.Result
	injected bool
}

// NewSession creates a session for one page load.
func NewSession(bridge Bridge, gate HealthGate, det *detector.Detector) *Session {
	return &Session{bridge: bridge, gate: gate, det: det}
}

// Run executes the pipeline against the page. It is single-shot: a session
// that already ran reports its recorded outcome instead of solving again.
// Cancelling ctx (page navigated or closed) abandons the page side; the
// bridge may still drive the solve to completion and discard the result.
func (s *Session) Run(ctx context.Context, sess page.Session) Outcome {
	s.mu.Lock()
	if s.ran {
		defer s.mu.Unlock()
		return Outcome{Result: s.result, Injected: s.injected, Proceed: true}
	}
	s.ran = true
	s.mu.Unlock()

	start := time.Now()
	outcome := Outcome{Detection: detector.StateMiss, Proceed: true}

	det, err := s.det.Detect(ctx, sess)
	if err != nil {
		log.Debugf("detection aborted: %v", err)
		return outcome
	}
	outcome.Detection = det.State

	switch det.State {
	case detector.StateMiss:
		// Normal outcome, not an error.
		log.Debug("no challenge present on page")
		return outcome
	case detector.StatePartial:
		log.WithField("challenge_type", det.Descriptor.Type.String()).
			Info("challenge type detected but site key not yet resolvable, skipping solve")
		return outcome
	}

	desc := *det.Descriptor
	s.instrument(ctx, sess, desc)

	logger := log.WithField("challenge_type", desc.Type.String())

	if s.isDisabled() {
		logger.Warn("solving disabled for this session, submitting unsolved")
		return outcome
	}
	if !s.gate.Healthy(ctx) {
		s.disable()
		logger.Warn("bridge not reachable, disabling solving for this session")
		return outcome
	}

	result := s.solve(ctx, desc, logger)
	outcome.Result = &result

	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()

	if result.OK() && ctx.Err() == nil {
		outcome.Injected = injector.Inject(ctx, sess, desc.Type, result.Token)
		s.mu.Lock()
		s.injected = outcome.Injected
		s.mu.Unlock()
	}

	logger.WithFields(log.Fields{
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
		"status":   result.String(),
		"injected": outcome.Injected,
	}).Info("solve pipeline finished")

	return outcome
}

func (s *Session) solve(ctx context.Context, desc captcha.Descriptor, logger *log.Entry) captcha.Result {
	answer, err := s.bridge.Solve(ctx, desc)
	if err != nil {
		var unreachable *relay.ErrUnreachable
		if errors.As(err, &unreachable) {
			s.disable()
			logger.Warnf("bridge became unreachable mid-session: %v", err)
		} else {
			logger.Errorf("solve call failed: %v", err)
		}
		return captcha.Failed(captcha.ReasonProviderError)
	}

	if !answer.Success {
		return captcha.Failed(failureReason(answer.Error))
	}
	return captcha.Solved(answer.Solution)
}

// instrument leaves a passive detection record in the page. Failures are
// irrelevant to the pipeline.
func (s *Session) instrument(ctx context.Context, sess page.Session, desc captcha.Descriptor) {
	record, _ := sjson.Set("{}", "challenge_type", desc.Type.String())
	record, _ = sjson.Set(record, "site_identifier", desc.SiteKey)
	record, _ = sjson.Set(record, "page_url", desc.PageURL)
	if err := sess.SetGlobal(ctx, DetectionMarker, record); err != nil {
		log.Debugf("detection instrumentation failed: %v", err)
	}
}

func (s *Session) isDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func (s *Session) disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}

// failureReason maps a bridge error string back onto the failure taxonomy,
// defaulting to provider_error for anything unrecognized.
func failureReason(errStr string) captcha.FailureReason {
	switch captcha.FailureReason(errStr) {
	case captcha.ReasonTimeout, captcha.ReasonInvalidChallenge, captcha.ReasonNoBalance, captcha.ReasonProviderError:
		return captcha.FailureReason(errStr)
	default:
		return captcha.ReasonProviderError
	}
}
