// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/applypilot/captcha-bridge/internal/captcha"
)

// ErrUnreachable marks a transport-level failure reaching the bridge, as
// opposed to a solve that ran and failed. Callers use it to latch the
// degraded no-solving mode for the rest of the session.
type ErrUnreachable struct {
	Err error
}

func (e *ErrUnreachable) Error() string {
	return "bridge unreachable: " + e.Err.Error()
}

func (e *ErrUnreachable) Unwrap() error {
	return e.Err
}

// Client is the page-context side of the bridge: it carries solve requests
// across the process boundary over local HTTP.
type Client struct {
	baseURL string

	// solveClient has no timeout of its own; the solver's total-wait ceiling
	// is the only deadline on a solve call.
	solveClient *http.Client
	probeClient *http.Client
}

// NewClient creates a bridge client for the given base URL,
// e.g. "http://127.0.0.1:8765".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		solveClient: &http.Client{},
		probeClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Health probes the bridge's reachability. It reports false on any transport
// error or non-200 answer.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// SolveOutcome is the bridge's answer to a solve call.
type SolveOutcome struct {
	Success   bool   `json:"success"`
	Solution  string `json:"solution,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id"`
}

// Solve submits a solve request for the descriptor and blocks until the
// bridge returns a terminal outcome. A transport failure is returned as
// *ErrUnreachable.
func (c *Client) Solve(ctx context.Context, desc captcha.Descriptor) (*SolveOutcome, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/solve", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.solveClient.Do(req)
	if err != nil {
		return nil, &ErrUnreachable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}

	var out SolveOutcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
