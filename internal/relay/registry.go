// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/applypilot/captcha-bridge/internal/captcha"
)

// Registry tracks in-flight solve requests and enforces the resolution
// contract: a request transitions Pending to terminal exactly once, and a
// result is only ever delivered against the request ID it was issued for.
// Request lifecycles are independent; there is no cross-request locking
// beyond the map itself.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]*captcha.SolveRequest
	done     map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		inflight: make(map[string]*captcha.SolveRequest),
		done:     make(map[string]struct{}),
	}
}

// Begin registers a new solve request for the descriptor and assigns it a
// unique request ID.
func (r *Registry) Begin(desc captcha.Descriptor) *captcha.SolveRequest {
	req := &captcha.SolveRequest{
		ID:          uuid.NewString(),
		Descriptor:  desc,
		SubmittedAt: time.Now(),
	}

	r.mu.Lock()
	r.inflight[req.ID] = req
	r.mu.Unlock()

	return req
}

// Complete records the terminal result for a request. It fails when the ID
// was never issued or when the request already received a terminal result.
// On success the result is returned unchanged for delivery to the caller.
func (r *Registry) Complete(id string, result captcha.Result) (captcha.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, resolved := r.done[id]; resolved {
		return captcha.Result{}, fmt.Errorf("request %s already resolved", id)
	}
	if _, ok := r.inflight[id]; !ok {
		return captcha.Result{}, fmt.Errorf("unknown request id %s", id)
	}

	delete(r.inflight, id)
	r.done[id] = struct{}{}
	return result, nil
}

// InFlight returns the number of requests awaiting a terminal result.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
