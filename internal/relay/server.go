// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relay is the always-on local bridge between the page context and
// the solver. It is a transport, not a decision point: solve requests are
// forwarded verbatim to the solver and the terminal result is returned
// byte-for-byte to the caller. Every solve call runs on its own handler
// goroutine, so long polls for one session never block health checks or
// solves for other sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/applypilot/captcha-bridge/internal/captcha"
	"github.com/applypilot/captcha-bridge/internal/solver"
)

// Server hosts the local-only bridge endpoints.
type Server struct {
	host     string
	port     int
	resolver solver.Resolver
	registry *Registry
	engine   *gin.Engine
}

// NewServer creates the bridge server around the given resolver. Unless
// allowRemote is set, requests must arrive directly from a loopback address.
func NewServer(host string, port int, allowRemote bool, resolver solver.Resolver) *Server {
	s := &Server{
		host:     host,
		port:     port,
		resolver: resolver,
		registry: NewRegistry(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	if !allowRemote {
		engine.Use(localOnlyMiddleware())
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/balance", s.handleBalance)
	engine.POST("/solve", s.handleSolve)

	s.engine = engine
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Registry exposes the request registry, mainly for inspection in tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run serves until ctx is cancelled, then shuts down gracefully. In-flight
// solves are given a drain window before the listener is torn down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("captcha bridge listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("bridge shutdown did not complete cleanly: %v", err)
	}
	return <-errCh
}

// solveRequest is the wire format accepted from the page context.
type solveRequest struct {
	ChallengeType  string `json:"challenge_type" binding:"required"`
	SiteIdentifier string `json:"site_identifier" binding:"required"`
	PageURL        string `json:"page_url" binding:"required"`
	Action         string `json:"action"`
}

// solveResponse is the wire format returned to the page context.
type solveResponse struct {
	Success   bool   `json:"success"`
	Solution  string `json:"solution,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleBalance(c *gin.Context) {
	balance, err := s.resolver.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// handleSolve blocks until the solver produces a terminal result. No extra
// timeout is layered on top of the solver's own total-wait ceiling; a shorter
// one here would produce false negatives during long provider solve windows.
func (s *Server) handleSolve(c *gin.Context) {
	var body solveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ, err := captcha.ParseChallengeType(body.ChallengeType)
	if err != nil {
		c.JSON(http.StatusOK, solveResponse{Success: false, Error: err.Error()})
		return
	}

	desc := captcha.Descriptor{
		Type:    typ,
		SiteKey: body.SiteIdentifier,
		PageURL: body.PageURL,
		Action:  body.Action,
	}

	req := s.registry.Begin(desc)
	logger := log.WithFields(log.Fields{
		"request_id":     req.ID,
		"challenge_type": desc.Type.String(),
	})
	logger.Infof("solve request received for site key %s", truncateKey(desc.SiteKey))

	result := s.resolver.Resolve(c.Request.Context(), desc)

	result, err = s.registry.Complete(req.ID, result)
	if err != nil {
		// A second terminal result for the same request violates the
		// exactly-once contract; the first one already went out.
		logger.Errorf("discarding duplicate result: %v", err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	elapsed := time.Since(req.SubmittedAt).Round(time.Millisecond)
	logger.WithField("elapsed", elapsed.String()).Infof("solve finished: %s", result)

	if !result.OK() {
		c.JSON(http.StatusOK, solveResponse{
			Success:   false,
			Error:     string(result.Reason),
			RequestID: req.ID,
		})
		return
	}
	c.JSON(http.StatusOK, solveResponse{
		Success:   true,
		Solution:  result.Token,
		RequestID: req.ID,
	})
}

// corsMiddleware opens the bridge to the page-context caller, which reaches
// it from a different origin (extension or injected script).
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// localOnlyMiddleware rejects anything that is not a direct loopback
// connection. Forwarding headers mean a proxy sits in between, which defeats
// the point of a local-only bridge.
func localOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !fromLoopback(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "bridge accepts local requests only"})
			return
		}
		c.Next()
	}
}

func fromLoopback(c *gin.Context) bool {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return false
	}
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"} {
		if c.GetHeader(header) != "" {
			return false
		}
	}
	return true
}

func truncateKey(key string) string {
	if len(key) <= 20 {
		return key
	}
	return key[:20] + "..."
}
