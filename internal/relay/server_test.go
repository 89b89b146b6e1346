package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applypilot/captcha-bridge/internal/captcha"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubResolver returns scripted results and can block to simulate a long
// provider solve.
type stubResolver struct {
	mu      sync.Mutex
	result  captcha.Result
	balance float64
	balErr  error
	block   chan struct{}
	calls   int
	lastReq captcha.Descriptor
}

func (s *stubResolver) Resolve(ctx context.Context, desc captcha.Descriptor) captcha.Result {
	s.mu.Lock()
	s.calls++
	s.lastReq = desc
	block := s.block
	result := s.result
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return captcha.Failed(captcha.ReasonTimeout)
		}
	}
	return result
}

func (s *stubResolver) Balance(ctx context.Context) (float64, error) {
	return s.balance, s.balErr
}

func (s *stubResolver) resolveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func solveBody(t *testing.T, typ, key, pageURL string) *bytes.Reader {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"challenge_type":  typ,
		"site_identifier": key,
		"page_url":        pageURL,
	})
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

func doSolve(t *testing.T, engine *gin.Engine, body *bytes.Reader) (*httptest.ResponseRecorder, solveResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/solve", body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var out solveResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{balance: 7.5})

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 7.5, out["balance"])
}

func TestSolveSuccess(t *testing.T) {
	resolver := &stubResolver{result: captcha.Solved("the-token")}
	server := NewServer("127.0.0.1", 8765, false, resolver)

	w, out := doSolve(t, server.Engine(), solveBody(t, "recaptcha_v2", "sk", "https://a.example"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, out.Success)
	assert.Equal(t, "the-token", out.Solution)
	assert.NotEmpty(t, out.RequestID)
	assert.Empty(t, out.Error)

	assert.Equal(t, captcha.TypeRecaptchaV2, resolver.lastReq.Type)
	assert.Equal(t, 0, server.Registry().InFlight())
}

func TestSolveFailureCarriesReason(t *testing.T) {
	resolver := &stubResolver{result: captcha.Failed(captcha.ReasonNoBalance)}
	server := NewServer("127.0.0.1", 8765, false, resolver)

	w, out := doSolve(t, server.Engine(), solveBody(t, "hcaptcha", "sk", "https://a.example"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, out.Success)
	assert.Equal(t, "no_balance", out.Error)
	assert.Empty(t, out.Solution)
}

func TestSolveRejectsUnknownChallengeType(t *testing.T) {
	resolver := &stubResolver{result: captcha.Solved("tok")}
	server := NewServer("127.0.0.1", 8765, false, resolver)

	w, out := doSolve(t, server.Engine(), solveBody(t, "image_grid", "sk", "https://a.example"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 0, resolver.resolveCalls())
}

func TestSolveRejectsMissingFields(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{})

	req := httptest.NewRequest(http.MethodPost, "/solve", bytes.NewReader([]byte(`{"challenge_type":"recaptcha_v2"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHealthDuringSlowSolve verifies that a blocked solve does not hold up
// health probes: each request runs on its own handler goroutine.
func TestHealthDuringSlowSolve(t *testing.T) {
	resolver := &stubResolver{result: captcha.Solved("tok"), block: make(chan struct{})}
	server := NewServer("127.0.0.1", 8765, false, resolver)

	srv := httptest.NewServer(server.Engine())
	defer srv.Close()

	solveDone := make(chan solveResponse, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/solve", "application/json",
			bytes.NewReader([]byte(`{"challenge_type":"recaptcha_v2","site_identifier":"sk","page_url":"https://a.example"}`)))
		if err != nil {
			close(solveDone)
			return
		}
		defer resp.Body.Close()
		var out solveResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		solveDone <- out
	}()

	// Wait until the solve is actually in flight.
	require.Eventually(t, func() bool {
		return resolver.resolveCalls() == 1
	}, time.Second, 5*time.Millisecond)

	healthResp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)

	close(resolver.block)
	select {
	case out := <-solveDone:
		assert.True(t, out.Success)
	case <-time.After(time.Second):
		t.Fatal("solve did not finish after unblocking")
	}
}

func TestLocalOnlyRejectsRemoteAddr(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:44321"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLocalOnlyRejectsForwardedHeaders(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAllowRemoteDisablesLoopbackGuard(t *testing.T) {
	server := NewServer("0.0.0.0", 8765, true, &stubResolver{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:44321"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	server := NewServer("127.0.0.1", 8765, false, &stubResolver{})

	req := httptest.NewRequest(http.MethodOptions, "/solve", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientRoundTrip(t *testing.T) {
	resolver := &stubResolver{result: captcha.Solved("round-trip-token")}
	server := NewServer("127.0.0.1", 8765, false, resolver)

	srv := httptest.NewServer(server.Engine())
	defer srv.Close()

	client := NewClient(srv.URL)

	assert.True(t, client.Health(context.Background()))

	out, err := client.Solve(context.Background(), captcha.Descriptor{
		Type:    captcha.TypeRecaptchaV2,
		SiteKey: "sk",
		PageURL: "https://a.example",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "round-trip-token", out.Solution)
	assert.NotEmpty(t, out.RequestID)
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	assert.False(t, client.Health(context.Background()))

	_, err := client.Solve(context.Background(), captcha.Descriptor{
		Type:    captcha.TypeRecaptchaV2,
		SiteKey: "sk",
		PageURL: "https://a.example",
	})
	var unreachable *ErrUnreachable
	assert.ErrorAs(t, err, &unreachable)
}
