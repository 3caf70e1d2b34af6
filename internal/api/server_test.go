package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/mail-sentinel/internal/classifier"
	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"github.com/raaihank/mail-sentinel/internal/store"
)

type fakeClassifier struct {
	ready bool
	label string
	err   error

	mu   sync.Mutex
	seen []string
}

func (f *fakeClassifier) Ready() bool { return f.ready }

func (f *fakeClassifier) Classify(_ context.Context, text string) (classifier.Prediction, error) {
	f.mu.Lock()
	f.seen = append(f.seen, text)
	f.mu.Unlock()
	if f.err != nil {
		return classifier.Prediction{}, f.err
	}
	if !f.ready {
		return classifier.Prediction{}, classifier.ErrNotReady
	}
	return classifier.Prediction{Label: f.label, Confidence: 0.8}, nil
}

func (f *fakeClassifier) ModelType() string {
	if !f.ready {
		return ""
	}
	return "LogisticRegression"
}

func (f *fakeClassifier) Labels() []string { return []string{"Billing", "Request"} }

func (f *fakeClassifier) Features(n int) []string {
	if !f.ready {
		return nil
	}
	return []string{"account", "bill", "call", "email", "help"}[:n]
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []store.Classification
	err      error
}

func (f *fakeStore) Insert(_ context.Context, c *store.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	c.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, *c)
	return nil
}

func (f *fakeStore) Recent(context.Context, int) ([]store.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Classification(nil), f.inserted...), nil
}

func (f *fakeStore) CategoryCounts(context.Context) ([]store.CategoryCount, error) {
	return []store.CategoryCount{{Category: "Billing", Count: int64(len(f.inserted))}}, nil
}

func testConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.WebSocket.Enabled = false
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, deps Dependencies) *Server {
	t.Helper()
	s, err := New(cfg, deps, logger.NewNop())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const sampleEmail = "Hello, I am John. My email is jane@example.com and call me at 202-555-0147"

func TestClassify(t *testing.T) {
	fc := &fakeClassifier{ready: true, label: "Billing"}
	fs := &fakeStore{}
	s := newTestServer(t, testConfig(), Dependencies{Classifier: fc, Store: fs})

	body, _ := json.Marshal(map[string]string{"email_body": sampleEmail})
	rec := do(s, http.MethodPost, "/classify", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sampleEmail, resp.InputEmailBody)
	assert.Equal(t, "Hello, I am John. My email is [email] and call me at [phone_number]", resp.MaskedEmail)
	assert.Equal(t, "Billing", resp.CategoryOfTheEmail)
	assert.Equal(t, []maskedEntity{
		{Position: [2]int{30, 46}, Classification: "email", Entity: "jane@example.com"},
		{Position: [2]int{62, 74}, Classification: "phone_number", Entity: "202-555-0147"},
	}, resp.ListOfMaskedEntities)

	require.Len(t, fc.seen, 1)
	assert.Equal(t, "hello i am john my email is email and call me at phone_number", fc.seen[0])

	require.Len(t, fs.inserted, 1)
	row := fs.inserted[0]
	assert.Equal(t, store.HashText(sampleEmail), row.TextHash)
	assert.Equal(t, resp.MaskedEmail, row.MaskedEmail)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), row.RequestID)
	assert.Equal(t, store.EntityList{
		{Label: "email", Start: 30, End: 46},
		{Label: "phone_number", Start: 62, End: 74},
	}, row.Entities)
	assert.NotContains(t, row.MaskedEmail, "jane@example.com")
}

func TestClassifyResponseShape(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true, label: "Request"}})

	rec := do(s, http.MethodPost, "/classify", `{"email_body": "no pii here"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	assert.Len(t, out, 4)
	assert.Equal(t, []any{}, out["list_of_masked_entities"])
	assert.Equal(t, "no pii here", out["masked_email"])
}

func TestClassifySubjectAndBody(t *testing.T) {
	fc := &fakeClassifier{ready: true, label: "Request"}
	s := newTestServer(t, testConfig(), Dependencies{Classifier: fc})

	rec := do(s, http.MethodPost, "/classify", `{"subject": "Urgent", "body": "reset my password"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Urgent reset my password", decodeBody(t, rec)["input_email_body"])
}

func TestClassifyValidation(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}})

	for name, body := range map[string]string{
		"malformed":  `{"email_body": `,
		"missing":    `{}`,
		"wrong type": `{"email_body": 42}`,
		"array":      `[1, 2]`,
		"empty body": ``,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/classify", body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestClassifyBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 32
	s := newTestServer(t, cfg, Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}})

	rec := do(s, http.MethodPost, "/classify", `{"email_body": "`+strings.Repeat("a", 100)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClassifyNotReady(t *testing.T) {
	fc := &fakeClassifier{ready: false}
	s := newTestServer(t, testConfig(), Dependencies{Classifier: fc})

	rec := do(s, http.MethodPost, "/classify", `{"email_body": "hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, fc.seen)
}

func TestClassifyInternalError(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true, err: errors.New("boom")}})

	rec := do(s, http.MethodPost, "/classify", `{"email_body": "hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestClassifyStoreFailureIgnored(t *testing.T) {
	fs := &fakeStore{err: errors.New("db down")}
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}, Store: fs})

	rec := do(s, http.MethodPost, "/classify", `{"email_body": "hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMask(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{}})

	rec := do(s, http.MethodPost, "/mask", `{"text": "CVV: 123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"masked_text":"[cvv_no]","entities":[{"start":0,"end":8,"label":"cvv_no","text":"123"}]}`, rec.Body.String())

	rec = do(s, http.MethodPost, "/mask", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{}})
	rec := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, false, out["ready"])
	assert.Equal(t, []any{}, out["features"])

	s = newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true}})
	out = decodeBody(t, do(s, http.MethodGet, "/health", ""))
	assert.Equal(t, "operational", out["status"])
	assert.Equal(t, true, out["ready"])
	assert.Equal(t, "LogisticRegression", out["model_type"])
	assert.Len(t, out["features"], 5)
}

func TestInfoAndStats(t *testing.T) {
	fs := &fakeStore{}
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{ready: true, label: "Billing"}, Store: fs})

	info := decodeBody(t, do(s, http.MethodGet, "/info", ""))
	assert.Equal(t, "mail-sentinel", info["name"])
	assert.Equal(t, true, info["store_enabled"])
	assert.Equal(t, false, info["cache_enabled"])
	assert.Len(t, info["detectors"], 6)

	do(s, http.MethodPost, "/classify", `{"email_body": "mail a@b.co"}`)
	stats := decodeBody(t, do(s, http.MethodGet, "/stats", ""))
	assert.EqualValues(t, 1, stats["total_classifications"])
	assert.EqualValues(t, 1, stats["total_masked_entities"])
	assert.Len(t, stats["recent"], 1)
}

func TestDashboardRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{}})
	for _, path := range []string{"/", "/dashboard"} {
		rec := do(s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 2}
	s := newTestServer(t, cfg, Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(s, http.MethodPost, "/classify", `{"email_body": "hi"}`).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks are not rate limited
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)
}

func classifyFrom(s *Server, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{"email_body": "hi"}`))
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 2}
	s := newTestServer(t, cfg, Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}})

	accepted := 0
	for i := 0; i < 50; i++ {
		if classifyFrom(s, "192.0.2.7:4000", fmt.Sprintf("10.0.0.%d", i)) == http.StatusOK {
			accepted++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 1, s.limiter.size())
}

func TestRateLimitTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:        true,
		RequestsPerMin: 60,
		Burst:          1,
		TrustedProxies: []string{"10.1.0.0/16"},
	}
	s := newTestServer(t, cfg, Dependencies{Classifier: &fakeClassifier{ready: true, label: "x"}})

	// behind the proxy each forwarded client has its own bucket
	assert.Equal(t, http.StatusOK, classifyFrom(s, "10.1.2.3:5000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, classifyFrom(s, "10.1.2.3:5000", "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, classifyFrom(s, "10.1.2.3:5000", "203.0.113.1, 10.1.2.3"))
}

func TestRateLimiterClientKey(t *testing.T) {
	rl := newRateLimiter(60, 1)
	require.NoError(t, rl.trustProxies([]string{"10.1.0.0/16", "198.51.100.9", "::1"}))

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"untrusted peer ignores headers", "192.0.2.7:4000", "203.0.113.1", "203.0.113.2", "192.0.2.7"},
		{"trusted cidr uses first forwarded", "10.1.9.9:4000", "203.0.113.1, 10.1.9.9", "", "203.0.113.1"},
		{"trusted ip uses real ip", "198.51.100.9:80", "", "203.0.113.5", "203.0.113.5"},
		{"trusted ipv6 peer", "[::1]:80", "2001:db8::1", "", "2001:db8::1"},
		{"garbage header falls back to peer", "10.1.9.9:4000", "not-an-ip", "", "10.1.9.9"},
		{"no headers", "10.1.9.9:4000", "", "", "10.1.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/classify", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, rl.clientKey(r))
		})
	}
}

func TestNewRejectsInvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1, TrustedProxies: []string{"proxy.local"}}
	_, err := New(cfg, Dependencies{Classifier: &fakeClassifier{}}, logger.NewNop())
	assert.ErrorContains(t, err, "invalid trusted proxy")
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(60, 1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	assert.Equal(t, 0, rl.cleanup(time.Now()))
	assert.Equal(t, 2, rl.cleanup(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, rl.size())
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, testConfig(), Dependencies{Classifier: &fakeClassifier{}})
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("oops") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewRequiresClassifier(t *testing.T) {
	_, err := New(testConfig(), Dependencies{}, logger.NewNop())
	assert.Error(t, err)
}

func TestClassifyBroadcastsEvent(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocket.Enabled = true
	s := newTestServer(t, cfg, Dependencies{Classifier: &fakeClassifier{ready: true, label: "Billing"}})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/classify", "application/json", strings.NewReader(`{"email_body": "CVV: 123"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		if ev["type"] != "classification" {
			continue
		}
		data := ev["data"].(map[string]any)
		assert.Equal(t, "Billing", data["category"])
		assert.Equal(t, "[cvv_no]", data["masked_email"])
		assert.Equal(t, []any{"cvv_no"}, data["entities"])
		assert.Equal(t, resp.Header.Get("X-Request-ID"), data["request_id"])
		return
	}
}
