package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/media-download-proxy/internal/adapters/cache"
	"github.com/viralforge/media-download-proxy/internal/adapters/security"
	"github.com/viralforge/media-download-proxy/internal/application"
	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubExtractor struct {
	mu      sync.Mutex
	media   ports.ExtractedMedia
	err     error
	panicOn bool
	entered chan struct{}
	release chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) (ports.ExtractedMedia, error) {
	s.mu.Lock()
	media, err, panicOn, entered, release := s.media, s.err, s.panicOn, s.entered, s.release
	s.mu.Unlock()
	if panicOn {
		panic("extractor exploded")
	}
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ports.ExtractedMedia{}, ctx.Err()
		}
	}
	return media, err
}

type fixture struct {
	router    http.Handler
	service   *application.Service
	hasher    *security.TokenHasher
	clock     *testClock
	extractor *stubExtractor
}

func newFixture(t *testing.T, development bool, overrides ...func(*application.Dependencies)) *fixture {
	t.Helper()
	hasher, err := security.NewTokenHasher("contract-test-hash-key")
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	extractor := &stubExtractor{media: ports.ExtractedMedia{DownloadURL: "https://cdn.example/video.mp4", SizeMB: 12}}
	store := cache.NewMemoryStore()
	deps := application.Dependencies{
		Config:    application.DefaultConfig(),
		Sessions:  store,
		Windows:   store,
		Hasher:    hasher,
		Extractor: extractor,
		Captcha:   security.NewLengthVerifier(20),
		Clock:     clock.Now,
	}
	for _, override := range overrides {
		override(&deps)
	}
	svc := application.NewService(deps)
	handler := NewHandler(svc, Options{Development: development, AllowedOrigin: "https://app.example"})
	return &fixture{router: NewRouter(handler), service: svc, hasher: hasher, clock: clock, extractor: extractor}
}

type client struct {
	f       *fixture
	cookie  string
	headers map[string]string
}

func browserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		"Accept":          "application/json",
		"Accept-Language": "en-US",
		"Accept-Encoding": "gzip",
		"Referer":         "https://app.example/",
	}
}

func (f *fixture) browser() *client {
	return &client{f: f, headers: browserHeaders()}
}

func (c *client) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.cookie})
	}
	rec := httptest.NewRecorder()
	c.f.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookieName {
			c.cookie = ck.Value
		}
	}
	return rec
}

func (c *client) sessionID() string {
	return c.f.hasher.Hash(c.cookie)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func sessionStatus(t *testing.T, c *client) map[string]any {
	t.Helper()
	rec := c.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}
	return decode(t, rec)["session"].(map[string]any)
}

func TestSessionCookieIssuedWithStrictAttributes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	rec := f.browser().do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatalf("session cookie not set")
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}
	if cookie.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max age %d", cookie.MaxAge)
	}
	if len(cookie.Value) != 64 {
		t.Fatalf("expected 32-byte hex token, got %q", cookie.Value)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("security headers missing: %v", rec.Header())
	}
}

func TestEleventhRequestInWindowIsRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()
	for i := 0; i < 10; i++ {
		rec := c.do(t, http.MethodPost, pathVerifyCaptcha, map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: expected 400, got %d", i+1, rec.Code)
		}
	}

	rec := c.do(t, http.MethodPost, pathVerifyCaptcha, map[string]string{})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["retryAfter"] != float64(60) || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected retry hint %v / %q", body["retryAfter"], rec.Header().Get("Retry-After"))
	}

	// Exempt paths keep answering and show the penalty.
	status := sessionStatus(t, c)
	if status["suspiciousScore"] != float64(10) {
		t.Fatalf("expected score 10, got %v", status["suspiciousScore"])
	}

	f.clock.Advance(61 * time.Second)
	if rec := c.do(t, http.MethodPost, pathVerifyCaptcha, map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected window to slide, got %d", rec.Code)
	}
}

func TestCaptchaGateOnlyBlocksDownloads(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	bot := &client{f: f, headers: map[string]string{"User-Agent": "curl"}}

	// curl without browser headers scores 25+25+5+5+5+10 on its first request.
	// A token in the download body does not satisfy the gate.
	rec := bot.do(t, http.MethodPost, pathDownload, map[string]string{
		"url":          "https://www.instagram.com/p/abc/",
		"captchaToken": strings.Repeat("x", 20),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if decode(t, rec)["requiresCaptcha"] != true {
		t.Fatalf("expected requiresCaptcha hint")
	}

	rec = bot.do(t, http.MethodPost, pathVerifyCaptcha, map[string]string{"captchaToken": "short"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Invalid captcha token" {
		t.Fatalf("expected invalid captcha token, got %d %s", rec.Code, rec.Body.String())
	}

	rec = bot.do(t, http.MethodPost, pathVerifyCaptcha, map[string]string{"captchaToken": strings.Repeat("x", 20)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected captcha accepted, got %d %s", rec.Code, rec.Body.String())
	}
	if got := sessionStatus(t, bot)["suspiciousScore"]; got != float64(55) {
		t.Fatalf("expected score 55 after relief, got %v", got)
	}

	rec = bot.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://www.instagram.com/p/abc/"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected download after verification, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBanBlocksUntilExpiryThenLifts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()
	c.do(t, http.MethodGet, "/health", nil)

	if err := f.service.Penalize(context.Background(), c.sessionID(), 100, "test escalation"); err != nil {
		t.Fatalf("penalize: %v", err)
	}
	banStart := f.clock.Now()

	rec := c.do(t, http.MethodPost, pathDMCARequest, map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while banned, got %d", rec.Code)
	}
	if got := decode(t, rec)["unblockTime"]; got != float64(banStart.Add(time.Hour).UnixMilli()) {
		t.Fatalf("unexpected unblockTime %v", got)
	}
	if sessionStatus(t, c)["isBlocked"] != true {
		t.Fatalf("status should report the ban")
	}

	f.clock.Advance(time.Hour + time.Second)
	rec = c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/x"})
	// The score stays above the CAPTCHA threshold after the ban lifts.
	if rec.Code != http.StatusForbidden || decode(t, rec)["requiresCaptcha"] != true {
		t.Fatalf("expected captcha gate after ban expiry, got %d %s", rec.Code, rec.Body.String())
	}
	if sessionStatus(t, c)["isBlocked"] != false {
		t.Fatalf("ban should be lifted")
	}
}

func TestExpiredSessionGetsNewToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()
	c.do(t, http.MethodGet, "/health", nil)
	first := c.cookie

	f.clock.Advance(24*time.Hour + time.Minute)
	c.do(t, http.MethodGet, "/health", nil)
	if c.cookie == first || c.cookie == "" {
		t.Fatalf("expected a fresh token after expiry")
	}
	if got := sessionStatus(t, c)["requestCount"]; got != float64(2) {
		t.Fatalf("expected fresh counters, got %v", got)
	}
}

func TestDownloadSuccessAndAccounting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()
	rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "instagram.com/reel/xyz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["download_url"] != "https://cdn.example/video.mp4" || body["size_mb"] != float64(12) || body["expires_in_seconds"] != float64(3600) {
		t.Fatalf("unexpected body %v", body)
	}
	status := sessionStatus(t, c)
	if status["bandwidthUsed"] != float64(12) || status["bandwidthLimit"] != float64(2000) {
		t.Fatalf("unexpected bandwidth %v", status)
	}
}

func TestDownloadRejectionsAndHints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()

	rec := c.do(t, http.MethodPost, pathDownload, map[string]any{"url": 42})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Missing or invalid URL" {
		t.Fatalf("expected invalid url, got %d %s", rec.Code, rec.Body.String())
	}
	rec = c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://evil.example/instagram.com"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Only Instagram URLs are supported" {
		t.Fatalf("expected unsupported platform, got %d %s", rec.Code, rec.Body.String())
	}

	f.extractor.mu.Lock()
	f.extractor.media = ports.ExtractedMedia{DownloadURL: "https://cdn.example/huge.mp4", SizeMB: 250}
	f.extractor.mu.Unlock()
	rec = c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/huge"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	status := sessionStatus(t, c)
	if status["suspiciousScore"] != float64(5+8+8) || status["bandwidthUsed"] != float64(0) {
		t.Fatalf("unexpected session after rejections %v", status)
	}
}

func TestUpstreamFailureHidesDetailsOutsideDevelopment(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{false, true} {
		f := newFixture(t, dev)
		f.extractor.err = domain.ErrUpstreamRateLimited
		c := f.browser()

		rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/x"})
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("dev=%v: expected 500, got %d", dev, rec.Code)
		}
		_, hasDetails := decode(t, rec)["details"]
		if hasDetails != dev {
			t.Fatalf("dev=%v: details present=%v", dev, hasDetails)
		}
		if got := sessionStatus(t, c)["suspiciousScore"]; got != float64(20) {
			t.Fatalf("dev=%v: expected +20 for upstream 429, got %v", dev, got)
		}
	}
}

func TestConcurrentDownloadIsRefused(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.extractor.entered = make(chan struct{}, 1)
	f.extractor.release = make(chan struct{})
	c := f.browser()
	c.do(t, http.MethodGet, "/health", nil)

	done := make(chan int, 1)
	go func() {
		first := &client{f: f, cookie: c.cookie, headers: browserHeaders()}
		done <- first.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/a"}).Code
	}()
	<-f.extractor.entered

	rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/b"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for concurrent download, got %d", rec.Code)
	}
	if decode(t, rec)["waitSeconds"] != float64(300) {
		t.Fatalf("unexpected wait hint %s", rec.Body.String())
	}

	close(f.extractor.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first download should succeed, got %d", code)
	}
	f.extractor.mu.Lock()
	f.extractor.entered = nil
	f.extractor.release = nil
	f.extractor.mu.Unlock()
	if rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/c"}); rec.Code != http.StatusOK {
		t.Fatalf("lease should be released, got %d", rec.Code)
	}
}

func TestDMCAIntakeCeilingPerIP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	c := f.browser()
	req := map[string]string{
		"instagramUrl": "https://instagram.com/p/stolen",
		"contactEmail": "legal@rights.example",
		"description":  "This post reproduces our copyrighted footage.",
	}
	for i := 0; i < 3; i++ {
		rec := c.do(t, http.MethodPost, pathDMCARequest, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d %s", i+1, rec.Code, rec.Body.String())
		}
		body := decode(t, rec)
		if body["message"] != "DMCA request received. We will review within 48 hours." || body["requestId"] == "" {
			t.Fatalf("unexpected receipt %v", body)
		}
	}

	rec := c.do(t, http.MethodPost, pathDMCARequest, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Too many DMCA requests. Maximum 3 per 24 hours." {
		t.Fatalf("unexpected message %v", got)
	}
	if got := sessionStatus(t, c)["suspiciousScore"]; got != float64(0) {
		t.Fatalf("dmca throttling must not change the score, got %v", got)
	}

	rec = c.do(t, http.MethodPost, pathDMCARequest, map[string]string{"contactEmail": "x"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Missing required fields" {
		t.Fatalf("expected validation error, got %d %s", rec.Code, rec.Body.String())
	}
}

type failingAudit struct{}

func (failingAudit) InsertDMCARecord(context.Context, domain.DMCARecord) error {
	return errors.New("audit database unavailable")
}

func TestInternalErrorIsChargedToSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, func(d *application.Dependencies) { d.Audit = failingAudit{} })
	c := f.browser()
	rec := c.do(t, http.MethodPost, pathDMCARequest, map[string]string{
		"instagramUrl": "https://instagram.com/p/stolen",
		"contactEmail": "legal@rights.example",
		"description":  "This post reproduces our copyrighted footage.",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["code"] != codeInternalError || body["details"] != nil {
		t.Fatalf("expected generic internal error without details, got %v", body)
	}
	if got := sessionStatus(t, c)["suspiciousScore"]; got != float64(5) {
		t.Fatalf("expected +5 for internal failure, got %v", got)
	}
}

func TestPreflightSkipsSessionChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodOptions, pathDownload, nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" || rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("cors headers missing: %v", rec.Header())
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("preflight must not create a session")
	}
}

func TestPanicIsChargedToSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	f.extractor.panicOn = true
	c := f.browser()

	rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if decode(t, rec)["details"] != "extractor exploded" {
		t.Fatalf("development mode should expose details: %s", rec.Body.String())
	}
	if got := sessionStatus(t, c)["suspiciousScore"]; got != float64(5) {
		t.Fatalf("expected +5 for unhandled error, got %v", got)
	}

	f.extractor.mu.Lock()
	f.extractor.panicOn = false
	f.extractor.mu.Unlock()
	if rec := c.do(t, http.MethodPost, pathDownload, map[string]string{"url": "https://instagram.com/p/x"}); rec.Code != http.StatusOK {
		t.Fatalf("lease should be released after a panic, got %d", rec.Code)
	}
}

func TestReadyzReportsDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected cookie-less 200, got %d", rec.Code)
	}
}
