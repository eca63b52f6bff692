package application_test

import (
	"context"
	"errors"
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

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (s *recordingSink) Record(_ context.Context, e domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	media ports.ExtractedMedia
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string) (ports.ExtractedMedia, error) {
	f.calls++
	return f.media, f.err
}

type fakeAudit struct {
	records []domain.DMCARecord
}

func (f *fakeAudit) InsertDMCARecord(_ context.Context, r domain.DMCARecord) error {
	f.records = append(f.records, r)
	return nil
}

type failingWindows struct{}

func (failingWindows) Hit(context.Context, string, time.Time, time.Duration, int) (ports.WindowResult, error) {
	return ports.WindowResult{}, errors.New("redis down")
}

type fixture struct {
	service   *application.Service
	store     *cache.MemoryStore
	clock     *fixedClock
	sink      *recordingSink
	extractor *fakeExtractor
	audit     *fakeAudit
}

func newFixture(t *testing.T, mutate func(*application.Dependencies)) *fixture {
	t.Helper()
	hasher, err := security.NewTokenHasher("application-test-key")
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	f := &fixture{
		store:     cache.NewMemoryStore(),
		clock:     &fixedClock{now: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)},
		sink:      &recordingSink{},
		extractor: &fakeExtractor{media: ports.ExtractedMedia{DownloadURL: "https://cdn.example/a.mp4", SizeMB: 40}},
		audit:     &fakeAudit{},
	}
	deps := application.Dependencies{
		Config:    application.DefaultConfig(),
		Sessions:  f.store,
		Windows:   f.store,
		Hasher:    hasher,
		Extractor: f.extractor,
		Captcha:   security.NewLengthVerifier(20),
		Audit:     f.audit,
		Events:    f.sink,
		Clock:     f.clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.service = application.NewService(deps)
	return f
}

var browserMeta = domain.RequestMeta{
	Path:           "/api/download",
	UserAgent:      "Mozilla/5.0",
	Accept:         "*/*",
	AcceptLanguage: "en",
	AcceptEncoding: "br",
	Referer:        "https://app.example/",
}

func (f *fixture) newSession(t *testing.T) application.SessionHandle {
	t.Helper()
	handle, err := f.service.ResolveSession(context.Background(), "", browserMeta)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	return handle
}

func (f *fixture) session(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return *s
}

func TestResolveSessionLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	handle := f.newSession(t)
	if !handle.Issued || handle.Token == "" || handle.Session.ID == handle.Token {
		t.Fatalf("expected a minted token distinct from the stored id: %+v", handle)
	}
	if f.sink.count(domain.EventNewSession) != 1 {
		t.Fatalf("expected NEW_SESSION event")
	}
	for _, e := range f.sink.events {
		if strings.Contains(e.Details, handle.Token) || e.SessionHash == handle.Token {
			t.Fatalf("raw token leaked into event %+v", e)
		}
	}

	again, err := f.service.ResolveSession(ctx, handle.Token, browserMeta)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.Issued || again.Session.ID != handle.Session.ID || again.Session.RequestCount != 2 {
		t.Fatalf("expected the same session with two requests: %+v", again)
	}

	adopted, err := f.service.ResolveSession(ctx, "client-chosen-token", browserMeta)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if adopted.Issued || adopted.Token != "client-chosen-token" {
		t.Fatalf("unknown tokens are adopted, got %+v", adopted)
	}

	f.clock.Advance(24*time.Hour + time.Second)
	renewed, err := f.service.ResolveSession(ctx, handle.Token, browserMeta)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.Issued || renewed.Token == handle.Token || renewed.Session.RequestCount != 1 {
		t.Fatalf("expired session should be replaced: %+v", renewed)
	}
	if _, err := f.store.Get(ctx, handle.Session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired session should be deleted, got %v", err)
	}
	if f.sink.count(domain.EventSessionExpired) != 1 {
		t.Fatalf("expected SESSION_EXPIRED event")
	}
}

func TestSuspiciousFirstRequestCanBanImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *application.Dependencies) { d.Config.BanScoreThreshold = 70 })
	handle, err := f.service.ResolveSession(context.Background(), "", domain.RequestMeta{Path: "/api/download", UserAgent: "curl"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !handle.Session.Blocked() || f.sink.count(domain.EventBan) != 1 {
		t.Fatalf("expected an immediate ban for score %d", handle.Session.SuspiciousScore)
	}
	err = f.service.Authorize(context.Background(), handle.Session.ID, application.ActionGeneral)
	if !errors.Is(err, domain.ErrBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *application.Dependencies) { d.Windows = failingWindows{} })
	handle := f.newSession(t)
	decision, err := f.service.CheckRateLimit(context.Background(), handle.Session.ID)
	if err != nil || !decision.Allowed {
		t.Fatalf("store errors must not block traffic: %+v %v", decision, err)
	}
}

func TestRateLimitRetryAfterTracksOldestEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := f.service.CheckRateLimit(ctx, handle.Session.ID); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
		f.clock.Advance(time.Second)
	}
	_, err := f.service.CheckRateLimit(ctx, handle.Session.ID)
	pe, ok := domain.AsPolicyError(err)
	if !ok || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if pe.RetryAfter != 50*time.Second {
		t.Fatalf("expected 50s retry, got %v", pe.RetryAfter)
	}
	if got := f.session(t, handle.Session.ID).SuspiciousScore; got != 10 {
		t.Fatalf("expected +10, got %d", got)
	}
}

func TestDownloadBandwidthCapIsNeverExceeded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *application.Dependencies) { d.Config.DailyBandwidthMB = 100 })
	handle := f.newSession(t)
	ctx := context.Background()
	req := application.DownloadRequest{URL: "https://instagram.com/p/x"}

	for i := 0; i < 2; i++ {
		if _, err := f.service.Download(ctx, handle.Session.ID, req); err != nil {
			t.Fatalf("download %d: %v", i, err)
		}
	}
	// 80MB used; another 40MB would overshoot.
	_, err := f.service.Download(ctx, handle.Session.ID, req)
	if !errors.Is(err, domain.ErrBandwidthExceeded) {
		t.Fatalf("expected bandwidth rejection, got %v", err)
	}
	s := f.session(t, handle.Session.ID)
	if s.BandwidthUsedMB != 80 || s.Downloading() {
		t.Fatalf("unexpected session after overshoot %+v", s)
	}

	f.extractor.media.SizeMB = 20
	if _, err := f.service.Download(ctx, handle.Session.ID, req); err != nil {
		t.Fatalf("a transfer that fits should pass: %v", err)
	}
	_, err = f.service.Download(ctx, handle.Session.ID, req)
	pe, _ := domain.AsPolicyError(err)
	if !errors.Is(err, domain.ErrBandwidthExceeded) || pe == nil || pe.ResetAt.IsZero() {
		t.Fatalf("expected pre-check rejection with reset time, got %v", err)
	}
	if got := f.session(t, handle.Session.ID).SuspiciousScore; got != 15 {
		t.Fatalf("only the pre-check rejection is scored, got %d", got)
	}
}

func TestDownloadDefaultsMissingSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.extractor.media = ports.ExtractedMedia{DownloadURL: "https://cdn.example/b.jpg"}
	handle := f.newSession(t)

	res, err := f.service.Download(context.Background(), handle.Session.ID, application.DownloadRequest{URL: "https://instagram.com/p/x"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if res.SizeMB != 50 || res.ExpiresInSeconds != 3600 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDownloadFailuresReleaseLeaseAndScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		media     ports.ExtractedMedia
		err       error
		wantErr   error
		wantScore int
	}{
		{name: "upstream rate limit", err: domain.ErrUpstreamRateLimited, wantErr: domain.ErrUpstreamRateLimited, wantScore: 20},
		{name: "upstream failure", err: errors.New("connection reset"), wantErr: domain.ErrUpstream, wantScore: 2},
		{name: "no media", media: ports.ExtractedMedia{}, wantErr: domain.ErrExtractionFailed, wantScore: 3},
		{name: "too large", media: ports.ExtractedMedia{DownloadURL: "https://cdn/x", SizeMB: 201}, wantErr: domain.ErrFileTooLarge, wantScore: 8},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.extractor.media, f.extractor.err = tc.media, tc.err
			handle := f.newSession(t)

			_, err := f.service.Download(context.Background(), handle.Session.ID, application.DownloadRequest{URL: "https://instagram.com/p/x"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			s := f.session(t, handle.Session.ID)
			if s.Downloading() {
				t.Fatalf("lease must be released")
			}
			if s.SuspiciousScore != tc.wantScore || s.BandwidthUsedMB != 0 {
				t.Fatalf("unexpected session %+v", s)
			}
		})
	}
}

func TestStaleLeaseIsReplaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()
	_, _ = f.store.Update(ctx, handle.Session.ID, time.Hour, func(s *domain.Session) error {
		s.BeginDownload(f.clock.Now())
		return nil
	})

	_, err := f.service.Download(ctx, handle.Session.ID, application.DownloadRequest{URL: "https://instagram.com/p/x"})
	if !errors.Is(err, domain.ErrDownloadInProgress) {
		t.Fatalf("expected in-progress rejection, got %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	if _, err := f.service.Download(ctx, handle.Session.ID, application.DownloadRequest{URL: "https://instagram.com/p/x"}); err != nil {
		t.Fatalf("stale lease should be discarded: %v", err)
	}
}

func TestComplianceLogThresholds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()
	req := application.DownloadRequest{URL: "https://instagram.com/p/x"}

	if _, err := f.service.Download(ctx, handle.Session.ID, req); err != nil {
		t.Fatalf("download: %v", err)
	}
	if f.sink.count(domain.EventDownloadLogged) != 0 {
		t.Fatalf("small download from a clean session is not logged")
	}

	f.extractor.media.SizeMB = 161
	if _, err := f.service.Download(ctx, handle.Session.ID, req); err != nil {
		t.Fatalf("download: %v", err)
	}
	if f.sink.count(domain.EventDownloadLogged) != 1 {
		t.Fatalf("downloads above 80%% of the cap are logged")
	}
}

func TestVerifyCaptcha(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()
	_ = f.service.Penalize(ctx, handle.Session.ID, 60, "test")

	if err := f.service.Authorize(ctx, handle.Session.ID, application.ActionDownload); !errors.Is(err, domain.ErrCaptchaRequired) {
		t.Fatalf("expected captcha gate, got %v", err)
	}
	if err := f.service.Authorize(ctx, handle.Session.ID, application.ActionGeneral); err != nil {
		t.Fatalf("captcha only gates downloads, got %v", err)
	}
	if err := f.service.VerifyCaptcha(ctx, handle.Session.ID, "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if err := f.service.VerifyCaptcha(ctx, handle.Session.ID, strings.Repeat("t", 20)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	s := f.session(t, handle.Session.ID)
	if s.SuspiciousScore != 40 || !s.CaptchaVerified || !s.RequiresCaptcha {
		t.Fatalf("unexpected session %+v", s)
	}
	if f.sink.count(domain.EventCaptchaVerified) != 1 {
		t.Fatalf("expected CAPTCHA_VERIFIED event")
	}
}

func TestSubmitDMCA(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()
	req := domain.DMCARequest{
		InstagramURL: "https://instagram.com/p/x",
		ContactEmail: "agent@label.example",
		Description:  "Unlicensed use of our recording in this reel.",
	}

	for i := 0; i < 3; i++ {
		receipt, err := f.service.SubmitDMCA(ctx, handle.Session.ID, "198.51.100.4", req)
		if err != nil || receipt.RequestID == "" {
			t.Fatalf("request %d: %+v %v", i, receipt, err)
		}
	}
	if _, err := f.service.SubmitDMCA(ctx, handle.Session.ID, "198.51.100.4", req); !errors.Is(err, domain.ErrDMCALimit) {
		t.Fatalf("expected dmca ceiling, got %v", err)
	}
	if _, err := f.service.SubmitDMCA(ctx, handle.Session.ID, "198.51.100.5", req); err != nil {
		t.Fatalf("ceiling is per ip: %v", err)
	}

	if len(f.audit.records) != 4 {
		t.Fatalf("expected 4 audit records, got %d", len(f.audit.records))
	}
	for _, rec := range f.audit.records {
		if rec.URL != "[REDACTED]" || strings.Contains(rec.EmailMasked, "label.example") {
			t.Fatalf("audit record not redacted %+v", rec)
		}
	}
	for _, e := range f.sink.events {
		if strings.Contains(e.Details, "198.51.100.4") || strings.Contains(e.Details, "agent@") {
			t.Fatalf("pii leaked into event %+v", e)
		}
	}
	if got := f.session(t, handle.Session.ID).SuspiciousScore; got != 0 {
		t.Fatalf("dmca intake never scores, got %d", got)
	}

	f.clock.Advance(24*time.Hour + time.Second)
	if _, err := f.service.SubmitDMCA(ctx, handle.Session.ID, "198.51.100.4", req); err != nil {
		t.Fatalf("window should slide after 24h: %v", err)
	}
}

func TestConcurrentDownloadsTakeOneLease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	handle := f.newSession(t)
	ctx := context.Background()

	block := make(chan struct{})
	gated := &gatedExtractor{release: block, entered: make(chan struct{}, 8)}
	svc := application.NewService(application.Dependencies{
		Config:    application.DefaultConfig(),
		Sessions:  f.store,
		Windows:   f.store,
		Hasher:    mustHasher(t),
		Extractor: gated,
		Captcha:   security.NewLengthVerifier(20),
		Clock:     f.clock.Now,
	})

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Download(ctx, handle.Session.ID, application.DownloadRequest{URL: "https://instagram.com/p/x"})
			results <- err
		}()
	}
	<-gated.entered
	close(block)
	wg.Wait()
	close(results)

	ok, inProgress := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrDownloadInProgress):
			inProgress++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok < 1 || ok+inProgress != 8 {
		t.Fatalf("expected one lease holder at a time, got ok=%d in_progress=%d", ok, inProgress)
	}
}

type gatedExtractor struct {
	release chan struct{}
	entered chan struct{}
}

func (g *gatedExtractor) Extract(context.Context, string) (ports.ExtractedMedia, error) {
	g.entered <- struct{}{}
	<-g.release
	return ports.ExtractedMedia{DownloadURL: "https://cdn.example/c.mp4", SizeMB: 1}, nil
}

func mustHasher(t *testing.T) *security.TokenHasher {
	t.Helper()
	h, err := security.NewTokenHasher("application-test-key")
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}
