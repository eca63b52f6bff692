package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/viralforge/media-download-proxy/internal/application"
)

const (
	maxBodyBytes = 1 << 20

	pathHealth        = "/health"
	pathStatus        = "/status"
	pathDownload      = "/api/download"
	pathVerifyCaptcha = "/api/verify-captcha"
	pathDMCARequest   = "/api/dmca-request"
)

type Options struct {
	// Development exposes error details and drops the Secure cookie flag.
	Development   bool
	AllowedOrigin string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ready reports dependency readiness for /readyz.
	Ready func(ctx context.Context) error
}

// Handler is the HTTP adapter over the protection pipeline.
type Handler struct {
	service   *application.Service
	opts      Options
	startedAt time.Time
}

func NewHandler(service *application.Service, opts Options) *Handler {
	return &Handler{service: service, opts: opts, startedAt: time.Now()}
}

// NewRouter wires the middleware chain: session, rate limit, then gate.
// Preflight, readiness and metrics never create sessions.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(handler.securityHeaders)
	r.Use(handler.cors)
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Get("/readyz", handler.readyz)
	if handler.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(handler.sessionMiddleware)
		r.Use(handler.faultMiddleware)
		r.Use(handler.rateLimitMiddleware)
		r.Use(handler.gateMiddleware)

		r.Get(pathHealth, handler.health)
		r.Get(pathStatus, handler.status)
		r.Post(pathDownload, handler.download)
		r.Post(pathVerifyCaptcha, handler.verifyCaptcha)
		r.Post(pathDMCARequest, handler.dmcaRequest)
	})

	return r
}
