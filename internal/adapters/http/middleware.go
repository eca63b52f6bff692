package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/application"
	"github.com/viralforge/media-download-proxy/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeySessionID ctxKey = "session_id"

	sessionCookieName = "__session_id"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware catches panics raised before a session is attached.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, apiError{Error: "Internal server error", Code: codeInternalError})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// faultMiddleware catches panics inside the session chain and charges them
// to the session.
func (h *Handler) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			ctx := r.Context()
			detail := fmt.Sprint(rec)
			httpLogger().ErrorContext(ctx, "unhandled error",
				"operation", "http_fault",
				"outcome", "failure",
				"request_id", requestIDFromContext(ctx),
				"session_hash", sessionIDFromContext(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"panic", detail,
			)
			h.service.ReportFault(context.WithoutCancel(ctx), sessionIDFromContext(ctx), "Unhandled error on "+r.URL.Path)
			body := apiError{Error: "Internal server error", Code: codeInternalError}
			if h.opts.Development {
				body.Details = detail
			}
			writeError(w, http.StatusInternalServerError, body)
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		}
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "http request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}

func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		header.Set("Cross-Origin-Resource-Policy", "same-site")
		if !h.opts.Development {
			header.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// cors admits the single configured front-end origin with credentials.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		header := w.Header()
		header.Add("Vary", "Origin")
		allowed := origin != "" && origin == h.opts.AllowedOrigin
		if allowed {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				header.Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware resolves the cookie to a session and refreshes the cookie.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw string
		if c, err := r.Cookie(sessionCookieName); err == nil {
			raw = c.Value
		}

		handle, err := h.service.ResolveSession(r.Context(), raw, requestMeta(r))
		if err != nil {
			h.writeMappedError(r.Context(), w, "resolve_session", err, "Internal server error")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    handle.Token,
			Path:     "/",
			MaxAge:   int(h.service.Config().SessionTimeout / time.Second),
			HttpOnly: true,
			Secure:   !h.opts.Development,
			SameSite: http.SameSiteStrictMode,
		})

		ctx := context.WithValue(r.Context(), ctxKeySessionID, handle.Session.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := h.service.CheckRateLimit(r.Context(), sessionIDFromContext(r.Context())); err != nil {
			h.writeMappedError(r.Context(), w, "check_rate_limit", err, "Internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		action := application.ActionGeneral
		if r.URL.Path == pathDownload {
			action = application.ActionDownload
		}
		if err := h.service.Authorize(r.Context(), sessionIDFromContext(r.Context()), action); err != nil {
			h.writeMappedError(r.Context(), w, "authorize", err, "Internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func exemptPath(path string) bool {
	return path == pathHealth || path == pathStatus
}

func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		Path:           r.URL.Path,
		UserAgent:      r.UserAgent(),
		Accept:         r.Header.Get("Accept"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Referer:        r.Referer(),
	}
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}

func sessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeySessionID).(string); ok {
		return s
	}
	return ""
}
