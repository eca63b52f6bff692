package http

import (
	"net/http"
	"time"

	"github.com/viralforge/media-download-proxy/internal/application"
	"github.com/viralforge/media-download-proxy/internal/domain"
)

// downloadBody carries only the source URL. CAPTCHA tokens go through
// /api/verify-captcha before the gate lets a download through.
type downloadBody struct {
	// URL is any so that a non-string value is treated like a missing one.
	URL any `json:"url"`
}

type captchaBody struct {
	CaptchaToken string `json:"captchaToken"`
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	var body downloadBody
	_ = decodeBody(r, &body)
	rawURL, _ := body.URL.(string)

	res, err := h.service.Download(r.Context(), sessionIDFromContext(r.Context()), application.DownloadRequest{URL: rawURL})
	if err != nil {
		h.writeMappedError(r.Context(), w, "download", err, "Failed to process download")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"download_url":       res.DownloadURL,
		"size_mb":            res.SizeMB,
		"expires_in_seconds": res.ExpiresInSeconds,
	})
}

func (h *Handler) verifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var body captchaBody
	_ = decodeBody(r, &body)

	if err := h.service.VerifyCaptcha(r.Context(), sessionIDFromContext(r.Context()), body.CaptchaToken); err != nil {
		h.writeMappedError(r.Context(), w, "verify_captcha", err, "CAPTCHA verification failed")
		return
	}
	writeMessage(w, http.StatusOK, "CAPTCHA verified")
}

func (h *Handler) dmcaRequest(w http.ResponseWriter, r *http.Request) {
	var body domain.DMCARequest
	_ = decodeBody(r, &body)

	receipt, err := h.service.SubmitDMCA(r.Context(), sessionIDFromContext(r.Context()), readIP(r), body)
	if err != nil {
		h.writeMappedError(r.Context(), w, "submit_dmca", err, "Failed to process DMCA request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   receipt.Message,
		"requestId": receipt.RequestID,
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(h.startedAt).Seconds(),
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context(), sessionIDFromContext(r.Context()))
	if err != nil {
		h.writeMappedError(r.Context(), w, "status", err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": view})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "ready"})
}
