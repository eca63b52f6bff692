package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func readIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// writeMappedError renders err through the domain mapping. Unexpected
// internal failures are charged to the session like a recovered panic.
func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error, fallback string) {
	status, body := mapDomainError(err, fallback)
	if h.opts.Development && status >= http.StatusInternalServerError {
		body.Details = err.Error()
	}
	logHTTPOperationError(ctx, operation, status, body.Code, body.Error, err)
	if body.Code == codeInternalError {
		if sessionID := sessionIDFromContext(ctx); sessionID != "" {
			h.service.ReportFault(context.WithoutCancel(ctx), sessionID, "Internal error on "+operation)
		}
	}
	writeError(w, status, body)
}
