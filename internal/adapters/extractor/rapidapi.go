package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

const maxResponseBytes = 1 << 20

type Config struct {
	// BaseURL overrides https://{Host}, mostly for tests and self-hosted mirrors.
	BaseURL    string
	Host       string
	APIKey     string
	HTTPClient *http.Client
}

// RapidAPIClient asks the RapidAPI media downloader for a direct link.
type RapidAPIClient struct {
	endpoint   string
	host       string
	apiKey     string
	httpClient *http.Client
}

func NewRapidAPIClient(cfg Config) (*RapidAPIClient, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("rapidapi host is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://" + host
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RapidAPIClient{
		endpoint:   base + "/download",
		host:       host,
		apiKey:     cfg.APIKey,
		httpClient: client,
	}, nil
}

var _ ports.MediaExtractor = (*RapidAPIClient)(nil)

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	DownloadURL string  `json:"download_url"`
	URL         string  `json:"url"`
	SizeMB      float64 `json:"size_mb"`
}

func (c *RapidAPIClient) Extract(ctx context.Context, sourceURL string) (ports.ExtractedMedia, error) {
	body, err := json.Marshal(extractRequest{URL: sourceURL})
	if err != nil {
		return ports.ExtractedMedia{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.ExtractedMedia{}, fmt.Errorf("%w: build request: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.ExtractedMedia{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.ExtractedMedia{}, fmt.Errorf("%w: read response: %v", domain.ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ports.ExtractedMedia{}, domain.ErrUpstreamRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return ports.ExtractedMedia{}, fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	}

	var decoded extractResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ports.ExtractedMedia{}, fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
	}
	link := decoded.DownloadURL
	if link == "" {
		link = decoded.URL
	}
	return ports.ExtractedMedia{DownloadURL: link, SizeMB: decoded.SizeMB}, nil
}
