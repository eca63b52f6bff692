package ports

import "context"

// ExtractedMedia is what the extraction collaborator returns for a source URL.
type ExtractedMedia struct {
	DownloadURL string
	// SizeMB is zero when the collaborator did not report a size.
	SizeMB float64
}

// MediaExtractor turns a social-media URL into a retrievable media locator.
// Implementations return domain.ErrUpstreamRateLimited for upstream throttling
// and domain.ErrUpstream for every other transport or protocol failure.
type MediaExtractor interface {
	Extract(ctx context.Context, sourceURL string) (ExtractedMedia, error)
}
