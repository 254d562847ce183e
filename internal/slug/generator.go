package slug

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// MaxTitleSlugLen caps slugs derived from page titles.
	MaxTitleSlugLen = 10
	// Placeholder is used when a URL yields nothing usable at all.
	Placeholder = "link"

	DefaultFetchTimeout = 5 * time.Second
)

// Generator derives candidate codes from URLs. It prefers the page title and
// falls back to the host name; it never fails and never returns "".
type Generator struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewGenerator returns a Generator that gives each fetch at most timeout.
// A nil fetcher disables the title strategy.
func NewGenerator(fetcher Fetcher, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{fetcher: fetcher, timeout: timeout, logger: logger}
}

// DeriveSlug returns a title-based slug of at most MaxTitleSlugLen
// characters, or the normalized host name when the title cannot be used.
// Concurrent calls for the same URL share one fetch.
func (g *Generator) DeriveSlug(ctx context.Context, rawURL string) string {
	v, _, _ := g.group.Do(rawURL, func() (any, error) {
		if s := g.fromTitle(ctx, rawURL); s != "" {
			return s, nil
		}
		return HostSlug(rawURL), nil
	})
	return v.(string)
}

func (g *Generator) fromTitle(ctx context.Context, rawURL string) string {
	if g.fetcher == nil {
		return ""
	}
	// The fetch is shared between callers, so it must not die with the
	// first caller's request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	body, err := g.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		g.logger.Debug("title fetch failed, using host", "url", rawURL, "error", err)
		return ""
	}
	defer body.Close()

	title, err := extractTitle(body)
	if err != nil {
		g.logger.Debug("title parse failed, using host", "url", rawURL, "error", err)
		return ""
	}
	return truncate(Normalize(title), MaxTitleSlugLen)
}

// HostSlug normalizes the URL's host name without its leading "www.".
// It returns Placeholder when nothing survives normalization.
func HostSlug(rawURL string) string {
	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if s := Normalize(host); s != "" {
		return s
	}
	return Placeholder
}
