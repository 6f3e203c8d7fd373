package resolver

import (
	"context"
	"fmt"
	"time"
)

// Media URLs minted by yt-dlp carry signed expiry parameters; five hours is
// safely inside their validity window.
const linkCacheTTL = 5 * time.Hour

// mediaURL resolves a page link to a streamable media URL, reusing a cached
// resolution while it is still fresh. Cache failures only cost a re-resolve.
func (r *Resolver) mediaURL(ctx context.Context, link string) (string, error) {
	if cached, err := r.repo.LinkCacheGet(ctx, link); err == nil && cached != nil {
		if time.Since(cached.ResolvedAt) < linkCacheTTL {
			return cached.MediaURL, nil
		}
	}

	info, err := fetchInfo(ctx, link)
	if err != nil {
		return "", err
	}
	if info.MediaURL == "" {
		return "", fmt.Errorf("no usable media URL for %s", link)
	}

	if err := r.repo.LinkCachePut(ctx, link, info.MediaURL); err != nil {
		r.log.Warn("cache resolved link", "link", link, "err", err)
	}
	return info.MediaURL, nil
}
