package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/museko-bot/museko/internal/config"
	"github.com/museko-bot/museko/internal/repository"
	"github.com/museko-bot/museko/internal/session"
)

// Resolver turns user queries into Tracks and Tracks into playable resources.
// It is the session's TrackSource: production failures are reported to the
// caller and recovered there by skipping to the next track.
type Resolver struct {
	log     *slog.Logger
	cfg     *config.Config
	repo    *repository.Repo
	spotify *spotifyClient
}

func New(log *slog.Logger, cfg *config.Config, repo *repository.Repo) *Resolver {
	r := &Resolver{log: log, cfg: cfg, repo: repo}
	if cfg.SpotifyEnabled() {
		r.spotify = newSpotifyClient(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	return r
}

type queryKind int

const (
	kindSearch queryKind = iota
	kindURL
	kindHLS
	kindSpotify
)

func classifyQuery(q string) queryKind {
	if _, _, err := parseSpotifyID(q); err == nil {
		return kindSpotify
	}
	u, err := url.Parse(q)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return kindSearch
	}
	if strings.HasSuffix(u.Path, ".m3u8") || strings.HasSuffix(u.Path, ".m3u") {
		return kindHLS
	}
	return kindURL
}

// Resolve expands a query (link, spotify link, or search text) into tracks.
// The result preserves the source order; a playlist link yields one track per
// entry up to limit (0 = unlimited).
func (r *Resolver) Resolve(ctx context.Context, query string, limit int) ([]*session.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	switch classifyQuery(query) {
	case kindHLS:
		t := session.NewTrack(query, session.VariantHLS, r)
		t.Title = query
		t.IsLive = true
		return []*session.Track{t}, nil

	case kindSpotify:
		if r.spotify == nil {
			return nil, fmt.Errorf("spotify support is not configured")
		}
		typ, id, err := parseSpotifyID(query)
		if err != nil {
			return nil, err
		}
		queries, err := r.spotify.queries(ctx, typ, id, limit)
		if err != nil {
			return nil, err
		}
		var out []*session.Track
		for _, q := range queries {
			ts, err := r.search(ctx, q)
			if err != nil {
				r.log.Warn("spotify track lookup failed", "query", q, "err", err)
				continue
			}
			out = append(out, ts...)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no playable tracks behind %s", query)
		}
		return out, nil

	case kindURL:
		info, err := fetchInfo(ctx, query)
		if err != nil {
			return nil, err
		}
		return r.tracksFromInfo(info, limit), nil

	default:
		return r.search(ctx, query)
	}
}

func (r *Resolver) search(ctx context.Context, text string) ([]*session.Track, error) {
	info, err := fetchInfo(ctx, "ytsearch1:"+text)
	if err != nil {
		return nil, err
	}
	ts := r.tracksFromInfo(info, 1)
	if len(ts) == 0 {
		return nil, fmt.Errorf("no results for %q", text)
	}
	return ts, nil
}

func (r *Resolver) tracksFromInfo(info *mediaInfo, limit int) []*session.Track {
	entries := info.Entries
	if len(entries) == 0 {
		entries = []mediaInfo{*info}
	}
	var out []*session.Track
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		link := e.PageURL
		if link == "" {
			link = e.MediaURL
		}
		if link == "" {
			continue
		}
		t := session.NewTrack(link, session.VariantYouTube, r)
		t.Title = e.Title
		t.Artist = e.Uploader
		t.Length = e.Duration
		t.IsLive = e.IsLive
		out = append(out, t)
	}
	return out
}

// Produce implements session.TrackSource. The returned resource's ffmpeg
// process is detached from ctx so that it survives the advance call that
// produced it.
func (r *Resolver) Produce(ctx context.Context, t *session.Track, opts session.ResourceOptions) (session.AudioResource, error) {
	inputURL := t.Link
	if t.Variant != session.VariantHLS {
		var err error
		inputURL, err = r.mediaURL(ctx, t.Link)
		if err != nil {
			return nil, fmt.Errorf("resolve media url: %w", err)
		}
	}
	res, err := newAudioResource(context.WithoutCancel(ctx), inputURL, opts.Seek, opts.Speed)
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return res, nil
}
