package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// spotifyClient expands Spotify links into plain "artist title" queries, which
// are then resolved through yt-dlp like any other search.
type spotifyClient struct {
	raw *spotify.Client
}

func newSpotifyClient(clientID, clientSecret string) *spotifyClient {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &spotifyClient{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

// parseSpotifyID recognizes open.spotify.com links and spotify: URIs.
func parseSpotifyID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", fmt.Errorf("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", parts[0])
}

// queries returns one search query per track behind the link.
func (c *spotifyClient) queries(ctx context.Context, typ string, id spotify.ID, limit int) ([]string, error) {
	switch typ {
	case "track":
		t, err := c.raw.GetTrack(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("spotify track: %w", err)
		}
		return []string{trackQuery(t.Name, t.Artists)}, nil

	case "album":
		page, err := c.raw.GetAlbumTracks(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("spotify album: %w", err)
		}
		var out []string
		for {
			for _, t := range page.Tracks {
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
				out = append(out, trackQuery(t.Name, t.Artists))
			}
			if page.Next == "" {
				return out, nil
			}
			if err := c.raw.NextPage(ctx, page); err != nil {
				return out, nil
			}
		}

	case "playlist":
		page, err := c.raw.GetPlaylistItems(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("spotify playlist: %w", err)
		}
		var out []string
		for {
			for _, it := range page.Items {
				if it.Track.Track == nil {
					continue
				}
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
				t := it.Track.Track
				out = append(out, trackQuery(t.Name, t.SimpleTrack.Artists))
			}
			if page.Next == "" {
				return out, nil
			}
			if err := c.raw.NextPage(ctx, page); err != nil {
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported spotify type %q", typ)
}

func trackQuery(name string, artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return name
	}
	return artists[0].Name + " " + name
}
