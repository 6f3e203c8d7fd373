package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

// mediaInfo is the slice of yt-dlp output this bot cares about.
type mediaInfo struct {
	ID       string
	Title    string
	Uploader string
	Duration time.Duration
	IsLive   bool
	PageURL  string
	MediaURL string

	Entries []mediaInfo // non-empty for playlists and searches
}

var installOnce sync.Once

// fetchInfo runs yt-dlp against url (or a search expression) and maps the
// extracted info. The yt-dlp binary is installed on first use.
func fetchInfo(ctx context.Context, url string) (*mediaInfo, error) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("parse yt-dlp json: no info returned")
	}
	ext := infos[0]

	out := mapExtracted(ext)
	for _, e := range ext.Entries {
		if e == nil {
			continue
		}
		out.Entries = append(out.Entries, *mapExtracted(e))
	}
	return out, nil
}

func mapExtracted(e *ytdlp.ExtractedInfo) *mediaInfo {
	m := &mediaInfo{
		ID:       e.ID,
		Title:    strDefault(e.Title),
		Uploader: strDefault(e.Uploader),
		IsLive:   boolDefault(e.IsLive),
		PageURL:  strDefault(e.WebpageURL),
	}
	if e.Duration != nil {
		m.Duration = time.Duration(*e.Duration * float64(time.Second))
	}
	m.MediaURL = pickMediaURL(e)
	return m
}

// pickMediaURL prefers requested formats, then the top-level URL, then any
// format with an http URL.
func pickMediaURL(e *ytdlp.ExtractedInfo) string {
	for _, f := range e.RequestedFormats {
		if f != nil && strings.HasPrefix(f.URL, "http") {
			return f.URL
		}
	}
	if u := strDefault(e.URL); strings.HasPrefix(u, "http") {
		return u
	}
	for _, f := range e.Formats {
		if f != nil && strings.HasPrefix(f.URL, "http") {
			return f.URL
		}
	}
	return strDefault(e.WebpageURL)
}

func strDefault(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolDefault(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
