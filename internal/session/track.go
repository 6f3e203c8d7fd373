package session

import (
	"context"
	"time"
)

// TrackVariant tags where a track's media comes from.
type TrackVariant int

const (
	VariantYouTube TrackVariant = iota
	VariantHLS
)

// ResourceOptions are baked into a resource at production time. Changing the
// session speed later does not affect a resource already in flight.
type ResourceOptions struct {
	Speed float64       // 1.0 when zero
	Seek  time.Duration // 0 = start of media
}

// TrackSource produces playable resources for tracks. May fail on network or
// format errors; failures are recoverable (the engine skips to the next track).
type TrackSource interface {
	Produce(ctx context.Context, t *Track, opts ResourceOptions) (AudioResource, error)
}

// Track is an immutable descriptor of one playable item, identified by
// link+variant. It can mint a fresh resource any number of times; the
// resources themselves are single-use.
type Track struct {
	Link    string
	Variant TrackVariant
	Title   string
	Artist  string
	Length  time.Duration
	IsLive  bool

	source TrackSource
}

func NewTrack(link string, variant TrackVariant, source TrackSource) *Track {
	return &Track{Link: link, Variant: variant, source: source}
}

// Clone returns an independent instance with the same identity. The live
// queue and the loop-queue must never share instances, so that exhausting a
// resource produced from one never aliases the other.
func (t *Track) Clone() *Track {
	c := *t
	return &c
}

func (t *Track) Resource(ctx context.Context, opts ResourceOptions) (AudioResource, error) {
	if opts.Speed == 0 {
		opts.Speed = 1.0
	}
	return t.source.Produce(ctx, t, opts)
}
