package repository

import (
	"database/sql"
	"time"
)

type Repo struct {
	db *sql.DB
}

// Settings is the per-guild configuration row.
type Settings struct {
	GuildID               string
	NotifyChannelID       string // empty = no "now playing" announcements
	DefaultSpeed          float64
	PlaylistLimit         int
	SecondsWaitAfterEmpty int
}

// CachedLink is one resolved page-link → media-URL entry.
type CachedLink struct {
	Link       string
	MediaURL   string
	ResolvedAt time.Time
}
