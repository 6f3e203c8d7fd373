package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// UpsertSettings ensures a settings row exists and returns it.
func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, notify_channel_id, default_speed, playlist_limit, seconds_wait_after_empty
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	if err := row.Scan(
		&s.GuildID,
		&s.NotifyChannelID,
		&s.DefaultSpeed,
		&s.PlaylistLimit,
		&s.SecondsWaitAfterEmpty,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SetNotifyChannel(ctx context.Context, guild, channelID string) error {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	_, err := r.db.ExecContext(ctx,
		`UPDATE settings SET notify_channel_id=? WHERE guild_id=?`, channelID, guild)
	return err
}

func (r *Repo) SetDefaultSpeed(ctx context.Context, guild string, speed float64) error {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	_, err := r.db.ExecContext(ctx,
		`UPDATE settings SET default_speed=? WHERE guild_id=?`, speed, guild)
	return err
}

func (r *Repo) SetPlaylistLimit(ctx context.Context, guild string, limit int) error {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	_, err := r.db.ExecContext(ctx,
		`UPDATE settings SET playlist_limit=? WHERE guild_id=?`, limit, guild)
	return err
}

func (r *Repo) SetWaitAfterEmpty(ctx context.Context, guild string, seconds int) error {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	_, err := r.db.ExecContext(ctx,
		`UPDATE settings SET seconds_wait_after_empty=? WHERE guild_id=?`, seconds, guild)
	return err
}

// LinkCacheGet returns the cached resolution for link, or nil when absent.
func (r *Repo) LinkCacheGet(ctx context.Context, link string) (*CachedLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT link, media_url, resolved_at FROM link_cache WHERE link=?`, link)
	var c CachedLink
	var resolvedAt int64
	if err := row.Scan(&c.Link, &c.MediaURL, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.ResolvedAt = time.Unix(resolvedAt, 0)
	return &c, nil
}

func (r *Repo) LinkCachePut(ctx context.Context, link, mediaURL string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO link_cache(link, media_url, resolved_at) VALUES (?,?,?)`,
		link, mediaURL, time.Now().Unix())
	return err
}

// LinkCachePrune drops entries older than the cutoff.
func (r *Repo) LinkCachePrune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM link_cache WHERE resolved_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
