package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/museko-bot/museko/internal/repository"
	"github.com/museko-bot/museko/internal/session"
)

// Announcer posts "now playing" embeds to a guild's configured notification
// channel. Announce failures are logged and swallowed so a missing channel or
// permission never disturbs playback.
type Announcer struct {
	log  *slog.Logger
	dg   *discordgo.Session
	repo *repository.Repo
}

func NewAnnouncer(log *slog.Logger, dg *discordgo.Session, repo *repository.Repo) *Announcer {
	return &Announcer{log: log, dg: dg, repo: repo}
}

func (a *Announcer) Announce(s *session.Session, t *session.Track) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	settings, err := a.repo.GetSettings(ctx, s.GuildID)
	if err != nil {
		a.log.Warn("announce: load settings", "guildID", s.GuildID, "error", err)
		return
	}
	if settings == nil || settings.NotifyChannelID == "" {
		return
	}
	if _, err := a.dg.ChannelMessageSendEmbed(settings.NotifyChannelID, PlayingEmbed(s)); err != nil {
		a.log.Warn("announce: send embed",
			"guildID", s.GuildID,
			"channelID", settings.NotifyChannelID,
			"track", t.Title,
			"error", err)
	}
}
