package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/museko-bot/museko/internal/config"
	"github.com/museko-bot/museko/internal/notify"
	"github.com/museko-bot/museko/internal/repository"
	"github.com/museko-bot/museko/internal/resolver"
	"github.com/museko-bot/museko/internal/session"
)

type Bot struct {
	cfg      *config.Config
	log      *slog.Logger
	repo     *repository.Repo
	registry *session.Registry
	cmd      *CommandHandler
}

func NewBot(log *slog.Logger, cfg *config.Config, repo *repository.Repo) *Bot {
	registry := session.NewRegistry()
	res := resolver.New(log, cfg, repo)
	cmd := NewCommandHandler(log, cfg, repo, registry, res)
	return &Bot{cfg: cfg, log: log, repo: repo, registry: registry, cmd: cmd}
}

func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b.cmd.setAnnouncer(notify.NewAnnouncer(b.log, dg, b.repo))

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("connected", "user", s.State.User.Username)
		appID := s.State.User.ID

		if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
			Status: b.cfg.BotStatus,
			Activities: []*discordgo.Activity{
				{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening},
			},
		}); err != nil {
			b.log.Warn("update status", "error", err)
		}

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				b.log.Error("register global commands", "error", err)
			} else {
				b.log.Info("registered global application commands")
			}
		} else {
			var wg sync.WaitGroup
			for _, g := range s.State.Guilds {
				wg.Add(1)
				go func(guildID string) {
					defer wg.Done()
					if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
						b.log.Error("register guild commands", "guildID", guildID, "error", err)
					}
				}(g.ID)
			}
			wg.Wait()

			if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
				b.log.Error("clear global commands", "error", err)
			}
			b.log.Info("registered commands on all guilds")
		}
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		appID := s.State.User.ID
		if err := b.cmd.RegisterCommands(s, appID, g.ID); err != nil {
			b.log.Error("register guild commands on join", "guildID", g.ID, "error", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)

	// The voice gateway does not surface close codes for us, so moves and
	// kicks are detected from our own voice state. Losing the channel is a
	// kick: the close code goes in with no reconnect to follow, and the
	// supervisor tears down after its grace period. Landing in a different
	// channel is a move: the transport retargets and re-enters Connecting,
	// which is the reconnect signal the supervisor's grace period waits for.
	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if s.State.User == nil || vs.UserID != s.State.User.ID {
			return
		}
		tr := b.cmd.transportFor(vs.GuildID)
		if tr == nil {
			return
		}
		switch {
		case vs.ChannelID == "":
			b.log.Info("removed from voice channel", "guildID", vs.GuildID)
			tr.NotifyClosed(session.CloseCodeMovedOrKicked)
		case vs.ChannelID != tr.ChannelID():
			b.log.Info("moved to another voice channel",
				"guildID", vs.GuildID, "channelID", vs.ChannelID)
			tr.NotifyMoved(vs.ChannelID)
		}
	})

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.cmd.closeAll()
	return nil
}
