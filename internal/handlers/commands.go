package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/museko-bot/museko/internal/config"
	"github.com/museko-bot/museko/internal/notify"
	"github.com/museko-bot/museko/internal/repository"
	"github.com/museko-bot/museko/internal/resolver"
	"github.com/museko-bot/museko/internal/session"
	"github.com/museko-bot/museko/internal/utils"
	"github.com/museko-bot/museko/internal/voice"
)

const (
	joinTimeout       = 15 * time.Second
	resolveTimeout    = 60 * time.Second
	idleCheckInterval = 10 * time.Second
)

type CommandHandler struct {
	log      *slog.Logger
	cfg      *config.Config
	repo     *repository.Repo
	registry *session.Registry
	res      *resolver.Resolver

	mu         sync.Mutex
	transports map[string]*voice.Transport
	announcer  *notify.Announcer
}

func NewCommandHandler(
	log *slog.Logger,
	cfg *config.Config,
	repo *repository.Repo,
	registry *session.Registry,
	res *resolver.Resolver,
) *CommandHandler {
	return &CommandHandler{
		log:        log,
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		res:        res,
		transports: make(map[string]*voice.Transport),
	}
}

func (h *CommandHandler) setAnnouncer(a *notify.Announcer) {
	h.mu.Lock()
	h.announcer = a
	h.mu.Unlock()
}

func (h *CommandHandler) transportFor(guildID string) *voice.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[guildID]
}

// closeAll tears down every live session, used on shutdown.
func (h *CommandHandler) closeAll() {
	h.mu.Lock()
	guilds := make([]string, 0, len(h.transports))
	for gid := range h.transports {
		guilds = append(guilds, gid)
	}
	h.mu.Unlock()
	for _, gid := range guilds {
		h.destroySession(gid)
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	h.log.Info("registering application commands", "appID", appID, "guildID", guildID)

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track (YouTube URL, HLS URL, Spotify URL, or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
				{Name: "front", Description: "add to front of queue", Type: discordgo.ApplicationCommandOptionBoolean},
				{Name: "skip", Description: "skip the current track", Type: discordgo.ApplicationCommandOptionBoolean},
			},
		},
		{
			Name:        "skip",
			Description: "Skip to the next track",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "number", Description: "number of tracks to skip [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume playback"},
		{
			Name:        "seek",
			Description: "Seek to a position in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "time", Description: "seconds, 1:30 or 1m30s", Type: discordgo.ApplicationCommandOptionString, Required: true},
			},
		},
		{
			Name:        "fseek",
			Description: "Seek forward in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "time", Description: "seconds, 1:30 or 1m30s", Type: discordgo.ApplicationCommandOptionString, Required: true},
			},
		},
		{Name: "stop", Description: "Stop playback and clear the queue"},
		{Name: "clear", Description: "Clear the queue except the current track"},
		{Name: "shuffle", Description: "Shuffle the queue"},
		{Name: "unshuffle", Description: "Stop shuffling additions"},
		{Name: "loop", Description: "Loop the whole queue"},
		{Name: "unloop", Description: "Stop looping the queue"},
		{
			Name:        "move",
			Description: "Move a track within the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "from", Description: "position of the track to move", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				{Name: "to", Description: "position to move the track to", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "remove",
			Description: "Remove tracks from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "position", Description: "position of the track to remove [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "range", Description: "number of tracks to remove [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "reverse", Description: "Reverse the queue"},
		{
			Name:        "speed",
			Description: "Set the playback speed",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "value", Description: "0.5 to 2.0", Type: discordgo.ApplicationCommandOptionNumber, Required: true},
			},
		},
		{
			Name:        "queue",
			Description: "Show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "now-playing", Description: "Show the currently playing track"},
		{Name: "disconnect", Description: "Stop playback and leave the voice channel"},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-notify-channel", Description: "channel for now-playing announcements", Options: []*discordgo.ApplicationCommandOption{
					{Name: "channel", Description: "text channel (omit to disable)", Type: discordgo.ApplicationCommandOptionChannel},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-speed", Description: "playback speed for new sessions", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "0.5 to 2.0", Type: discordgo.ApplicationCommandOptionNumber, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-limit", Description: "max tracks added from one playlist", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "max tracks", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-wait-after-queue-empties", Description: "time to wait before leaving VC", Options: []*discordgo.ApplicationCommandOption{
					{Name: "delay", Description: "seconds (0 never leave)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
			},
		},
	}

	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			h.log.Error("failed to create application command", "guildID", guildID, "command", c.Name, "error", err)
			return err
		}
	}

	h.log.Info("finished registering commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	h.log.Debug("interaction", "guildID", i.GuildID, "userID", userIDOf(i), "command", data.Name)
	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "skip":
		h.cmdSkip(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "seek":
		h.cmdSeek(s, i, false)
	case "fseek":
		h.cmdSeek(s, i, true)
	case "stop":
		h.cmdStop(s, i)
	case "clear":
		h.cmdClear(s, i)
	case "shuffle":
		h.cmdShuffle(s, i, true)
	case "unshuffle":
		h.cmdShuffle(s, i, false)
	case "loop":
		h.cmdLoop(s, i, true)
	case "unloop":
		h.cmdLoop(s, i, false)
	case "move":
		h.cmdMove(s, i)
	case "remove":
		h.cmdRemove(s, i)
	case "reverse":
		h.cmdReverse(s, i)
	case "speed":
		h.cmdSpeed(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "disconnect":
		h.cmdDisconnect(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		h.log.Debug("unknown command", "name", data.Name, "guildID", i.GuildID)
	}
}

// ensureSession returns the guild's session, joining the voice channel and
// creating one when none exists. When a session already exists but the user
// sits in a different channel, the bot moves over.
func (h *CommandHandler) ensureSession(ctx context.Context, dg *discordgo.Session, guildID, channelID string) (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s := h.registry.Peek(guildID); s != nil {
		if tr := h.transports[guildID]; tr != nil && tr.ChannelID() != channelID {
			if err := tr.MoveTo(ctx, channelID); err != nil {
				return nil, fmt.Errorf("move to channel: %w", err)
			}
		}
		return s, nil
	}

	tr := voice.NewTransport(h.log, dg, guildID, channelID)
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if err := tr.Join(joinCtx); err != nil {
		tr.Destroy()
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	pl := voice.NewFramePlayer(h.log, tr)
	announcer := h.announcer
	s := session.New(session.Options{
		GuildID:   guildID,
		Log:       h.log,
		Transport: tr,
		Player:    pl,
		Destroy: func(gid string) {
			go h.destroySession(gid)
		},
		Announce: func(sess *session.Session, t *session.Track) {
			if announcer != nil {
				go announcer.Announce(sess, t)
			}
		},
	})

	if set, err := h.repo.GetSettings(ctx, guildID); err == nil && set != nil && set.DefaultSpeed > 0 {
		s.SetPlaybackSpeed(set.DefaultSpeed)
	}

	h.transports[guildID] = tr
	h.registry.GetOrCreate(guildID, func() *session.Session { return s })
	go h.idleWatch(s)
	return s, nil
}

func (h *CommandHandler) destroySession(guildID string) {
	h.mu.Lock()
	delete(h.transports, guildID)
	h.mu.Unlock()
	h.registry.Destroy(guildID)
}

// idleWatch disconnects the session after the configured wait once nothing is
// playing and the queue is empty. A zero wait means never leave.
func (h *CommandHandler) idleWatch(s *session.Session) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	var idleSince time.Time
	for range ticker.C {
		if h.registry.Peek(s.GuildID) != s {
			return
		}
		if _, ok := s.CurrentTrack(); ok || s.QueueSize() > 0 {
			idleSince = time.Time{}
			continue
		}
		set, err := h.repo.GetSettings(context.Background(), s.GuildID)
		if err != nil || set == nil || set.SecondsWaitAfterEmpty <= 0 {
			idleSince = time.Time{}
			continue
		}
		if idleSince.IsZero() {
			idleSince = time.Now()
			continue
		}
		if time.Since(idleSince) >= time.Duration(set.SecondsWaitAfterEmpty)*time.Second {
			h.log.Info("leaving voice channel after idle wait", "guildID", s.GuildID)
			h.destroySession(s.GuildID)
			return
		}
	}
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	var front, skipCurrent bool
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "query":
			query = o.StringValue()
		case "front":
			front = o.BoolValue()
		case "skip":
			skipCurrent = o.BoolValue()
		}
	}
	guildID := i.GuildID
	memberID := userIDOf(i)
	h.log.Info("cmd play", "guildID", guildID, "userID", memberID, "query", query, "front", front, "skip", skipCurrent)

	chID, ok := userInVoice(s, guildID, memberID)
	if !ok {
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	ctx := context.Background()
	if _, err := h.repo.UpsertSettings(ctx, guildID); err != nil {
		h.log.Warn("upsert settings failed", "guildID", guildID, "error", err)
	}
	set, err := h.repo.GetSettings(ctx, guildID)
	if err != nil {
		h.log.Error("get settings failed", "guildID", guildID, "error", err)
		h.reply(s, i, "internal error", true)
		return
	}

	h.deferReply(s, i, false)

	sess, err := h.ensureSession(ctx, s, guildID, chID)
	if err != nil {
		h.log.Warn("voice connect failed", "guildID", guildID, "channelID", chID, "error", err)
		h.editReply(s, i, "couldn't connect to channel")
		return
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	tracks, err := h.res.Resolve(resolveCtx, query, set.PlaylistLimit)
	if err != nil {
		h.log.Debug("resolve query failed", "guildID", guildID, "query", query, "error", err)
		h.editReply(s, i, "no tracks found")
		return
	}
	if len(tracks) == 0 {
		h.editReply(s, i, "no tracks found")
		return
	}

	_, hadCurrent := sess.CurrentTrack()
	sess.Enqueue(ctx, tracks, front || skipCurrent)
	if skipCurrent && hadCurrent {
		sess.Skip(ctx, 0)
	}

	msg := fmt.Sprintf("%s added to the queue", utils.EscapeMd(tracks[0].Title))
	if len(tracks) > 1 {
		msg = fmt.Sprintf("%s and %d more added to the queue", utils.EscapeMd(tracks[0].Title), len(tracks)-1)
	}
	if front {
		msg += " (front)"
	}
	if skipCurrent && hadCurrent {
		msg += " and current track skipped"
	}
	h.editReply(s, i, msg)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	n := 1
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "number" {
			n = int(o.IntValue())
		}
	}
	if n < 1 {
		h.reply(s, i, "invalid number of tracks to skip", true)
		return
	}
	if _, ok := sess.CurrentTrack(); !ok {
		h.reply(s, i, "nothing to skip", true)
		return
	}
	sess.Skip(context.Background(), n-1)
	h.log.Info("cmd skip", "guildID", i.GuildID, "userID", userIDOf(i), "number", n)
	h.reply(s, i, "skipped", false)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	if !sess.Pause() {
		h.reply(s, i, "not currently playing", true)
		return
	}
	h.log.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "paused", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	if !sess.Resume() {
		h.reply(s, i, "nothing is paused", true)
		return
	}
	h.log.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "resumed", false)
}

func (h *CommandHandler) cmdSeek(s *discordgo.Session, i *discordgo.InteractionCreate, forward bool) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	var tstr string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "time" {
			tstr = o.StringValue()
		}
	}
	sec := utils.ParseDurationString(tstr)
	if sec <= 0 {
		h.reply(s, i, "invalid time", true)
		return
	}
	pos := time.Duration(sec) * time.Second
	if forward {
		pos += sess.CurrentTrackPlayTime()
	}
	if err := sess.Seek(context.Background(), pos); err != nil {
		h.log.Debug("seek failed", "guildID", i.GuildID, "error", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	h.log.Info("cmd seek", "guildID", i.GuildID, "userID", userIDOf(i), "position", pos, "forward", forward)
	h.reply(s, i, "seeked to "+utils.PrettyTime(int(pos.Seconds())), false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	sess.Stop()
	h.log.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "stopped", false)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	sess.Clear()
	h.log.Info("cmd clear", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "queue cleared", false)
}

func (h *CommandHandler) cmdShuffle(s *discordgo.Session, i *discordgo.InteractionCreate, on bool) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	if on {
		sess.Shuffle()
		h.reply(s, i, "shuffled", false)
	} else {
		sess.Unshuffle()
		h.reply(s, i, "no longer shuffling additions", false)
	}
	h.log.Info("cmd shuffle", "guildID", i.GuildID, "userID", userIDOf(i), "on", on)
}

func (h *CommandHandler) cmdLoop(s *discordgo.Session, i *discordgo.InteractionCreate, on bool) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	if on {
		if _, ok := sess.CurrentTrack(); !ok {
			h.reply(s, i, "nothing to loop", true)
			return
		}
		sess.Loop()
		h.reply(s, i, "looping the queue", false)
	} else {
		if !sess.Looped() {
			h.reply(s, i, "the queue isn't looped", true)
			return
		}
		sess.Unloop()
		h.reply(s, i, "stopped looping the queue", false)
	}
	h.log.Info("cmd loop", "guildID", i.GuildID, "userID", userIDOf(i), "on", on)
}

func (h *CommandHandler) cmdMove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	var from, to int
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "from":
			from = int(o.IntValue())
		case "to":
			to = int(o.IntValue())
		}
	}
	if from < 1 || to < 1 {
		h.reply(s, i, "position must be at least 1", true)
		return
	}
	t, ok := sess.Move(from-1, to-1)
	if !ok {
		h.reply(s, i, "positions must be within the queue", true)
		return
	}
	h.log.Info("cmd move", "guildID", i.GuildID, "userID", userIDOf(i), "from", from, "to", to, "title", t.Title)
	h.reply(s, i, fmt.Sprintf("moved %s to position %d", utils.EscapeMd(t.Title), to), false)
}

func (h *CommandHandler) cmdRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	pos, cnt := 1, 1
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "position":
			pos = int(o.IntValue())
		case "range":
			cnt = int(o.IntValue())
		}
	}
	if pos < 1 || cnt < 1 {
		h.reply(s, i, "position and range must be at least 1", true)
		return
	}
	removed := 0
	for n := 0; n < cnt; n++ {
		if _, ok := sess.Remove(pos - 1); !ok {
			break
		}
		removed++
	}
	if removed == 0 {
		h.reply(s, i, "nothing at that position", true)
		return
	}
	h.log.Info("cmd remove", "guildID", i.GuildID, "userID", userIDOf(i), "position", pos, "count", removed)
	h.reply(s, i, ":wastebasket: removed", false)
}

func (h *CommandHandler) cmdReverse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	sess.Reverse()
	h.log.Info("cmd reverse", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "queue reversed", false)
}

func (h *CommandHandler) cmdSpeed(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	var speed float64
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "value" {
			speed = o.FloatValue()
		}
	}
	if speed < 0.5 || speed > 2.0 {
		h.reply(s, i, "speed must be between 0.5 and 2.0", true)
		return
	}
	sess.SetPlaybackSpeed(speed)
	h.log.Info("cmd speed", "guildID", i.GuildID, "userID", userIDOf(i), "speed", speed)
	h.reply(s, i, fmt.Sprintf("playback speed set to %.2fx, applies from the next track or seek", speed), false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	page, pageSize := 1, 10
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "page":
			page = int(o.IntValue())
		case "page-size":
			pageSize = int(o.IntValue())
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 30 {
		pageSize = 30
	}
	embed, err := notify.QueueEmbed(sess, page, pageSize)
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	h.replyEmbed(s, i, embed)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.registry.Peek(i.GuildID)
	if sess == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	if _, ok := sess.CurrentTrack(); !ok {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	h.replyEmbed(s, i, notify.PlayingEmbed(sess))
}

func (h *CommandHandler) cmdDisconnect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if h.registry.Peek(i.GuildID) == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	h.destroySession(i.GuildID)
	h.log.Info("cmd disconnect", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "disconnected", false)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	if _, err := h.repo.UpsertSettings(ctx, i.GuildID); err != nil {
		h.log.Warn("upsert settings failed", "guildID", i.GuildID, "error", err)
	}
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "get":
		set, err := h.repo.GetSettings(ctx, i.GuildID)
		if err != nil {
			h.log.Error("get settings failed", "guildID", i.GuildID, "error", err)
			h.reply(s, i, "failed to fetch config", true)
			return
		}
		notifyCh := "disabled"
		if set.NotifyChannelID != "" {
			notifyCh = "<#" + set.NotifyChannelID + ">"
		}
		wait := "never leave"
		if set.SecondsWaitAfterEmpty > 0 {
			wait = fmt.Sprintf("%ds", set.SecondsWaitAfterEmpty)
		}
		msg := fmt.Sprintf(
			"Config\n- Notify channel: %s\n- Default speed: %.2fx\n- Playlist limit: %d\n- Wait before leaving after queue empty: %s",
			notifyCh, set.DefaultSpeed, set.PlaylistLimit, wait,
		)
		h.reply(s, i, msg, false)
	case "set-notify-channel":
		channelID := ""
		for _, o := range sub.Options {
			if o.Name == "channel" {
				channelID = o.ChannelValue(s).ID
			}
		}
		if err := h.repo.SetNotifyChannel(ctx, i.GuildID, channelID); err != nil {
			h.log.Warn("set notify channel failed", "guildID", i.GuildID, "error", err)
			h.reply(s, i, "failed to update config", true)
			return
		}
		h.log.Info("config updated", "guildID", i.GuildID, "key", "NotifyChannelID", "value", channelID)
		if channelID == "" {
			h.reply(s, i, "announcements disabled", false)
		} else {
			h.reply(s, i, "announcements will go to <#"+channelID+">", false)
		}
	case "set-default-speed":
		var speed float64
		for _, o := range sub.Options {
			if o.Name == "value" {
				speed = o.FloatValue()
			}
		}
		if speed < 0.5 || speed > 2.0 {
			h.reply(s, i, "speed must be between 0.5 and 2.0", true)
			return
		}
		if err := h.repo.SetDefaultSpeed(ctx, i.GuildID, speed); err != nil {
			h.log.Warn("set default speed failed", "guildID", i.GuildID, "error", err)
			h.reply(s, i, "failed to update config", true)
			return
		}
		h.log.Info("config updated", "guildID", i.GuildID, "key", "DefaultSpeed", "value", speed)
		h.reply(s, i, "default speed updated", false)
	case "set-playlist-limit":
		limit := 0
		for _, o := range sub.Options {
			if o.Name == "limit" {
				limit = int(o.IntValue())
			}
		}
		if limit < 1 {
			h.reply(s, i, "invalid limit", true)
			return
		}
		if err := h.repo.SetPlaylistLimit(ctx, i.GuildID, limit); err != nil {
			h.log.Warn("set playlist limit failed", "guildID", i.GuildID, "error", err)
			h.reply(s, i, "failed to update config", true)
			return
		}
		h.log.Info("config updated", "guildID", i.GuildID, "key", "PlaylistLimit", "value", limit)
		h.reply(s, i, "limit updated", false)
	case "set-wait-after-queue-empties":
		delay := -1
		for _, o := range sub.Options {
			if o.Name == "delay" {
				delay = int(o.IntValue())
			}
		}
		if delay < 0 {
			h.reply(s, i, "invalid delay", true)
			return
		}
		if err := h.repo.SetWaitAfterEmpty(ctx, i.GuildID, delay); err != nil {
			h.log.Warn("set wait after empty failed", "guildID", i.GuildID, "error", err)
			h.reply(s, i, "failed to update config", true)
			return
		}
		h.log.Info("config updated", "guildID", i.GuildID, "key", "SecondsWaitAfterEmpty", "value", delay)
		h.reply(s, i, "wait delay updated", false)
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		h.log.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "error", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	}); err != nil {
		h.log.Warn("embed reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "error", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		h.log.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "error", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		h.log.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "error", err)
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	return i.Member.User.ID
}
