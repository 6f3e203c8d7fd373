package config

type Config struct {
	DiscordToken          string
	SpotifyClientID       string
	SpotifyClientSecret   string
	DataDir               string
	BotStatus             string // online/dnd/idle
	BotActivity           string
	RegisterCommandsOnBot bool
}

// SpotifyEnabled reports whether both Spotify credentials are present.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}
