package config

import (
	"os"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		SpotifyClientID:       os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:   os.Getenv("SPOTIFY_CLIENT_SECRET"),
		DataDir:               getenv("DATA_DIR", "./data"),
		BotStatus:             getenv("BOT_STATUS", "online"),
		BotActivity:           getenv("BOT_ACTIVITY", "music"),
		RegisterCommandsOnBot: getenv("REGISTER_COMMANDS_ON_BOT", "false") == "true",
	}

	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
