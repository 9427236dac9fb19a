package config

import "strings"

// Environment variables that override secrets from the file.
const (
	EnvDiscordToken  = "LEAGUEBOT_DISCORD_TOKEN"
	EnvTelegramToken = "LEAGUEBOT_TELEGRAM_TOKEN"
	EnvAdminToken    = "LEAGUEBOT_ADMIN_TOKEN"
	EnvDatabaseDSN   = "LEAGUEBOT_DATABASE_DSN"
)

// ApplyEnv overwrites secret fields with non-empty environment values.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Platform.Discord.Token, EnvDiscordToken)
	set(&cfg.Platform.Telegram.Token, EnvTelegramToken)
	set(&cfg.Admin.Token, EnvAdminToken)
	set(&cfg.Storage.DSN, EnvDatabaseDSN)
}
