package config

import (
	"strings"
)

func normalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverGitHub
	}

	cfg.GitHub.Token = strings.TrimSpace(cfg.GitHub.Token)
	cfg.GitHub.Repo = strings.Trim(strings.TrimSpace(cfg.GitHub.Repo), "/")
	cfg.GitHub.Branch = strings.TrimSpace(cfg.GitHub.Branch)
	cfg.GitHub.APIURL = strings.TrimRight(strings.TrimSpace(cfg.GitHub.APIURL), "/")

	cfg.Logs.MoodPath = normalizeRepoPath(cfg.Logs.MoodPath, defaultMoodPath)
	cfg.Logs.RemindersPath = normalizeRepoPath(cfg.Logs.RemindersPath, defaultRemindersPath)
	cfg.Logs.OnMalformed = strings.ToLower(strings.TrimSpace(cfg.Logs.OnMalformed))
	cfg.Reference.NoticePath = strings.Trim(strings.TrimSpace(cfg.Reference.NoticePath), "/")

	cfg.S3.Bucket = strings.TrimSpace(cfg.S3.Bucket)
	cfg.S3.Prefix = strings.Trim(strings.TrimSpace(cfg.S3.Prefix), "/")
	cfg.Log.Dir = strings.TrimSpace(cfg.Log.Dir)
}

func normalizeRepoPath(raw, fallback string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" {
		return fallback
	}
	return p
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}
