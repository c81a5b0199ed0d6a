package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Server.APIKey)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.Discourse.APIKey)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Lottery.AllowedCategoryIDs != nil {
		out.Lottery.AllowedCategoryIDs = make([]int64, len(cfg.Lottery.AllowedCategoryIDs))
		copy(out.Lottery.AllowedCategoryIDs, cfg.Lottery.AllowedCategoryIDs)
	}
	if cfg.Lottery.ExcludedGroupIDs != nil {
		out.Lottery.ExcludedGroupIDs = make([]int64, len(cfg.Lottery.ExcludedGroupIDs))
		copy(out.Lottery.ExcludedGroupIDs, cfg.Lottery.ExcludedGroupIDs)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
