// Package logging builds the process logger.
//
// New returns a *slog.Logger whose handler adds identifiers carried by the
// context and masks sensitive values:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	ctx = logging.WithTenant(ctx, "acme")
//	logger.InfoContext(ctx, "step blocked", "api_key", key) // tenant_id added, api_key masked
//
// Attributes with sensitive keys (password, token, api_key, ...) are
// masked entirely; other string values are matched against built-in and
// configured patterns such as bearer tokens, API keys and emails.
package logging
