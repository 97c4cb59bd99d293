package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validatePair(&cfg.Pair)...)
	errs = append(errs, validateLog(&cfg.Log)...)

	return errors.Join(errs...)
}

func validateRelay(r *RelayConfig) []error {
	var errs []error

	if r.URL != "" && !strings.HasPrefix(r.URL, "ws://") && !strings.HasPrefix(r.URL, "wss://") {
		errs = append(errs, fmt.Errorf("relay.url: must start with ws:// or wss://, got %q", r.URL))
	}

	if r.Listen != "" {
		if _, _, err := net.SplitHostPort(r.Listen); err != nil {
			errs = append(errs, fmt.Errorf("relay.listen: %w", err))
		}
	}

	if r.TokenURL != "" && (r.ClientID == "" || r.ClientSecret == "") {
		errs = append(errs, errors.New("relay.token_url: requires relay.client_id and relay.client_secret"))
	}

	return errs
}

func validatePair(p *PairConfig) []error {
	if p.Role == "" || p.Role == "phone" || p.Role == "watch" {
		return nil
	}

	return []error{fmt.Errorf("pair.role: must be phone or watch, got %q", p.Role)}
}

func validateLog(l *LogConfig) []error {
	if _, err := ParseLogLevel(l.Level); err != nil {
		return []error{err}
	}

	return nil
}

// ParseLogLevel maps a config/flag level name onto a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
}
