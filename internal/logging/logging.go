package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultFilter = "info"

// ParseFilter reads a filter such as "info", "warn,hana=debug" or "off".
// Bare levels set the level; "hana=<level>" entries override it. Entries for other targets are ignored.
// "trace" is treated as debug. ok is false when logging is off.
func ParseFilter(filter string) (level zapcore.Level, ok bool, err error) {
	level = zapcore.InfoLevel
	var override *zapcore.Level
	off := false
	for _, directive := range strings.Split(filter, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		target, lvl, hasTarget := strings.Cut(directive, "=")
		if !hasTarget {
			lvl = target
		} else if target != "hana" && !strings.HasPrefix(target, "hana::") && !strings.HasPrefix(target, "hana.") {
			continue
		}

		lvl = strings.ToLower(strings.TrimSpace(lvl))
		if lvl == "off" {
			if hasTarget {
				off = true
			} else if override == nil {
				off = true
			}
			continue
		}
		if lvl == "trace" {
			lvl = "debug"
		}
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return 0, false, fmt.Errorf("parsing log filter %q: %w", filter, err)
		}
		if hasTarget {
			override = &parsed
			off = false
		} else {
			level = parsed
			if override == nil {
				off = false
			}
		}
	}
	if override != nil {
		level = *override
	}
	return level, !off, nil
}

// New builds the logger for a binary from a filter string, see ParseFilter.
func New(filter string) (*zap.SugaredLogger, error) {
	if filter == "" {
		filter = DefaultFilter
	}
	level, ok, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zap.NewNop().Sugar(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = level > zapcore.DebugLevel
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}
