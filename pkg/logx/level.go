package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ParseLevel maps a config level name to a level. Unknown or empty names
// mean info.
func ParseLevel(s string) Level { return parseLevel(s, LevelInfo) }

func parseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return def
	}
	switch lvl {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError:
		return lvl
	default:
		return def
	}
}
