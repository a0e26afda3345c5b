package observe

import (
	"io"
	log "log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// ParseLevel maps a level name to a slog level. Unknown names give info and
// false.
func ParseLevel(s string) (log.Level, bool) {
	l, ok := logLevelMap[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return log.LevelInfo, false
	}
	return l, true
}

// SetupLogging installs a tint handler writing to w as the default logger.
func SetupLogging(w io.Writer, level string) *log.Logger {
	l, _ := ParseLevel(level)
	logger := log.New(tint.NewHandler(w, &tint.Options{
		Level:      l,
		TimeFormat: "15:04:05.000",
	}))
	log.SetDefault(logger)
	return logger
}
