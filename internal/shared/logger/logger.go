package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clashdash/internal/shared/types"
)

// Init sets up the process-wide logger on stderr.
func Init(cfg types.LogConf) error {
	return InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter is Init with an explicit output, used by the mobile binding and tests.
// An unknown level falls back to info; an unknown format is an error.
func InitWithWriter(cfg types.LogConf, out io.Writer) error {
	levelStr := strings.ToLower(strings.TrimSpace(cfg.Level))
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
		if levelStr != "" {
			fmt.Fprintf(out, "Unknown log level '%s', defaulting to 'info'\n", levelStr)
		}
	}

	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console", "text":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	case "json":
		w = out
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", cfg.Format)
	}

	// 所有时间戳统一为 UTC
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	log.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	Debug().Str("format", cfg.Format).Msgf("Logger initialized with level: %s", level.String())
	return nil
}

// WithComponent 返回一个带有 component 字段的子 logger，便于区分模块输出。
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Event wraps a zerolog event so callers only import this package.
type Event struct {
	*zerolog.Event
}

func Debug() *Event { return &Event{log.Debug()} }
func Info() *Event  { return &Event{log.Info()} }
func Warn() *Event  { return &Event{log.Warn()} }
func Error() *Event { return &Event{log.Error()} }

func (e *Event) Str(key, value string) *Event {
	e.Event = e.Event.Str(key, value)
	return e
}

func (e *Event) Int(key string, value int) *Event {
	e.Event = e.Event.Int(key, value)
	return e
}

func (e *Event) Int64(key string, value int64) *Event {
	e.Event = e.Event.Int64(key, value)
	return e
}

func (e *Event) Dur(key string, value time.Duration) *Event {
	e.Event = e.Event.Dur(key, value)
	return e
}

func (e *Event) Err(err error) *Event {
	e.Event = e.Event.Err(err)
	return e
}
