// Package logging holds the process-wide zerolog logger used by manytomorph.
package logging

import (
	"context"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

func init() {
	SetGlobalLogger(zerolog.Nop())
}

func SetGlobalLogger(logger zerolog.Logger) {
	Logger = logger
}

// SetLevel parses a level name ("debug", "warn", ...) and applies it to Logger.
// An empty name leaves the logger unchanged.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	Logger = Logger.Level(level)
	return nil
}

func Debug() *zerolog.Event { return Logger.Debug() }

func Info() *zerolog.Event { return Logger.Info() }

func Error() *zerolog.Event { return Logger.Error() }

// Ctx returns the logger attached to ctx, or Logger when there is none.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &Logger
}
