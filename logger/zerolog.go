package logger

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

type ZerologLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewZerolog creates a zerolog-backed Logger instance that writes to the
// given writer.
func NewZerolog(level Level, output io.Writer) Logger {
	zl := zerolog.New(output).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &ZerologLogger{logger: zl}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	// zerolog calls os.Exit(1) after writing the message.
	l.logger.Fatal().Fields(keysAndValues).Msg(msg)
}

func (l *ZerologLogger) With(keyValues ...any) Logger {
	newLog := l.logger.With().Fields(keyValues).Logger()
	return &ZerologLogger{logger: newLog}
}

func (l *ZerologLogger) Level() Level {
	levelMap := map[zerolog.Level]Level{
		zerolog.DebugLevel: DebugLevel,
		zerolog.InfoLevel:  InfoLevel,
		zerolog.WarnLevel:  WarnLevel,
		zerolog.ErrorLevel: ErrorLevel,
		zerolog.FatalLevel: FatalLevel,
	}
	if level, ok := levelMap[l.logger.GetLevel()]; ok {
		return level
	}
	return ErrorLevel
}

func (l *ZerologLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger = l.logger.Level(toZerologLevel(level))
}

func toZerologLevel(level Level) zerolog.Level {
	levelMap := map[Level]zerolog.Level{
		DebugLevel: zerolog.DebugLevel,
		InfoLevel:  zerolog.InfoLevel,
		WarnLevel:  zerolog.WarnLevel,
		ErrorLevel: zerolog.ErrorLevel,
		FatalLevel: zerolog.FatalLevel,
	}
	if zlLevel, ok := levelMap[level]; ok {
		return zlLevel
	}
	return zerolog.ErrorLevel
}
