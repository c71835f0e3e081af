package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()

// Initialize инициализирует глобальный логгер
func Initialize(level string) error {
	l, err := New(level)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// New строит логгер: development-конфигурация для debug, JSON для остальных уровней
func New(level string) (*zap.Logger, error) {
	var config zap.Config

	switch level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "info", "warn", "error":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	default:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	// Настраиваем формат времени
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Логи в stderr, stdout остается для вывода команд
	config.OutputPaths = []string{"stderr"}

	return config.Build()
}

// LevelFor выбирает уровень по счетчику -v: 1 - info, 2 и больше - debug.
// Без -v действует уровень из конфигурации.
func LevelFor(verbosity int, configured string) string {
	switch {
	case verbosity >= 2:
		return "debug"
	case verbosity == 1:
		return "info"
	default:
		return configured
	}
}

// parseLevel конвертирует строку в zapcore.Level
func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// Cleanup корректно закрывает логгер
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
