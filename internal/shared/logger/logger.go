package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init はロガーを初期化する。debug=trueの場合はコンソール出力かつDebugレベル。
func Init(debug bool) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	var encoder zapcore.Encoder
	if debug {
		level.SetLevel(zapcore.DebugLevel)
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	log = l
	mu.Unlock()
}

// L returns the underlying zap logger (without the wrapper caller skip).
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.WithOptions(zap.AddCallerSkip(-1))
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Sync() {
	_ = current().Sync()
}

func Debug(msg string, fields ...zap.Field) {
	current().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	current().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	current().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	current().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	current().Fatal(msg, fields...)
}
