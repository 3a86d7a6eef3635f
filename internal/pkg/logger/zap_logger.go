package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ILogger interface {
	Debug(module, message string, details map[string]interface{})
	Info(module, message string, details map[string]interface{})
	Warn(module, message string, details map[string]interface{})
	Error(module, message string, details map[string]interface{})
	Sync() error
}

type ZapLogger struct {
	logger   *zap.Logger
	filePath string
}

func newRotator(logFilePath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // Megabytes
		MaxBackups: 5,
		MaxAge:     30, // Days
		Compress:   true,
	}
}

// NewZapLogger tees JSON lines into the rotated file (info and up) and a
// console stream (debug and up). Production keeps JSON on the console too.
func NewZapLogger(logFilePath string, isProd bool) *ZapLogger {
	jsonEncoder := zapcore.NewJSONEncoder(fileEncoderConfig())
	fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(newRotator(logFilePath)), zap.InfoLevel)

	consoleEncoder := jsonEncoder
	if !isProd {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.DebugLevel)

	// Skip 2 so the caller points at the code using the wrapper
	l := zap.New(zapcore.NewTee(fileCore, consoleCore), zap.AddCaller(), zap.AddCallerSkip(2))

	return &ZapLogger{logger: l, filePath: logFilePath}
}

// NewFileLogger writes only to the rotated file. The CLI uses it so log
// lines do not interleave with the conversation on stdout.
func NewFileLogger(logFilePath string) *ZapLogger {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderConfig()),
		zapcore.AddSync(newRotator(logFilePath)),
		zap.DebugLevel,
	)

	return &ZapLogger{
		logger:   zap.New(fileCore, zap.AddCaller(), zap.AddCallerSkip(2)),
		filePath: logFilePath,
	}
}

// NewNop discards everything.
func NewNop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

func fileEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return encoderConfig
}

func (l *ZapLogger) write(level zapcore.Level, module, message string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	fields := []zap.Field{zap.String("module", module), zap.Any("details", details)}
	if err, ok := details["error"]; ok && level >= zapcore.ErrorLevel {
		fields = append(fields, zap.Any("error_ref", err))
	}
	if ce := l.logger.Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}

func (l *ZapLogger) Debug(module, message string, details map[string]interface{}) {
	l.write(zapcore.DebugLevel, module, message, details)
}

func (l *ZapLogger) Info(module, message string, details map[string]interface{}) {
	l.write(zapcore.InfoLevel, module, message, details)
}

func (l *ZapLogger) Warn(module, message string, details map[string]interface{}) {
	l.write(zapcore.WarnLevel, module, message, details)
}

func (l *ZapLogger) Error(module, message string, details map[string]interface{}) {
	l.write(zapcore.ErrorLevel, module, message, details)
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
