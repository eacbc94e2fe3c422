package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger so output levels can change while running
type DynamicLogger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   configtypes.LogConfig
}

// NewLogger builds a logger writing to console, a rotated file, or both.
// fields are attached to every entry (service name, instance id).
func NewLogger(config configtypes.LogConfig, fields ...zap.Field) (*DynamicLogger, error) {
	globalLevel := parseLogLevel(config.Level)

	var cores []zapcore.Core
	var consoleLevel, fileLevel *zap.AtomicLevel

	if config.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLogLevel(config.Console.Level, globalLevel))
		consoleLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(config.Console.Format), zapcore.Lock(os.Stdout), consoleLevel))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}
		level := zap.NewAtomicLevelAt(resolveLogLevel(config.File.Level, globalLevel))
		fileLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(config.File.Format), createFileWriter(config.File), fileLevel))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return &DynamicLogger{
		Logger:       zap.New(core).With(fields...),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
		configured:   config,
	}, nil
}

// NewLoggerWithStartupOverride starts at INFO when the configured level is
// quieter, so the startup sequence is always visible. Call
// SwitchToConfiguredLevel once the gateway is serving.
func NewLoggerWithStartupOverride(config configtypes.LogConfig, fields ...zap.Field) (*DynamicLogger, error) {
	if parseLogLevel(config.Level) <= zap.InfoLevel {
		return NewLogger(config, fields...)
	}

	startup := config
	startup.Level = configtypes.LogLevelInfo
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = configtypes.LogLevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = configtypes.LogLevelInfo
	}

	dl, err := NewLogger(startup, fields...)
	if err != nil {
		return nil, err
	}
	dl.configured = config
	return dl, nil
}

// NewDefaultLogger is used before the configuration file is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

// SwitchToConfiguredLevel restores the levels from the configuration
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	global := parseLogLevel(dl.configured.Level)
	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))

	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(resolveLogLevel(dl.configured.Console.Level, global))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(resolveLogLevel(dl.configured.File.Level, global))
	}
}

// EnsureInfoLevelForShutdown lowers outputs to INFO so shutdown logs are visible
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false
	for _, lvl := range []*zap.AtomicLevel{dl.consoleLevel, dl.fileLevel} {
		if lvl != nil && lvl.Level() > zap.InfoLevel {
			lvl.SetLevel(zap.InfoLevel)
			changed = true
		}
	}
	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// SetLevel changes every output to level at runtime
func (dl *DynamicLogger) SetLevel(level string) error {
	switch level {
	case configtypes.LogLevelDebug, configtypes.LogLevelInfo, configtypes.LogLevelWarn, configtypes.LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	parsed := parseLogLevel(level)
	for _, lvl := range []*zap.AtomicLevel{dl.consoleLevel, dl.fileLevel} {
		if lvl != nil {
			lvl.SetLevel(parsed)
		}
	}
	return nil
}

// Level reports the most verbose level across outputs
func (dl *DynamicLogger) Level() zapcore.Level {
	level := zapcore.FatalLevel
	for _, lvl := range []*zap.AtomicLevel{dl.consoleLevel, dl.fileLevel} {
		if lvl != nil && lvl.Level() < level {
			level = lvl.Level()
		}
	}
	return level
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// no color codes in files
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func createFileWriter(file configtypes.FileLogConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.Rotation.MaxSize,
		MaxAge:     file.Rotation.MaxAge,
		MaxBackups: file.Rotation.MaxBackups,
		Compress:   file.Rotation.Compress,
	})
}
