package logging

import (
	"math"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapCore forwards zap entries to a Logger so libraries instrumented
// with zap share the service's log stream and threshold.
type zapCore struct {
	logger *Logger
}

// NewZapLogger wraps a Logger in a *zap.Logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(&zapCore{logger: logger})
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch {
	case level <= zapcore.DebugLevel:
		return DebugLevel
	case level == zapcore.InfoLevel:
		return InfoLevel
	case level == zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (c *zapCore) Enabled(level zapcore.Level) bool {
	return c.logger.enabled(fromZapLevel(level))
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	return &zapCore{logger: c.logger.WithFields(fieldMap(fields))}
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := fieldMap(fields)
	if ent.Caller.Defined {
		f["caller"] = ent.Caller.String()
	}
	c.logger.emit(fromZapLevel(ent.Level), ent.Message, f)
	return nil
}

func (c *zapCore) Sync() error {
	return nil
}

// fieldMap flattens zap fields into the map form Logger uses. An
// ObjectEncoder round trip would be more faithful for exotic field
// types, but the service only logs scalars and errors.
func fieldMap(fields []zapcore.Field) map[string]interface{} {
	f := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		switch field.Type {
		case zapcore.StringType:
			f[field.Key] = field.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
			zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			f[field.Key] = field.Integer
		case zapcore.Float64Type:
			f[field.Key] = math.Float64frombits(uint64(field.Integer))
		case zapcore.Float32Type:
			f[field.Key] = float64(math.Float32frombits(uint32(field.Integer)))
		case zapcore.BoolType:
			f[field.Key] = field.Integer == 1
		case zapcore.DurationType:
			f[field.Key] = field.Integer
		default:
			f[field.Key] = field.Interface
		}
	}
	return f
}
