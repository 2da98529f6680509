package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// minimalEncoder renders log lines as "HH:MM:SS LEVEL message key=value ...".
// It trades zap's full JSON fidelity for terminal readability; the JSON
// production encoder remains available via Initialize(true).
type minimalEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

func newMinimalEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "ts",
		NameKey:        "name",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return &minimalEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		pool:    bufferPool,
	}
}

func (e *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
	}
}

func (e *minimalEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	line.AppendString(entry.Time.Format("15:04:05"))
	line.AppendString(" ")
	line.AppendString(levelLabel(entry.Level))
	line.AppendString(" ")
	if entry.LoggerName != "" {
		line.AppendString(entry.LoggerName)
		line.AppendString(" ")
	}
	line.AppendString(entry.Message)

	// Flatten structured fields as key=value pairs after the message
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	for _, k := range sortedKeys(enc.Fields) {
		line.AppendString(" ")
		line.AppendString(k)
		line.AppendString("=")
		line.AppendString(formatValue(enc.Fields[k]))
	}

	line.AppendString("\n")
	return line, nil
}

func levelLabel(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO "
	case zapcore.WarnLevel:
		return "WARN "
	case zapcore.ErrorLevel:
		return "ERROR"
	default:
		return level.CapitalString()
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort keeps the common small-field case allocation-free
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case time.Duration:
		return val.String()
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
