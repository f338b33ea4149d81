package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// ScalyrEncoder writes one flat JSON object per entry: timestamp, level, message,
// caller parts and every field (including those added with With) at the top level.
type ScalyrEncoder struct {
	// fields-only JSON encoder; it accumulates With() context
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewScalyrEncoder creates a new Scalyr-compatible encoder
func NewScalyrEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &ScalyrEncoder{
		Encoder: zapcore.NewJSONEncoder(fieldsOnly(config)),
		config:  config,
	}
}

// fieldsOnly strips every entry key so the JSON encoder emits just the fields.
func fieldsOnly(cfg zapcore.EncoderConfig) zapcore.EncoderConfig {
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	cfg.NameKey = ""
	cfg.CallerKey = ""
	cfg.FunctionKey = ""
	cfg.MessageKey = ""
	cfg.StacktraceKey = ""
	cfg.LineEnding = ""
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// EncodeEntry encodes a log entry in Scalyr-compatible format
func (e *ScalyrEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	fieldBuf, err := e.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return nil, err
	}
	logObj := make(map[string]interface{})
	if err := json.Unmarshal(fieldBuf.Bytes(), &logObj); err != nil {
		fieldBuf.Free()
		return nil, err
	}
	fieldBuf.Free()

	logObj["timestamp"] = entry.Time.Format(time.RFC3339Nano)
	logObj["level"] = entry.Level.String()
	logObj["message"] = entry.Message
	if entry.LoggerName != "" {
		logObj["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		logObj["file"] = entry.Caller.File
		logObj["line"] = entry.Caller.Line
		logObj["function"] = entry.Caller.Function
	}
	if entry.Stack != "" {
		logObj["stack"] = entry.Stack
	}

	data, err := json.Marshal(logObj)
	if err != nil {
		return nil, err
	}

	buf := bufferPool.Get()
	buf.AppendBytes(data)
	buf.AppendString(zapcore.DefaultLineEnding)
	return buf, nil
}

// Clone creates a copy of the encoder
func (e *ScalyrEncoder) Clone() zapcore.Encoder {
	return &ScalyrEncoder{
		Encoder: e.Encoder.Clone(),
		config:  e.config,
	}
}
