package logship

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

type core struct {
	zapcore.LevelEnabler
	shipper *Shipper
	fields  []zapcore.Field
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &core{LevelEnabler: c.LevelEnabler, shipper: c.shipper, fields: merged}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	// The shipper's own diagnostics never loop back into the queue.
	if strings.HasPrefix(ent.LoggerName, "logship") {
		return ce
	}
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var extra map[string]any
	if len(enc.Fields) > 0 {
		extra = enc.Fields
	}
	c.shipper.enqueue(ent, extra)
	return nil
}

func (c *core) Sync() error { return nil }
