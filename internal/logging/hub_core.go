package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// hubCore is a zapcore.Core that publishes entries to a StreamHub.
type hubCore struct {
	zapcore.LevelEnabler
	hub    *StreamHub
	fields []zapcore.Field
}

// NewHubCore returns a core publishing every enabled entry to hub.
func NewHubCore(hub *StreamHub, enab zapcore.LevelEnabler) zapcore.Core {
	return &hubCore{LevelEnabler: enab, hub: hub}
}

func (c *hubCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &hubCore{LevelEnabler: c.LevelEnabler, hub: c.hub}
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *hubCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *hubCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	evt := LogEvent{
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Logger:    ent.LoggerName,
		Message:   ent.Message,
	}
	if evt.Logger == "" {
		evt.Logger = "orchestrator"
	}
	if len(enc.Fields) > 0 {
		evt.Fields = make(map[string]string, len(enc.Fields))
		for k, v := range enc.Fields {
			if k == "job_id" {
				evt.JobID = fmt.Sprint(v)
				continue
			}
			evt.Fields[k] = fmt.Sprint(v)
		}
		if len(evt.Fields) == 0 {
			evt.Fields = nil
		}
	}
	c.hub.Publish(evt)
	return nil
}

func (c *hubCore) Sync() error { return nil }
