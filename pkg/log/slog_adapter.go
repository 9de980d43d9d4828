package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events onto an slog.Logger at debug
// level, which is handy while developing against a live sensor.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger as an event sink.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log emits the event as a single debug record.
func (a *SlogAdapter) Log(event Event) {
	attrs := make([]slog.Attr, 0, 12)
	attrs = append(attrs,
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)

	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.SensorSerial != "" {
		attrs = append(attrs, slog.String("sensor_serial", event.SensorSerial))
	}
	if event.Generation != "" {
		attrs = append(attrs, slog.String("generation", event.Generation))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated))
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("msg_type", event.Message.TypeName),
			slog.Uint64("sequence", uint64(event.Message.Sequence)),
			slog.Int("payload_size", event.Message.PayloadSize))
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState))
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		if event.Error.Code != "" {
			attrs = append(attrs, slog.String("error_code", event.Error.Code))
		}
		attrs = append(attrs, slog.String("error", event.Error.Message))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol event", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
