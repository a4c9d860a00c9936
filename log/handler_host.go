//go:build !wasip1

package log

import (
	"context"
	"log/slog"
)

// Handle writes the record to the fallback handler.
func (h *WasmLogHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	for _, a := range h.newLogMessage(record).Attrs {
		out.AddAttrs(slog.String(a.Key, a.Value))
	}
	return h.opts.fallback.Handle(ctx, out)
}
