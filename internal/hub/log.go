package hub

import (
	"context"
	"log/slog"

	"github.com/clipvault/clipvault/internal/op"
)

// LogOperation logs a history mutation at INFO (kind, origin, target) and
// DEBUG (content preview up to 120 chars).
func LogOperation(event string, o op.Operation) {
	slog.Info(event, "kind", o.Kind, "origin", o.Origin, "item", o.Target())

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if o.Payload != nil {
		preview := o.Payload.Content
		if len(preview) > 120 {
			preview = preview[:120] + "…"
		}
		slog.Debug("operation payload", "kind", o.Payload.Kind, "preview", preview)
	}
}
