package reaction

import (
	"context"
	"log/slog"
	"strings"
)

// logExecutor implements log_activity: {"level": "info", "message": "..."}.
type logExecutor struct {
	logger *slog.Logger
}

func (l *logExecutor) Execute(ctx context.Context, req *Request) error {
	level := slog.LevelInfo
	switch strings.ToLower(str(req.Config, "level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	msg := str(req.Config, "message")
	if msg == "" {
		msg = req.defaultMessage()
	}
	l.logger.Log(ctx, level, "reaction: log_activity",
		"area_id", req.Ctx.AreaID,
		"source", req.Ctx.Source,
		"action_key", req.Ctx.ActionKey,
		"message", msg,
		"activity", req.Ctx.Activity,
	)
	return nil
}
