package payment

import (
	"context"
	"fmt"
	"log/slog"
)

// slogLeveled adapts slog to the stripe client's leveled logger.
type slogLeveled struct {
	logger *slog.Logger
}

func (l slogLeveled) Debugf(format string, v ...interface{}) { l.log(slog.LevelDebug, format, v...) }
func (l slogLeveled) Infof(format string, v ...interface{})  { l.log(slog.LevelInfo, format, v...) }
func (l slogLeveled) Warnf(format string, v ...interface{})  { l.log(slog.LevelWarn, format, v...) }
func (l slogLeveled) Errorf(format string, v ...interface{}) { l.log(slog.LevelError, format, v...) }

func (l slogLeveled) log(level slog.Level, format string, v ...interface{}) {
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}
