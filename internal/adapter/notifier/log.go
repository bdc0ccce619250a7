package notifier

import (
	"context"
	"strings"
)

// LogSender writes notifications to the application log when no chat
// transport is configured.
type LogSender struct {
	logger Logger
}

func NewLogSender(logger Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, text string) error {
	s.logger.Infof("Notification: %s", strings.ReplaceAll(text, "\n", " | "))
	return nil
}
