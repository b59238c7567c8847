package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to a logger instead of delivering them. Template
// data, which carries codes and links, is only logged at debug level.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email queued",
		zap.String("message_id", msg.ID),
		zap.String("to", msg.To),
		zap.String("template", msg.Template),
	)
	if ce := s.logger.Check(zap.DebugLevel, "email data"); ce != nil {
		ce.Write(zap.String("message_id", msg.ID), zap.Any("data", msg.Data))
	}
	return nil
}
