package channels

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender satisfies both adapters by logging instead of sending. Used when
// no gateway or relay is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates the stub.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// SendSMS logs the message.
func (s *LogSender) SendSMS(ctx context.Context, phoneNumber, body string) (string, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("sms stub",
		zap.String("to", phoneNumber),
		zap.String("message_id", id),
		zap.Int("length", len(body)))
	return id, nil
}

// SendEmail logs the message.
func (s *LogSender) SendEmail(ctx context.Context, address, subject, body string) (string, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("email stub",
		zap.String("to", address),
		zap.String("subject", subject),
		zap.String("message_id", id))
	return id, nil
}
