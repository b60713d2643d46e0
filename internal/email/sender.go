package email

import (
	"encoding/json"
	"fmt"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
)

// Sender delivers a rendered email. Implementations wrap an actual transport
// such as an SMTP relay or a provider API.
type Sender interface {
	Send(msg Message) error
}

// LogSender writes outgoing mail to the log instead of delivering it. Useful
// for development and as the default until a transport is configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a sender that logs instead of delivering.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.With("service", "email")}
}

func (s *LogSender) Send(msg Message) error {
	s.log.Info("email delivery (log only)", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.HTML))
	return nil
}

// DeliveryHandler returns a job handler that decodes a queued Message and
// delivers it through the sender.
func DeliveryHandler(sender Sender) func(job domain.Job) error {
	return func(job domain.Job) error {
		var msg Message
		if err := json.Unmarshal(job.Payload, &msg); err != nil {
			return fmt.Errorf("failed to decode email payload: %w", err)
		}
		return sender.Send(msg)
	}
}
