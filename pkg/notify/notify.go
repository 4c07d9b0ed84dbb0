// Package notify sends transactional emails for subscription events.
//
// Delivery is best-effort. Send never panics and never blocks a billing or
// membership operation on a mail failure; it reports the outcome in a Result
// that callers may inspect or ignore.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tasknest/tasknest/pkg/observability"
)

// Kind identifies a notification template
type Kind string

const (
	KindTrialStarted          Kind = "trial-started"
	KindTrialExpired          Kind = "trial-expired"
	KindPaymentConfirmation   Kind = "payment-confirmation"
	KindPaymentFailed         Kind = "payment-failed"
	KindSubscriptionCancelled Kind = "subscription-cancelled"
)

// Message is one email to one recipient. Subject may be empty, in which case
// the template's default subject is used.
type Message struct {
	To      string
	Subject string
	Kind    Kind
	Data    map[string]interface{}
}

// Result reports whether a message was handed to the transport
type Result struct {
	Delivered bool
	Err       error
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// NopSender discards every message
type NopSender struct{}

// Send implements Sender
func (NopSender) Send(context.Context, Message) Result {
	return Result{}
}

// LogSender renders messages and writes them to the logger instead of
// sending them. It is used when no SMTP host is configured.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *observability.Logger) *LogSender {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(_ context.Context, msg Message) Result {
	subject, _, err := Render(msg)
	if err != nil {
		s.logger.WithError(err).WithField("kind", string(msg.Kind)).Warn("failed to render notification")
		return Result{Err: err}
	}
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"kind":    string(msg.Kind),
		"subject": subject,
	}).Info("notification logged (smtp not configured)")
	return Result{Delivered: true}
}

type instrumented struct {
	next    Sender
	metrics *observability.Metrics
	logger  *observability.Logger
}

// Instrument wraps a Sender with delivery metrics and failure logging
func Instrument(next Sender, metrics *observability.Metrics, logger *observability.Logger) Sender {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &instrumented{next: next, metrics: metrics, logger: logger}
}

func (s *instrumented) Send(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("notification sender panicked: %v", r)}
		}
		if s.metrics != nil {
			s.metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), strconv.FormatBool(res.Delivered)).Inc()
		}
		if res.Err != nil {
			s.logger.WithError(res.Err).WithFields(map[string]interface{}{
				"to":   msg.To,
				"kind": string(msg.Kind),
			}).Warn("notification not delivered")
		}
	}()
	return s.next.Send(ctx, msg)
}
