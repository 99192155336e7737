// Package notify carries transactional email requests out of the auth
// flows.
//
// The flows only build a [Message]; rendering and delivering the email is
// the job of whatever consumes it. [NATSPublisher] hands messages to a mail
// worker over NATS, [LogSender] logs them for local development and
// [Recorder] keeps them in memory for tests.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Template names understood by mail workers.
const (
	TemplateSignupVerify      = "signup_verify"
	TemplateWelcome           = "welcome"
	TemplatePasswordReset     = "password_reset"
	TemplatePasswordResetDone = "password_reset_done"
	TemplatePasswordChanged   = "password_changed"
)

// Message is one transactional email request. Context holds template
// variables and may contain single-use secrets such as links and codes.
type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Context  map[string]string `json:"context,omitempty"`
}

// Sender delivers a Message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSender logs recipients and templates. Template context is never logged.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("notify")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("template", msg.Template),
	)
	return nil
}

// Publisher is the subset of *nats.Conn used by NATSPublisher.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each Message as JSON on a fixed subject.
type NATSPublisher struct {
	conn    Publisher
	subject string
}

func NewNATSPublisher(conn Publisher, subject string) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("nats connection required")
	}
	if subject == "" {
		return nil, errors.New("nats subject required")
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// ConnectNATS dials url with reconnect handling logged through logger.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Recorder keeps every sent Message on a buffered channel.
type Recorder struct {
	messages chan Message
}

func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &Recorder{messages: make(chan Message, buffer)}
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	select {
	case r.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) Messages() <-chan Message {
	return r.messages
}

// Next waits up to timeout for the next Message.
func (r *Recorder) Next(timeout time.Duration) (Message, bool) {
	select {
	case msg := <-r.messages:
		return msg, true
	case <-time.After(timeout):
		return Message{}, false
	}
}
