package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Message is a rendered HTML email for a single recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers over SMTP with mandatory STARTTLS unless the port is
// 465, which uses implicit TLS.
type SMTPSender struct {
	from     string
	fromName string
	client   *mail.Client
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{from: cfg.From, fromName: cfg.FromName, client: client}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.AddToFormat(m.ToName, m.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetImportance(mail.ImportanceHigh)
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender records that a message would have been sent. Bodies carry
// passwords and reset links, so only the envelope is logged.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.WithFields(logrus.Fields{"to": m.To, "subject": m.Subject}).Warn("smtp disabled, email not sent")
	return nil
}
