package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/princinho/mocreatives/auth"
)

const (
	credentialsSubject = "MoCreatives Admin Account Created"
	resetSubject       = "MoCreatives Password Reset Request"
)

// Notifier renders the account emails and hands them to a Sender.
type Notifier struct {
	sender    Sender
	clientURL string
	resetTTL  time.Duration
	now       func() time.Time
}

func NewNotifier(sender Sender, clientURL string, resetTTL time.Duration) *Notifier {
	return &Notifier{
		sender:    sender,
		clientURL: strings.TrimRight(clientURL, "/"),
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

func (n *Notifier) SendCredentials(ctx context.Context, email, password, name string) error {
	html, err := render(credentialsTemplate, credentialsData{
		Name:     name,
		Email:    email,
		Password: password,
		LoginURL: n.clientURL + "/login",
		Year:     n.now().Year(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrDeliveryFailed, err)
	}
	return n.deliver(ctx, Message{To: email, ToName: name, Subject: credentialsSubject, HTML: html})
}

func (n *Notifier) SendResetLink(ctx context.Context, email, name, resetURL string) error {
	html, err := render(resetTemplate, resetData{
		Name:     name,
		ResetURL: resetURL,
		ValidFor: humanDuration(n.resetTTL),
		Year:     n.now().Year(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrDeliveryFailed, err)
	}
	return n.deliver(ctx, Message{To: email, ToName: name, Subject: resetSubject, HTML: html})
}

func (n *Notifier) deliver(ctx context.Context, m Message) error {
	if err := n.sender.Send(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrDeliveryFailed, err)
	}
	return nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a limited time"
	case d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	default:
		m := int(d.Round(time.Minute) / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
}
