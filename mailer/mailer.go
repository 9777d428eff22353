// Package mailer delivers verification and password reset links. Template content is
// the host's concern; the core only hands over the recipient, the kind and the token.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the message being sent.
type Kind uint8

const (
	KindEmailVerification Kind = iota + 1
	KindPasswordReset
)

func (k Kind) String() string {
	switch k {
	case KindEmailVerification:
		return "email_verification"
	case KindPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// Message is one outbound mail.
type Message struct {
	Kind      Kind
	To        string
	Token     string
	ExpiresAt time.Time
}

// Mailer sends messages. Implementations must honour ctx cancellation.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Mailer.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ErrTimeout is returned by WithTimeout when delivery outlives its deadline.
var ErrTimeout = errors.New("mail delivery timed out")

type timeoutMailer struct {
	next    Mailer
	timeout time.Duration
}

// WithTimeout bounds every Send of next by d. The caller is released at the deadline
// even when next ignores its context.
func WithTimeout(next Mailer, d time.Duration) Mailer {
	if d <= 0 {
		return next
	}
	return &timeoutMailer{next: next, timeout: d}
}

func (m *timeoutMailer) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.next.Send(ctx, msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// SlogMailer records that a message would be sent without delivering it. The token is
// never logged.
type SlogMailer struct {
	Logger *slog.Logger
}

func (m SlogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail queued",
		slog.String("kind", msg.Kind.String()),
		slog.String("to", msg.To),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// Outbox keeps sent messages in memory. Tests and local development read tokens from it.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.msgs...)
}

// Last returns the newest message of kind sent to addr.
func (o *Outbox) Last(kind Kind, addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == kind && o.msgs[i].To == addr {
			return o.msgs[i], true
		}
	}
	return Message{}, false
}
