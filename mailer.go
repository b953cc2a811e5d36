package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ConsoleMailer writes messages to an io.Writer, for development setups
type ConsoleMailer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleMailer(out io.Writer) *ConsoleMailer {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleMailer{out: out}
}

func (m *ConsoleMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := fmt.Fprintf(m.out,
		"====== SENDING EMAIL NOTIFICATION =======\nto: %s\nsubject: %s\n%s\n",
		to, subject, body,
	)
	return err
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, to, subject, body string) error

func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

func buildLink(base, path, secret string) string {
	return strings.TrimRight(base, "/") + path + secret
}
