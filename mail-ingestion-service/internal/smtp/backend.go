// Package smtp receives mail for the forwarding domain directly, as an alternative to a
// provider webhook.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"digestgenie/internal/repository"
	"digestgenie/mail-ingestion-service/internal/service/ingest"
	"digestgenie/mail-ingestion-service/internal/webhook"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mailaddr"
	"digestgenie/pkg/metrics"
	"digestgenie/pkg/trace"
)

var (
	errRelayDenied = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 7, 1},
		Message:      "Relaying denied",
	}
	errNoMailbox = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "Mailbox does not exist",
	}
	errTryLater = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, try again later",
	}
	errBadMessage = &smtp.SMTPError{
		Code:         554,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Message could not be parsed",
	}
)

type Ingester interface {
	Ingest(ctx context.Context, email *webhook.ParsedEmail) (*ingest.Result, error)
}

// Backend creates one Session per connection.
type Backend struct {
	ctx      context.Context
	users    ingest.UserStore
	ingester Ingester
	domain   string
	logger   *zap.Logger
}

// NewBackend accepts mail for domain only; ctx bounds every ingest call.
func NewBackend(ctx context.Context, users ingest.UserStore, ingester Ingester, domain string, logger *zap.Logger) *Backend {
	return &Backend{
		ctx:      ctx,
		users:    users,
		ingester: ingester,
		domain:   strings.ToLower(domain),
		logger:   logger,
	}
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.logger.Debug("SMTP connection", zap.String("helo", c.Hostname()))
	return &Session{backend: b}, nil
}

// Session handles the messages of one SMTP connection.
type Session struct {
	backend *Backend
	from    string
	to      []string
}

func (s *Session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt rejects other domains and unknown forwarding addresses before DATA.
func (s *Session) Rcpt(to string, _ *smtp.RcptOptions) error {
	addr := strings.ToLower(mailaddr.ExtractEmail(to))
	if !mailaddr.IsSystem(addr, s.backend.domain) {
		return errRelayDenied
	}
	if _, err := s.backend.users.FindBySystemEmail(s.backend.ctx, addr); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNoMailbox
		}
		s.backend.logger.Error("SMTP recipient lookup failed", zap.String("rcpt", addr), zap.Error(err))
		return errTryLater
	}
	s.to = append(s.to, addr)
	return nil
}

// Data stores the message once per accepted recipient. A temporary failure for any
// recipient makes the sender retry the whole message; ingestion is idempotent.
func (s *Session) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}

	ctx := trace.Ensure(s.backend.ctx)
	log := logger.WithTrace(ctx, s.backend.logger)

	var failed error
	for _, rcpt := range s.to {
		email, err := webhook.FromMIME(buf.Bytes(), webhook.SMTP)
		if err != nil {
			log.Warn("SMTP message rejected", zap.Error(err))
			metrics.IncrementWebhookReceived(string(webhook.SMTP), "rejected")
			return errBadMessage
		}
		email.To = rcpt
		if email.From == "" {
			email.From = s.from
		}

		res, err := s.backend.ingester.Ingest(ctx, email)
		if err != nil {
			log.Error("SMTP ingest failed", zap.String("rcpt", rcpt), zap.Error(err))
			metrics.IncrementWebhookReceived(string(webhook.SMTP), "error")
			failed = fmt.Errorf("ingest for %s: %w", rcpt, err)
			continue
		}
		metrics.IncrementWebhookReceived(string(webhook.SMTP), string(res.Status))
	}
	if failed != nil {
		return errTryLater
	}
	return nil
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error {
	return nil
}
