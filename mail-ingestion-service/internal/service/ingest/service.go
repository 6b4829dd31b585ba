package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	"digestgenie/mail-ingestion-service/internal/webhook"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mailaddr"
)

var (
	ErrNoRecipient      = errors.New("ingest: email has no recipient")
	ErrUnknownRecipient = errors.New("ingest: unknown recipient")
)

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

type Result struct {
	Status     Status `json:"status"`
	RawEmailID string `json:"raw_email_id,omitempty"`
	UserID     string `json:"-"`
}

type UserStore interface {
	FindBySystemEmail(ctx context.Context, addr string) (*db.User, error)
}

// EmailStore persists a raw email together with its processing job. inserted is false
// when (user_id, message_id) already exists.
type EmailStore interface {
	SaveRaw(ctx context.Context, e *db.RawEmail) (inserted bool, err error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// Service stores inbound mail for its owner exactly once per message id.
type Service struct {
	users   UserStore
	emails  EmailStore
	deduper Deduper
	domain  string
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(users UserStore, emails EmailStore, deduper Deduper, domain string, logger *zap.Logger) *Service {
	return &Service{
		users:   users,
		emails:  emails,
		deduper: deduper,
		domain:  domain,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest resolves the recipient, drops redeliveries and stores the email with its
// email_processing job.
func (s *Service) Ingest(ctx context.Context, email *webhook.ParsedEmail) (*Result, error) {
	log := logger.WithTrace(ctx, s.logger)

	addr := s.Recipient(email.To)
	if addr == "" {
		return nil, ErrNoRecipient
	}
	user, err := s.users.FindBySystemEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, addr)
		}
		return nil, fmt.Errorf("find user for %s: %w", addr, err)
	}

	key := user.ID + ":" + email.MessageID
	if !s.deduper.AcquireOnce(ctx, "webhook", key) {
		return &Result{Status: StatusDuplicate, UserID: user.ID}, nil
	}

	now := s.now().UTC()
	receivedAt := email.Date
	if receivedAt.IsZero() || receivedAt.After(now) {
		receivedAt = now
	}
	raw := &db.RawEmail{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		MessageID:  email.MessageID,
		ThreadID:   email.ThreadID,
		Provider:   string(email.Provider),
		Sender:     email.From,
		Recipient:  addr,
		Subject:    email.Subject,
		Snippet:    email.Snippet,
		TextBody:   email.Content.Text,
		HTMLBody:   email.Content.HTML,
		RawContent: rawContent(email),
		ReceivedAt: receivedAt,
	}

	inserted, err := s.emails.SaveRaw(ctx, raw)
	if err != nil {
		// let the provider's retry go through
		s.deduper.Release(ctx, "webhook", key)
		return nil, err
	}
	if !inserted {
		log.Info("Email already stored", zap.String("user_id", user.ID), zap.String("message_id", email.MessageID))
		return &Result{Status: StatusDuplicate, UserID: user.ID}, nil
	}

	log.Info("Email stored",
		zap.String("raw_email_id", raw.ID),
		zap.String("user_id", user.ID),
		zap.String("provider", raw.Provider),
		zap.String("message_id", raw.MessageID),
	)
	return &Result{Status: StatusAccepted, RawEmailID: raw.ID, UserID: user.ID}, nil
}

// Recipient picks the forwarding address out of a To header, preferring addresses on the
// forwarding domain.
func (s *Service) Recipient(to string) string {
	var first string
	for _, part := range strings.Split(to, ",") {
		addr := strings.ToLower(strings.TrimSpace(mailaddr.ExtractEmail(part)))
		if addr == "" || !strings.Contains(addr, "@") {
			continue
		}
		if s.domain != "" && mailaddr.IsSystem(addr, s.domain) {
			return addr
		}
		if first == "" {
			first = addr
		}
	}
	return first
}

func rawContent(e *webhook.ParsedEmail) string {
	switch {
	case e.Raw != "":
		return e.Raw
	case e.Content.HTML != "":
		return e.Content.HTML
	default:
		return e.Content.Text
	}
}
