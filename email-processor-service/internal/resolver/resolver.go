// Package resolver finds or creates the Newsletter for a sender.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	"digestgenie/pkg/mailaddr"
)

type Store interface {
	FindBySenderEmail(ctx context.Context, email string) (*db.Newsletter, error)
	FindByDomain(ctx context.Context, domain string) (*db.Newsletter, error)
	FindByName(ctx context.Context, name string) (*db.Newsletter, error)
	InsertIfAbsent(ctx context.Context, n *db.Newsletter) (*db.Newsletter, bool, error)
}

type Sender struct {
	Email       string
	DisplayName string
	Domain      string
}

// SenderFromHeader splits a From header into its parts.
func SenderFromHeader(from string) Sender {
	email := strings.ToLower(mailaddr.ExtractEmail(from))
	return Sender{
		Email:       email,
		DisplayName: mailaddr.DisplayName(from),
		Domain:      mailaddr.Domain(email),
	}
}

// ErrEmptySender means the From header carried no address; retrying cannot change that.
var ErrEmptySender = errors.New("resolve newsletter: empty sender email")

type Resolver struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve looks up by exact sender email, then by domain, then by name, and creates the
// newsletter when all miss. An existing newsletter is never renamed.
func (r *Resolver) Resolve(ctx context.Context, s Sender) (*db.Newsletter, bool, error) {
	if s.Email == "" {
		return nil, false, ErrEmptySender
	}
	if s.Domain == "" {
		s.Domain = mailaddr.Domain(s.Email)
	}
	name := s.DisplayName
	if name == "" {
		name = mailaddr.NewsletterNameFromDomain(s.Domain)
	}

	lookups := []struct {
		by  string
		key string
		fn  func(context.Context, string) (*db.Newsletter, error)
	}{
		{"sender_email", s.Email, r.store.FindBySenderEmail},
		{"sender_domain", s.Domain, r.store.FindByDomain},
		{"name", name, r.store.FindByName},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		n, err := l.fn(ctx, l.key)
		if err == nil {
			return n, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("find newsletter by %s: %w", l.by, err)
		}
	}

	n, created, err := r.store.InsertIfAbsent(ctx, &db.Newsletter{
		ID:           uuid.NewString(),
		Name:         name,
		SenderEmail:  s.Email,
		SenderDomain: s.Domain,
		Description:  "Newsletter from " + s.Domain,
		Frequency:    "unknown",
		IsPredefined: false,
		IsActive:     true,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		r.logger.Info("newsletter created",
			zap.String("newsletter_id", n.ID),
			zap.String("name", n.Name),
			zap.String("sender", n.SenderEmail),
		)
	}
	return n, created, nil
}
