package smtp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	"digestgenie/mail-ingestion-service/internal/service/ingest"
	"digestgenie/mail-ingestion-service/internal/webhook"
)

const message = "From: Morning Brew <crew@morningbrew.com>\r\n" +
	"To: user-1a2b3c4d-0042@newsletters.localhost\r\n" +
	"Subject: 5 Things Trending Today\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello there\r\n"

type fakeUsers map[string]bool

func (f fakeUsers) FindBySystemEmail(_ context.Context, addr string) (*db.User, error) {
	if f[addr] {
		return &db.User{ID: "u-" + addr, SystemEmail: addr}, nil
	}
	return nil, repository.ErrNotFound
}

type recordingIngester struct {
	got []*webhook.ParsedEmail
	err error
}

func (r *recordingIngester) Ingest(_ context.Context, email *webhook.ParsedEmail) (*ingest.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.got = append(r.got, email)
	return &ingest.Result{Status: ingest.StatusAccepted}, nil
}

func newTestSession(ing *recordingIngester) *Session {
	users := fakeUsers{"user-1a2b3c4d-0042@newsletters.localhost": true, "user-99999999-0001@newsletters.localhost": true}
	b := NewBackend(context.Background(), users, ing, "Newsletters.localhost", zap.NewNop())
	return &Session{backend: b}
}

func TestRcptPolicy(t *testing.T) {
	t.Parallel()

	s := newTestSession(&recordingIngester{})
	if err := s.Rcpt("someone@gmail.com", nil); !errors.Is(err, errRelayDenied) {
		t.Fatalf("foreign domain: got %v", err)
	}
	if err := s.Rcpt("user-00000000-0000@newsletters.localhost", nil); !errors.Is(err, errNoMailbox) {
		t.Fatalf("unknown mailbox: got %v", err)
	}
	if err := s.Rcpt("<User-1a2b3c4d-0042@newsletters.localhost>", nil); err != nil {
		t.Fatalf("known mailbox rejected: %v", err)
	}
	if len(s.to) != 1 || s.to[0] != "user-1a2b3c4d-0042@newsletters.localhost" {
		t.Fatalf("recipients = %v", s.to)
	}
}

func TestDataIngestsPerRecipient(t *testing.T) {
	t.Parallel()

	ing := &recordingIngester{}
	s := newTestSession(ing)
	_ = s.Mail("bounce@morningbrew.com", nil)
	_ = s.Rcpt("user-1a2b3c4d-0042@newsletters.localhost", nil)
	_ = s.Rcpt("user-99999999-0001@newsletters.localhost", nil)

	if err := s.Data(strings.NewReader(message)); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(ing.got) != 2 {
		t.Fatalf("ingested %d, want 2", len(ing.got))
	}
	first := ing.got[0]
	if first.Provider != webhook.SMTP || first.Subject != "5 Things Trending Today" {
		t.Fatalf("email = %+v", first)
	}
	if ing.got[1].To != "user-99999999-0001@newsletters.localhost" {
		t.Fatalf("second recipient = %q", ing.got[1].To)
	}
	if !strings.HasSuffix(first.MessageID, "@digestgenie.local") {
		t.Fatalf("missing Message-ID should get the fallback id, got %q", first.MessageID)
	}
	if first.MessageID != ing.got[1].MessageID {
		t.Fatal("fallback id must not depend on the recipient being ingested")
	}

	s.Reset()
	if s.from != "" || s.to != nil {
		t.Fatal("Reset should clear the envelope")
	}
}

func TestDataTemporaryFailure(t *testing.T) {
	t.Parallel()

	s := newTestSession(&recordingIngester{err: errors.New("db down")})
	_ = s.Rcpt("user-1a2b3c4d-0042@newsletters.localhost", nil)
	if err := s.Data(strings.NewReader(message)); !errors.Is(err, errTryLater) {
		t.Fatalf("expected errTryLater, got %v", err)
	}
}
