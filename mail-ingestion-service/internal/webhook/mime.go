package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
)

const (
	snippetLength       = 200
	fallbackMessageHost = "digestgenie.local"
)

// ParseMIME decodes a raw RFC 5322 message. Encoded headers are decoded and, for an
// HTML-only message, Text is the down-converted plain text.
func ParseMIME(raw []byte) (*ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mime: %w", err)
	}
	e := &ParsedEmail{
		MessageID: env.GetHeader("Message-Id"),
		ThreadID:  threadOf(env.GetHeader("References"), env.GetHeader("In-Reply-To")),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		To:        env.GetHeader("To"),
		Content:   Content{Text: env.Text, HTML: env.HTML},
		Raw:       string(raw),
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		e.Date = d.UTC()
	}
	return e, nil
}

// FromMIME parses a raw message received outside the HTTP webhook and fills the derived
// fields the same way Normalize does.
func FromMIME(raw []byte, p Provider) (*ParsedEmail, error) {
	e, err := ParseMIME(raw)
	if err != nil {
		return nil, err
	}
	e.Provider = p
	finish(e)
	return e, nil
}

// finish fills the derived fields every provider leaves to us.
func finish(e *ParsedEmail) {
	e.MessageID = trimID(e.MessageID)
	e.ThreadID = trimID(e.ThreadID)
	e.Subject = strings.TrimSpace(e.Subject)
	e.From = strings.TrimSpace(e.From)
	e.To = strings.TrimSpace(e.To)
	if e.MessageID == "" {
		e.MessageID = FallbackMessageID(e.From, e.To, e.Subject, e.Date)
	}
	if e.Snippet == "" {
		e.Snippet = snippet(e.Content)
	}
}

// FallbackMessageID derives a stable id for deliveries without Message-Id so that a
// redelivery of the same message still collides.
func FallbackMessageID(from, to, subject string, date time.Time) string {
	stamp := ""
	if !date.IsZero() {
		stamp = date.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{from, to, subject, stamp}, "|")))
	return hex.EncodeToString(sum[:]) + "@" + fallbackMessageHost
}

func snippet(c Content) string {
	text := c.Text
	if strings.TrimSpace(text) == "" && c.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.HTML)); err == nil {
			doc.Find("script, style, head").Remove()
			text = doc.Text()
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	return string([]rune(text)[:snippetLength])
}
