// Package webhook turns provider-specific inbound mail deliveries into a single ParsedEmail.
//
// Detection, verification and normalization are separate steps: Detect only sniffs headers
// and body shape, Verify only checks the signature, Normalize only parses.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider identifies the payload shape of a delivery.
type Provider string

const (
	Postal     Provider = "postal"
	Mailgun    Provider = "mailgun"
	SendGrid   Provider = "sendgrid"
	Cloudflare Provider = "cloudflare"
	Generic    Provider = "generic"

	// SMTP marks mail delivered straight to the SMTP receiver. Detect never returns it.
	SMTP Provider = "smtp"
)

var ErrBodyTooLarge = errors.New("webhook: body too large")

// Request is the part of an inbound HTTP delivery the webhook steps look at.
// Body is kept verbatim for signature checks; Form is filled for form-encoded deliveries.
type Request struct {
	Header      http.Header
	ContentType string
	Body        []byte
	Form        url.Values
}

// NewRequest reads at most maxBody bytes from r and decodes form bodies.
func NewRequest(r *http.Request, maxBody int64) (*Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, ErrBodyTooLarge
	}

	req := &Request{Header: r.Header, Body: body}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return req, nil
	}
	req.ContentType = mediaType

	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		req.Form = form
	case "multipart/form-data":
		mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		form, err := mr.ReadForm(maxBody)
		if err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		// attachments are not needed
		req.Form = url.Values(form.Value)
		_ = form.RemoveAll()
	}
	return req, nil
}

func (r *Request) isForm() bool { return r.Form != nil }

func (r *Request) hasFields(names ...string) bool {
	for _, n := range names {
		if _, ok := r.Form[n]; !ok {
			return false
		}
	}
	return true
}

// jsonKeys returns the top-level keys of a JSON object body, or nil.
func (r *Request) jsonKeys() map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil
	}
	return keys
}

// Detect picks the provider from headers first, then from the body shape. It never fails:
// anything unrecognized is Generic.
func Detect(req *Request) Provider {
	h := req.Header
	ua := strings.ToLower(h.Get("User-Agent"))
	switch {
	case h.Get("X-Postal-Signature") != "" || h.Get("X-Postal-Signature-256") != "":
		return Postal
	case h.Get("Cf-Worker") != "" || h.Get("Cf-Email-Routing") != "":
		return Cloudflare
	case strings.HasPrefix(ua, "mailgun"):
		return Mailgun
	case strings.Contains(ua, "sendgrid"):
		return SendGrid
	}

	if req.isForm() {
		switch {
		case req.hasFields("token", "timestamp", "signature"), req.hasFields("body-plain"):
			return Mailgun
		case req.hasFields("envelope"), req.hasFields("charsets"):
			return SendGrid
		}
		return Generic
	}

	keys := req.jsonKeys()
	_, hasRcpt := keys["rcpt_to"]
	_, hasMailFrom := keys["mail_from"]
	_, hasRaw := keys["raw"]
	_, hasRawSize := keys["rawSize"]
	switch {
	case hasRcpt && hasMailFrom:
		return Postal
	case hasRaw && hasRawSize:
		return Cloudflare
	}
	return Generic
}

// Content is the decoded body of a message.
type Content struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// ParsedEmail is the provider-independent shape every delivery is normalized into.
type ParsedEmail struct {
	Provider  Provider  `json:"provider"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Date      time.Time `json:"date"`
	Snippet   string    `json:"snippet"`
	Content   Content   `json:"content"`
	Raw       string    `json:"-"`
}

// Normalize decodes the provider payload and converges it to a ParsedEmail.
func Normalize(p Provider, req *Request) (*ParsedEmail, error) {
	payload, err := Decode(p, req)
	if err != nil {
		return nil, err
	}
	email, err := payload.normalize()
	if err != nil {
		return nil, fmt.Errorf("normalize %s payload: %w", p, err)
	}
	email.Provider = p
	finish(email)
	return email, nil
}
