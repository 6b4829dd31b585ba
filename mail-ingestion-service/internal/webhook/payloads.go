package webhook

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// Payload is one of the provider payload variants.
type Payload interface {
	Provider() Provider
	normalize() (*ParsedEmail, error)
}

// PostalPayload is Postal's HTTP endpoint JSON. With the raw format only Message
// (base64 MIME) is set besides the envelope fields.
type PostalPayload struct {
	ID         int64  `json:"id"`
	RcptTo     string `json:"rcpt_to"`
	MailFrom   string `json:"mail_from"`
	MessageID  string `json:"message_id"`
	Subject    string `json:"subject"`
	From       string `json:"from"`
	To         string `json:"to"`
	Date       string `json:"date"`
	InReplyTo  string `json:"in_reply_to"`
	References string `json:"references"`
	PlainBody  string `json:"plain_body"`
	HTMLBody   string `json:"html_body"`
	Message    string `json:"message"`
	Base64     bool   `json:"base64"`
}

// MailgunPayload is a Mailgun route delivery (form fields).
type MailgunPayload struct {
	Recipient  string
	Sender     string
	From       string
	To         string
	Subject    string
	BodyPlain  string
	BodyHTML   string
	BodyMIME   string
	MessageID  string
	Date       string
	InReplyTo  string
	References string
	Timestamp  string
	Token      string
	Signature  string
}

// SendGridPayload is a SendGrid Inbound Parse delivery (form fields). Email holds the
// full MIME message when "send raw" is enabled.
type SendGridPayload struct {
	To       string
	From     string
	Subject  string
	Text     string
	HTML     string
	Headers  string
	Envelope string
	Email    string
}

// CloudflarePayload is what an Email Routing worker forwards: envelope addresses, the
// message headers and the raw MIME.
type CloudflarePayload struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Headers map[string]string `json:"headers"`
	Raw     string            `json:"raw"`
	RawSize int64             `json:"rawSize"`
}

// GenericPayload is the documented fallback shape for custom forwarders.
type GenericPayload struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	Snippet   string `json:"snippet"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Content   string `json:"content"`
	Raw       string `json:"raw"`
}

func (PostalPayload) Provider() Provider     { return Postal }
func (MailgunPayload) Provider() Provider    { return Mailgun }
func (SendGridPayload) Provider() Provider   { return SendGrid }
func (CloudflarePayload) Provider() Provider { return Cloudflare }
func (GenericPayload) Provider() Provider    { return Generic }

// Decode reads the variant for p out of req.
func Decode(p Provider, req *Request) (Payload, error) {
	switch p {
	case Mailgun:
		if !req.isForm() {
			return nil, fmt.Errorf("mailgun: expected form body, got %q", req.ContentType)
		}
		f := req.Form
		return MailgunPayload{
			Recipient:  f.Get("recipient"),
			Sender:     f.Get("sender"),
			From:       f.Get("from"),
			To:         f.Get("To"),
			Subject:    f.Get("subject"),
			BodyPlain:  f.Get("body-plain"),
			BodyHTML:   f.Get("body-html"),
			BodyMIME:   f.Get("body-mime"),
			MessageID:  f.Get("Message-Id"),
			Date:       f.Get("Date"),
			InReplyTo:  f.Get("In-Reply-To"),
			References: f.Get("References"),
			Timestamp:  f.Get("timestamp"),
			Token:      f.Get("token"),
			Signature:  f.Get("signature"),
		}, nil
	case SendGrid:
		if !req.isForm() {
			return nil, fmt.Errorf("sendgrid: expected form body, got %q", req.ContentType)
		}
		f := req.Form
		return SendGridPayload{
			To:       f.Get("to"),
			From:     f.Get("from"),
			Subject:  f.Get("subject"),
			Text:     f.Get("text"),
			HTML:     f.Get("html"),
			Headers:  f.Get("headers"),
			Envelope: f.Get("envelope"),
			Email:    f.Get("email"),
		}, nil
	case Postal:
		var v PostalPayload
		return v, decodeJSON(req, &v)
	case Cloudflare:
		var v CloudflarePayload
		return v, decodeJSON(req, &v)
	default:
		var v GenericPayload
		if req.isForm() {
			f := req.Form
			v = GenericPayload{
				MessageID: f.Get("messageId"),
				ThreadID:  f.Get("threadId"),
				From:      f.Get("from"),
				To:        f.Get("to"),
				Subject:   f.Get("subject"),
				Date:      f.Get("date"),
				Text:      f.Get("text"),
				HTML:      f.Get("html"),
				Content:   f.Get("content"),
				Raw:       f.Get("raw"),
			}
			return v, nil
		}
		return v, decodeJSON(req, &v)
	}
}

func decodeJSON(req *Request, out any) error {
	if err := json.Unmarshal(req.Body, out); err != nil {
		return fmt.Errorf("decode json payload: %w", err)
	}
	return nil
}

func (p PostalPayload) normalize() (*ParsedEmail, error) {
	if p.Message != "" {
		raw := []byte(p.Message)
		if p.Base64 {
			decoded, err := base64.StdEncoding.DecodeString(p.Message)
			if err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			raw = decoded
		}
		e, err := ParseMIME(raw)
		if err != nil {
			return nil, err
		}
		e.From = firstNonEmpty(e.From, p.MailFrom)
		e.To = firstNonEmpty(p.RcptTo, e.To)
		return e, nil
	}

	return &ParsedEmail{
		MessageID: p.MessageID,
		ThreadID:  threadOf(p.References, p.InReplyTo),
		Subject:   p.Subject,
		From:      firstNonEmpty(p.From, p.MailFrom),
		To:        firstNonEmpty(p.RcptTo, p.To),
		Date:      parseDate(p.Date),
		Content:   Content{Text: p.PlainBody, HTML: p.HTMLBody},
	}, nil
}

func (p MailgunPayload) normalize() (*ParsedEmail, error) {
	if p.BodyMIME != "" {
		e, err := ParseMIME([]byte(p.BodyMIME))
		if err != nil {
			return nil, err
		}
		e.To = firstNonEmpty(p.Recipient, e.To)
		return e, nil
	}

	date := parseDate(p.Date)
	if date.IsZero() {
		date = parseDate(p.Timestamp)
	}
	return &ParsedEmail{
		MessageID: p.MessageID,
		ThreadID:  threadOf(p.References, p.InReplyTo),
		Subject:   p.Subject,
		From:      firstNonEmpty(p.From, p.Sender),
		To:        firstNonEmpty(p.Recipient, p.To),
		Date:      date,
		Content:   Content{Text: p.BodyPlain, HTML: p.BodyHTML},
	}, nil
}

func (p SendGridPayload) normalize() (*ParsedEmail, error) {
	var envelope struct {
		To   []string `json:"to"`
		From string   `json:"from"`
	}
	if p.Envelope != "" {
		if err := json.Unmarshal([]byte(p.Envelope), &envelope); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
	}
	rcpt := ""
	if len(envelope.To) > 0 {
		rcpt = envelope.To[0]
	}

	if p.Email != "" {
		e, err := ParseMIME([]byte(p.Email))
		if err != nil {
			return nil, err
		}
		e.To = firstNonEmpty(rcpt, e.To)
		return e, nil
	}

	e := &ParsedEmail{
		Subject: p.Subject,
		From:    firstNonEmpty(p.From, envelope.From),
		To:      firstNonEmpty(rcpt, p.To),
		Content: Content{Text: p.Text, HTML: p.HTML},
	}
	if p.Headers != "" {
		if msg, err := mail.ReadMessage(strings.NewReader(strings.TrimRight(p.Headers, "\r\n") + "\r\n\r\n")); err == nil {
			e.MessageID = msg.Header.Get("Message-Id")
			e.ThreadID = threadOf(msg.Header.Get("References"), msg.Header.Get("In-Reply-To"))
			e.Date = parseDate(msg.Header.Get("Date"))
		}
	}
	return e, nil
}

func (p CloudflarePayload) normalize() (*ParsedEmail, error) {
	header := func(name string) string {
		for k, v := range p.Headers {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}

	if p.Raw != "" {
		e, err := ParseMIME([]byte(p.Raw))
		if err != nil {
			return nil, err
		}
		e.From = firstNonEmpty(e.From, p.From)
		e.To = firstNonEmpty(p.To, e.To)
		e.MessageID = firstNonEmpty(e.MessageID, header("message-id"))
		return e, nil
	}

	return &ParsedEmail{
		MessageID: header("message-id"),
		ThreadID:  threadOf(header("references"), header("in-reply-to")),
		Subject:   header("subject"),
		From:      firstNonEmpty(header("from"), p.From),
		To:        firstNonEmpty(p.To, header("to")),
		Date:      parseDate(header("date")),
	}, nil
}

func (p GenericPayload) normalize() (*ParsedEmail, error) {
	e := &ParsedEmail{
		MessageID: p.MessageID,
		ThreadID:  p.ThreadID,
		Subject:   p.Subject,
		From:      p.From,
		To:        p.To,
		Date:      parseDate(p.Date),
		Snippet:   p.Snippet,
		Content:   Content{Text: p.Text, HTML: p.HTML},
		Raw:       p.Raw,
	}
	if p.Content != "" && e.Content.Text == "" && e.Content.HTML == "" {
		if looksLikeHTML(p.Content) {
			e.Content.HTML = p.Content
		} else {
			e.Content.Text = p.Content
		}
	}

	// raw may be a MIME message or just the body
	if p.Raw != "" && e.Content.Text == "" && e.Content.HTML == "" {
		if parsed, err := ParseMIME([]byte(p.Raw)); err == nil && (parsed.Content.Text != "" || parsed.Content.HTML != "") {
			e.Content = parsed.Content
			e.MessageID = firstNonEmpty(e.MessageID, parsed.MessageID)
			e.Subject = firstNonEmpty(e.Subject, parsed.Subject)
			e.From = firstNonEmpty(e.From, parsed.From)
			e.To = firstNonEmpty(e.To, parsed.To)
			if e.Date.IsZero() {
				e.Date = parsed.Date
			}
		} else if looksLikeHTML(p.Raw) {
			e.Content.HTML = p.Raw
		} else {
			e.Content.Text = p.Raw
		}
	}
	return e, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func looksLikeHTML(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "<html") || strings.Contains(s, "<body") ||
		strings.Contains(s, "<div") || strings.Contains(s, "<p") || strings.Contains(s, "<h")
}

// parseDate accepts RFC 3339, RFC 5322 and unix seconds; anything else is the zero time.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		return time.Unix(int64(secs), 0).UTC()
	}
	return time.Time{}
}

// threadOf returns the root of References, else In-Reply-To, without angle brackets.
func threadOf(references, inReplyTo string) string {
	if fields := strings.Fields(references); len(fields) > 0 {
		return trimID(fields[0])
	}
	return trimID(inReplyTo)
}

func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
