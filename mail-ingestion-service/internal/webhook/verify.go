package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) for every provider except Mailgun,
// which signs timestamp+token inside the form.
const SignatureHeader = "X-Webhook-Signature"

// MaxSignatureAge bounds how far a Mailgun timestamp may sit from the receive time.
const MaxSignatureAge = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrStaleSignature   = errors.New("webhook: signature timestamp outside allowed window")
)

// Verify checks the delivery signature with secret using the scheme of provider p. Mailgun's
// signature does not cover the body, so its timestamp must be within MaxSignatureAge of now
// and callers must reject a ReplayToken they have seen before.
func Verify(p Provider, req *Request, secret string, now time.Time) error {
	if mailgunSigned(p, req) {
		timestamp, token := req.Form.Get("timestamp"), req.Form.Get("token")
		if timestamp == "" || token == "" {
			return ErrMissingSignature
		}
		if err := compare(req.Form.Get("signature"), Sign(secret, []byte(timestamp+token))); err != nil {
			return err
		}
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		if age := now.Sub(time.Unix(sec, 0)); age > MaxSignatureAge || age < -MaxSignatureAge {
			return ErrStaleSignature
		}
		return nil
	}

	got := req.Header.Get(SignatureHeader)
	if got == "" {
		return ErrMissingSignature
	}
	return compare(strings.TrimPrefix(got, "sha256="), Sign(secret, req.Body))
}

// ReplayToken returns the single-use token of a Mailgun form signature, or "" when the
// delivery is signed over its body.
func ReplayToken(p Provider, req *Request) string {
	if !mailgunSigned(p, req) {
		return ""
	}
	return req.Form.Get("token")
}

func mailgunSigned(p Provider, req *Request) bool {
	return p == Mailgun && req.isForm() && req.Form.Get("signature") != ""
}

// Sign returns the lowercase hex HMAC-SHA256 of msg.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func compare(got, want string) error {
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(got))), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}
