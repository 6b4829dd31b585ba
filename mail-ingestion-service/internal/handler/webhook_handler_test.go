package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"

	"digestgenie/mail-ingestion-service/internal/service/ingest"
	"digestgenie/mail-ingestion-service/internal/webhook"
)

type fakeIngester struct {
	seen   map[string]bool
	got    *webhook.ParsedEmail
	err    error
	called int
}

func (f *fakeIngester) Ingest(_ context.Context, email *webhook.ParsedEmail) (*ingest.Result, error) {
	f.called++
	f.got = email
	if f.err != nil {
		return nil, f.err
	}
	if f.seen[email.MessageID] {
		return &ingest.Result{Status: ingest.StatusDuplicate}, nil
	}
	f.seen[email.MessageID] = true
	return &ingest.Result{Status: ingest.StatusAccepted, RawEmailID: "raw-1"}, nil
}

const genericBody = `{"messageId":"m-1","from":"crew@morningbrew.com","to":"user-1a2b3c4d-0042@newsletters.localhost","subject":"Daily","html":"<h2>Hi</h2>"}`

func newTestWebhookRouter(ing Ingester, secret string, production bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(ing, secret, production, 0, zap.NewNop())
	r.GET("/webhooks/email", h.Challenge)
	r.POST("/webhooks/email", h.Receive)
	return r
}

func post(r *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChallengeEcho(t *testing.T) {
	r := newTestWebhookRouter(&fakeIngester{seen: map[string]bool{}}, "", false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/email?challenge=abc%20123", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc 123", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/email", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())
}

func TestReceiveAcceptsSignedDelivery(t *testing.T) {
	ing := &fakeIngester{seen: map[string]bool{}}
	r := newTestWebhookRouter(ing, "s3cret", true)

	w := post(r, genericBody, "sha256="+webhook.Sign("s3cret", []byte(genericBody)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"raw_email_id":"raw-1","status":"accepted"}`, w.Body.String())
	assert.Equal(t, "m-1", ing.got.MessageID)
	assert.Equal(t, webhook.Generic, ing.got.Provider)
}

func TestReceiveDuplicateIsNoop(t *testing.T) {
	ing := &fakeIngester{seen: map[string]bool{}}
	r := newTestWebhookRouter(ing, "", false)

	assert.Equal(t, http.StatusOK, post(r, genericBody, "").Code)
	w := post(r, genericBody, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"duplicate"}`, w.Body.String())
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	ing := &fakeIngester{seen: map[string]bool{}}
	r := newTestWebhookRouter(ing, "s3cret", false)

	w := post(r, genericBody, webhook.Sign("wrong", []byte(genericBody)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, genericBody, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ing.called)
}

func TestReceiveWithoutSecret(t *testing.T) {
	ing := &fakeIngester{seen: map[string]bool{}}

	dev := newTestWebhookRouter(ing, "", false)
	assert.Equal(t, http.StatusOK, post(dev, genericBody, "").Code)

	prod := newTestWebhookRouter(ing, "", true)
	assert.Equal(t, http.StatusServiceUnavailable, post(prod, genericBody, "").Code)
	assert.Equal(t, 1, ing.called)
}

func TestReceiveMapsIngestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown recipient", ingest.ErrUnknownRecipient, http.StatusNotFound},
		{"no recipient", ingest.ErrNoRecipient, http.StatusBadRequest},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestWebhookRouter(&fakeIngester{seen: map[string]bool{}, err: tt.err}, "", false)
			assert.Equal(t, tt.code, post(r, genericBody, "").Code)
		})
	}
}

func TestReceiveRejectsMalformedPayload(t *testing.T) {
	ing := &fakeIngester{seen: map[string]bool{}}
	r := newTestWebhookRouter(ing, "", false)

	w := post(r, `{"rcpt_to":"a@b.c","mail_from":"x@y.z","message":"!!!","base64":true}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, ing.called)
}

type memTokens map[string]bool

func (m memTokens) AcquireOnce(_ context.Context, handler, id string) bool {
	key := handler + ":" + id
	if m[key] {
		return false
	}
	m[key] = true
	return true
}

func postMailgun(r *gin.Engine, secret string, signedAt time.Time, token, messageID string) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(signedAt.Unix(), 10)
	form := url.Values{
		"recipient":  {"user-1a2b3c4d-0042@newsletters.localhost"},
		"sender":     {"crew@morningbrew.com"},
		"subject":    {"Daily Brief"},
		"body-plain": {"Top stories today"},
		"Message-Id": {messageID},
		"timestamp":  {ts},
		"token":      {token},
		"signature":  {webhook.Sign(secret, []byte(ts+token))},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveMailgunTokenIsSingleUse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ing := &fakeIngester{seen: map[string]bool{}}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(ing, "key", true, 0, zap.NewNop()).
		WithTokenGuard(memTokens{}).
		WithClock(func() time.Time { return now })
	r.POST("/webhooks/email", h.Receive)

	w := postMailgun(r, "key", now.Add(-time.Minute), "tok-1", "<mg-1@morningbrew.com>")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, webhook.Mailgun, ing.got.Provider)

	// Same signature triple, different message.
	w = postMailgun(r, "key", now.Add(-time.Minute), "tok-1", "<forged-2@morningbrew.com>")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postMailgun(r, "key", now.Add(-24*time.Hour), "tok-old", "<forged-3@morningbrew.com>")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, ing.called)
}
