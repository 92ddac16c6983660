package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/channel/adapters/telegram"
	"github.com/memohai/switchboard/internal/channel/adapters/whatsapp"
	"github.com/memohai/switchboard/internal/inbound"
)

type accountMap map[string]channel.Account

func (m accountMap) GetAccount(_ context.Context, id string) (channel.Account, error) {
	if a, ok := m[id]; ok {
		return a, nil
	}
	return channel.Account{}, channel.ErrAccountNotFound
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []channel.InboundEvent
	err    error
}

func (p *recordingProcessor) Handle(ctx context.Context, _ channel.Account, ev channel.InboundEvent) (inbound.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return inbound.Result{}, errors.New("expected a deadline")
	}
	p.events = append(p.events, ev)
	if p.err != nil {
		return inbound.Result{}, p.err
	}
	return inbound.Result{Status: inbound.StatusProcessed, ConversationID: "conv-1"}, nil
}

const telegramUpdate = `{"update_id":1,"message":{"message_id":7,"date":1760000000,
	"from":{"id":555,"first_name":"Ayşe"},"chat":{"id":555,"type":"private"},"text":"Merhaba"}}`

func webhookFixture(t *testing.T) (*echo.Echo, *recordingProcessor) {
	t.Helper()
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(nil))
	registry.MustRegister(whatsapp.NewAdapter(nil, "", "", 0))

	accounts := accountMap{
		"tg-1": {
			ID: "tg-1", OrganizationID: "org-1", Platform: channel.TypeTelegram, Enabled: true,
			Credentials: map[string]any{telegram.CredentialSecretToken: "s3cret"},
		},
		"tg-off": {
			ID: "tg-off", OrganizationID: "org-1", Platform: channel.TypeTelegram, Enabled: false,
			Credentials: map[string]any{telegram.CredentialSecretToken: "s3cret"},
		},
		"wa-1": {
			ID: "wa-1", OrganizationID: "org-1", Platform: channel.TypeWhatsApp, Enabled: true,
			Credentials: map[string]any{
				whatsapp.CredentialAppSecret:   "app-secret",
				whatsapp.CredentialVerifyToken: "verify-me",
			},
		},
	}
	proc := &recordingProcessor{}
	e := echo.New()
	NewWebhookHandler(nil, accounts, registry, proc, time.Second).Register(e)
	return e, proc
}

func postTelegram(e *echo.Echo, accountID, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram/"+accountID, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(telegram.SecretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTelegramWebhookAccepted(t *testing.T) {
	e, proc := webhookFixture(t)
	rec := postTelegram(e, "tg-1", "s3cret", telegramUpdate)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, proc.events, 1)
	assert.Equal(t, "Merhaba", proc.events[0].Text)
	assert.Equal(t, "555:7", proc.events[0].ExternalMessageID)
}

func TestTelegramWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		account string
		secret  string
		want    int
	}{
		{"bad secret", "tg-1", "wrong", http.StatusUnauthorized},
		{"missing secret", "tg-1", "", http.StatusUnauthorized},
		{"unknown account", "nope", "s3cret", http.StatusNotFound},
		{"disabled account", "tg-off", "s3cret", http.StatusNotFound},
		{"platform mismatch", "wa-1", "s3cret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, proc := webhookFixture(t)
			rec := postTelegram(e, tt.account, tt.secret, telegramUpdate)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, proc.events)
		})
	}
}

func TestWebhookNoopPayloadsAcknowledged(t *testing.T) {
	e, proc := webhookFixture(t)
	for _, body := range []string{
		`{"update_id":2,"edited_message":{"message_id":1,"date":1,"chat":{"id":5,"type":"private"},"text":"x"}}`,
		`not json`,
	} {
		rec := postTelegram(e, "tg-1", "s3cret", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, proc.events)
}

func TestWebhookPersistenceFailureIs500(t *testing.T) {
	e, proc := webhookFixture(t)
	proc.err = errors.New("db down")
	rec := postTelegram(e, "tg-1", "s3cret", telegramUpdate)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

const whatsappPayload = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages",
	"value":{"messaging_product":"whatsapp","contacts":[{"wa_id":"905551112233","profile":{"name":"Ali"}}],
	"messages":[{"from":"905551112233","id":"wamid.A","timestamp":"1760000000","type":"text","text":{"body":"Merhaba"}}]}}]}]}`

func TestWhatsAppWebhookSignature(t *testing.T) {
	e, proc := webhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/wa-1", strings.NewReader(whatsappPayload))
	req.Header.Set("X-Hub-Signature-256", whatsapp.Sign("app-secret", []byte(whatsappPayload)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, proc.events, 1)
	assert.Equal(t, "wamid.A", proc.events[0].ExternalMessageID)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/wa-1", strings.NewReader(whatsappPayload))
	req.Header.Set("X-Hub-Signature-256", whatsapp.Sign("other", []byte(whatsappPayload)))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, proc.events, 1)
}

func TestWhatsAppSubscriptionHandshake(t *testing.T) {
	e, _ := webhookFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/wa-1?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/wa-1?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
