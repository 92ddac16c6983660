package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/switchboard/internal/channel"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550783881", "phone_number_id": "106540352242922"},
        "contacts": [{"profile": {"name": "Ayşe"}, "wa_id": "905321112233"}],
        "messages": [
          {"from": "905321112233", "id": "wamid.HBgM1", "timestamp": "1760000000", "type": "text", "text": {"body": "Merhaba"}},
          {"from": "905321112233", "id": "wamid.HBgM2", "timestamp": "1760000001", "type": "image"},
          {"from": "905321112233", "id": "wamid.HBgM3", "timestamp": "1760000002", "type": "interactive",
           "interactive": {"button_reply": {"id": "b1", "title": "Fiyat"}}}
        ]
      }
    }]
  }]
}`

func testAccount() channel.Account {
	return channel.Account{
		ID:             "acct-1",
		OrganizationID: "org-1",
		Platform:       channel.TypeWhatsApp,
		Credentials: map[string]any{
			CredentialAppSecret:     "app-secret",
			CredentialVerifyToken:   "verify-me",
			CredentialAccessToken:   "token-1",
			CredentialPhoneNumberID: "106540352242922",
		},
	}
}

func TestVerifyWebhook(t *testing.T) {
	a := NewAdapter(nil, "", "", 0)
	body := []byte(samplePayload)

	tests := []struct {
		name    string
		account channel.Account
		header  string
		wantErr bool
	}{
		{"valid signature", testAccount(), Sign("app-secret", body), false},
		{"wrong secret", testAccount(), Sign("other", body), true},
		{"missing prefix", testAccount(), Sign("app-secret", body)[len("sha256="):], true},
		{"not hex", testAccount(), "sha256=zz", true},
		{"no header", testAccount(), "", true},
		{"account without secret", channel.Account{}, Sign("", body), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set(signatureHeader, tt.header)
			}
			err := a.VerifyWebhook(tt.account, h, body)
			if tt.wantErr {
				assert.ErrorIs(t, err, channel.ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySubscription(t *testing.T) {
	a := NewAdapter(nil, "", "", 0)
	challenge, err := a.VerifySubscription(testAccount(), "subscribe", "verify-me", "1158201444")
	require.NoError(t, err)
	assert.Equal(t, "1158201444", challenge)

	_, err = a.VerifySubscription(testAccount(), "subscribe", "wrong", "x")
	assert.ErrorIs(t, err, ErrVerifyTokenMismatch)
	_, err = a.VerifySubscription(testAccount(), "unsubscribe", "verify-me", "x")
	assert.ErrorIs(t, err, ErrVerifyTokenMismatch)
}

func TestDecodeWebhook(t *testing.T) {
	a := NewAdapter(nil, "", "", 0)
	events, err := a.DecodeWebhook(testAccount(), []byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "org-1", first.OrganizationID)
	assert.Equal(t, "acct-1", first.AccountID)
	assert.Equal(t, channel.TypeWhatsApp, first.Platform)
	assert.Equal(t, "905321112233", first.ContactID)
	assert.Equal(t, "Ayşe", first.ContactName)
	assert.Equal(t, "Merhaba", first.Text)
	assert.Equal(t, "wamid.HBgM1", first.ExternalMessageID)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), first.ReceivedAt)

	assert.Equal(t, "Fiyat", events[1].Text)
}

func TestDecodeWebhookStatusOnly(t *testing.T) {
	a := NewAdapter(nil, "", "", 0)
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.X","status":"read"}]}}]}]}`
	events, err := a.DecodeWebhook(testAccount(), []byte(body))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = a.DecodeWebhook(testAccount(), []byte("{"))
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer srv.Close()

	a := NewAdapter(nil, srv.URL, "v21.0", time.Second)
	res, err := a.Send(context.Background(), testAccount(), channel.OutboundMessage{ContactID: "+905321112233", Text: "Size nasıl yardımcı olabilirim?"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT1", res.ProviderMessageID)
	assert.Equal(t, "/v21.0/106540352242922/messages", gotPath)
	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, "905321112233", gotBody.To)
	assert.Equal(t, "text", gotBody.Type)
	assert.Equal(t, "Size nasıl yardımcı olabilirim?", gotBody.Text.Body)
}

func TestSendProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient not in allowed list","code":131030}}`))
	}))
	defer srv.Close()

	a := NewAdapter(nil, srv.URL, "v21.0", time.Second)
	_, err := a.Send(context.Background(), testAccount(), channel.OutboundMessage{ContactID: "905321112233", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "131030")

	_, err = a.Send(context.Background(), channel.Account{}, channel.OutboundMessage{ContactID: "1", Text: "hi"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, channel.ErrInvalidSignature))
}
