// Package whatsapp implements the WhatsApp Cloud API webhook receiver and text sender.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/switchboard/internal/channel"
)

// Type is the registry key of this adapter.
const Type = channel.TypeWhatsApp

// Credential keys read from channel_accounts.credentials.
const (
	CredentialAccessToken   = "access_token"
	CredentialAppSecret     = "app_secret"
	CredentialVerifyToken   = "verify_token"
	CredentialPhoneNumberID = "phone_number_id"
)

const signatureHeader = "X-Hub-Signature-256"

// ErrVerifyTokenMismatch is returned by VerifySubscription for a bad handshake.
var ErrVerifyTokenMismatch = errors.New("whatsapp verify token mismatch")

// Adapter receives Cloud API webhooks and sends text replies through the Graph API.
type Adapter struct {
	logger     *slog.Logger
	http       *http.Client
	baseURL    string
	apiVersion string
}

// NewAdapter builds the adapter; baseURL and apiVersion select the Graph API endpoint.
func NewAdapter(log *slog.Logger, baseURL, apiVersion string, timeout time.Duration) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://graph.facebook.com"
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = "v21.0"
	}
	return &Adapter{
		logger:     log.With(slog.String("adapter", "whatsapp")),
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: strings.Trim(apiVersion, "/"),
	}
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.Type {
	return Type
}

// VerifySubscription answers the Cloud API GET handshake and returns the challenge to echo.
func (a *Adapter) VerifySubscription(account channel.Account, mode, token, challenge string) (string, error) {
	expected := account.Credential(CredentialVerifyToken)
	if mode != "subscribe" || expected == "" {
		return "", ErrVerifyTokenMismatch
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}

// VerifyWebhook checks X-Hub-Signature-256 against HMAC-SHA256(app_secret, body).
// An account without an app secret never verifies.
func (a *Adapter) VerifyWebhook(account channel.Account, header http.Header, body []byte) error {
	secret := account.Credential(CredentialAppSecret)
	if secret == "" {
		return channel.ErrInvalidSignature
	}
	sig := strings.TrimSpace(header.Get(signatureHeader))
	sig, ok := strings.CutPrefix(sig, "sha256=")
	if !ok {
		return channel.ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return channel.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return channel.ErrInvalidSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body; used by tests and local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts a text message to /{version}/{phone_number_id}/messages.
func (a *Adapter) Send(ctx context.Context, account channel.Account, msg channel.OutboundMessage) (channel.SendResult, error) {
	token := account.Credential(CredentialAccessToken)
	phoneID := account.Credential(CredentialPhoneNumberID)
	if token == "" || phoneID == "" {
		return channel.SendResult{}, errors.New("whatsapp account missing access_token or phone_number_id")
	}
	to := strings.TrimPrefix(strings.TrimSpace(msg.ContactID), "+")
	if to == "" {
		return channel.SendResult{}, errors.New("whatsapp recipient is required")
	}
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: msg.Text},
	})
	if err != nil {
		return channel.SendResult{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", a.baseURL, a.apiVersion, phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return channel.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("whatsapp send: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.Warn("close response body failed", slog.Any("error", err))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("whatsapp send: read response: %w", err)
	}
	var parsed sendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
			return channel.SendResult{}, fmt.Errorf("whatsapp send: decode response: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return channel.SendResult{}, fmt.Errorf("whatsapp send: status %d: %s (code %d)", resp.StatusCode, parsed.Error.Message, parsed.Error.Code)
		}
		return channel.SendResult{}, fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	result := channel.SendResult{}
	if len(parsed.Messages) > 0 {
		result.ProviderMessageID = parsed.Messages[0].ID
	}
	return result, nil
}
