// Package telegram implements the Telegram Bot API webhook receiver and text sender.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/switchboard/internal/channel"
)

// Type is the registry key of this adapter.
const Type = channel.TypeTelegram

// Credential keys read from channel_accounts.credentials.
const (
	CredentialBotToken    = "bot_token"
	CredentialSecretToken = "secret_token"
)

// SecretTokenHeader carries the secret set with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// DefaultTimeout bounds a Bot API call when the caller sets no deadline.
const DefaultTimeout = 10 * time.Second

// Adapter receives Telegram webhook updates and replies with sendMessage.
type Adapter struct {
	logger   *slog.Logger
	endpoint string
	client   tgbotapi.HTTPClient
}

// NewAdapter creates the adapter against the public Bot API.
func NewAdapter(log *slog.Logger) *Adapter {
	return NewAdapterWithEndpoint(log, tgbotapi.APIEndpoint, &http.Client{Timeout: DefaultTimeout})
}

// NewAdapterWithEndpoint points the adapter at a custom Bot API endpoint
// (format "https://host/bot%s/%s") and HTTP client.
func NewAdapterWithEndpoint(log *slog.Logger, endpoint string, client tgbotapi.HTTPClient) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "telegram")),
		endpoint: endpoint,
		client:   client,
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.Type {
	return Type
}

// VerifyWebhook compares the secret-token header with the account secret in constant time.
// An account without a secret never verifies.
func (a *Adapter) VerifyWebhook(account channel.Account, header http.Header, _ []byte) error {
	expected := account.Credential(CredentialSecretToken)
	got := strings.TrimSpace(header.Get(SecretTokenHeader))
	if expected == "" || got == "" {
		return channel.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return channel.ErrInvalidSignature
	}
	return nil
}

// DecodeWebhook turns one Update into at most one event. Only private-chat
// messages with text or a caption are kept; edits, callbacks and group traffic are dropped.
func (a *Adapter) DecodeWebhook(account channel.Account, body []byte) ([]channel.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, nil
	}
	if msg.Chat.Type != "" && msg.Chat.Type != "private" {
		return nil, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return nil, nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	event := channel.InboundEvent{
		OrganizationID:    account.OrganizationID,
		AccountID:         account.ID,
		Platform:          Type,
		ContactID:         chatID,
		ContactName:       senderName(msg),
		Text:              text,
		ExternalMessageID: chatID + ":" + strconv.Itoa(msg.MessageID),
		Metadata: map[string]any{
			"updateId": update.UpdateID,
		},
	}
	if msg.Date > 0 {
		event.ReceivedAt = msg.Time().UTC()
	}
	if msg.From != nil && msg.From.UserName != "" {
		event.Metadata["username"] = msg.From.UserName
	}
	return []channel.InboundEvent{event}, nil
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return strings.TrimSpace(msg.Chat.FirstName + " " + msg.Chat.LastName)
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		name = strings.TrimSpace(msg.From.UserName)
	}
	return name
}

// Send delivers text to the chat id held in ContactID. The request is bound to ctx.
func (a *Adapter) Send(ctx context.Context, account channel.Account, msg channel.OutboundMessage) (channel.SendResult, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ContactID), 10, 64)
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("telegram target must be a chat id: %w", err)
	}
	bot, err := a.bot(ctx, account)
	if err != nil {
		return channel.SendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return channel.SendResult{}, err
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, msg.Text))
	if err != nil {
		a.logger.Warn("telegram send failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return channel.SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	return channel.SendResult{ProviderMessageID: strconv.Itoa(sent.MessageID)}, nil
}

// bot builds a per-call client for the account token. It skips the getMe
// handshake of tgbotapi.NewBotAPI, so nothing is shared between accounts.
func (a *Adapter) bot(ctx context.Context, account channel.Account) (*tgbotapi.BotAPI, error) {
	token := account.Credential(CredentialBotToken)
	if token == "" {
		return nil, errors.New("telegram account missing bot_token")
	}
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Buffer: 100,
		Client: contextClient{ctx: ctx, next: a.client},
	}
	bot.SetAPIEndpoint(a.endpoint)
	return bot, nil
}

// contextClient attaches ctx to every request tgbotapi builds.
type contextClient struct {
	ctx  context.Context
	next tgbotapi.HTTPClient
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}
