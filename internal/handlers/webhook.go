package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/inbound"
	"github.com/memohai/switchboard/internal/logger"
)

const maxWebhookBody = 1 << 20

// AccountLookup resolves the channel account a webhook URL points at.
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (channel.Account, error)
}

// InboundSource resolves the receive side of a platform adapter.
type InboundSource interface {
	Get(channelType channel.Type) (channel.Adapter, bool)
	GetInbound(channelType channel.Type) (channel.InboundAdapter, bool)
}

// EventProcessor runs the inbound pipeline for one decoded event.
type EventProcessor interface {
	Handle(ctx context.Context, account channel.Account, ev channel.InboundEvent) (inbound.Result, error)
}

// SubscriptionVerifier answers the provider's webhook subscription handshake.
type SubscriptionVerifier interface {
	VerifySubscription(account channel.Account, mode, token, challenge string) (string, error)
}

// WebhookHandler receives provider webhooks and feeds them to the inbound pipeline.
type WebhookHandler struct {
	accounts  AccountLookup
	adapters  InboundSource
	processor EventProcessor
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler. timeout bounds one delivery's pipeline run.
func NewWebhookHandler(log *slog.Logger, accounts AccountLookup, adapters InboundSource, processor EventProcessor, timeout time.Duration) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &WebhookHandler{
		accounts:  accounts,
		adapters:  adapters,
		processor: processor,
		timeout:   timeout,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts the provider webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	g := e.Group("/webhooks")
	g.GET("/whatsapp/:account_id", h.VerifyWhatsAppSubscription)
	g.POST("/whatsapp/:account_id", h.receive(channel.TypeWhatsApp))
	g.POST("/telegram/:account_id", h.receive(channel.TypeTelegram))
}

type webhookAck struct {
	OK bool `json:"ok"`
}

// VerifyWhatsAppSubscription echoes hub.challenge when hub.verify_token matches the account.
func (h *WebhookHandler) VerifyWhatsAppSubscription(c echo.Context) error {
	account, err := h.account(c, channel.TypeWhatsApp)
	if err != nil {
		return err
	}
	adapter, ok := h.adapters.Get(channel.TypeWhatsApp)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "platform not configured")
	}
	verifier, ok := adapter.(SubscriptionVerifier)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "platform does not support subscription handshake")
	}
	challenge, err := verifier.VerifySubscription(account,
		c.QueryParam("hub.mode"), c.QueryParam("hub.verify_token"), c.QueryParam("hub.challenge"))
	if err != nil {
		h.logger.Warn("subscription handshake rejected", slog.String("account_id", account.ID))
		return echo.NewHTTPError(http.StatusForbidden, "verify token mismatch")
	}
	return c.String(http.StatusOK, challenge)
}

func (h *WebhookHandler) receive(platform channel.Type) echo.HandlerFunc {
	return func(c echo.Context) error {
		account, err := h.account(c, platform)
		if err != nil {
			return err
		}
		adapter, ok := h.adapters.GetInbound(platform)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "platform not configured")
		}

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "read body")
		}

		// The pipeline must finish even if the provider hangs up.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), h.timeout)
		defer cancel()
		ctx, log := logger.With(logger.WithContext(ctx, h.logger),
			slog.String("platform", platform.String()),
			slog.String("account_id", account.ID),
			slog.String("organization_id", account.OrganizationID),
		)

		if err := adapter.VerifyWebhook(account, c.Request().Header, body); err != nil {
			log.Warn("webhook signature rejected", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}

		events, err := adapter.DecodeWebhook(account, body)
		if err != nil {
			log.Warn("webhook payload not decodable", slog.Any("error", err))
			return c.JSON(http.StatusOK, webhookAck{OK: true})
		}

		var failed bool
		for _, ev := range events {
			res, err := h.processor.Handle(ctx, account, ev)
			if err != nil {
				failed = true
				log.Error("inbound pipeline failed",
					slog.String("external_message_id", ev.ExternalMessageID),
					slog.Any("error", err))
				continue
			}
			log.Debug("inbound handled",
				slog.String("status", string(res.Status)),
				slog.String("conversation_id", res.ConversationID))
		}
		if failed {
			return echo.NewHTTPError(http.StatusInternalServerError, "persistence failure")
		}
		return c.JSON(http.StatusOK, webhookAck{OK: true})
	}
}

// account loads the enabled account named in the path and checks it serves platform.
func (h *WebhookHandler) account(c echo.Context, platform channel.Type) (channel.Account, error) {
	id := strings.TrimSpace(c.Param("account_id"))
	if id == "" {
		return channel.Account{}, echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	account, err := h.accounts.GetAccount(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, channel.ErrAccountNotFound) {
			return channel.Account{}, echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		h.logger.Error("load channel account failed", slog.String("account_id", id), slog.Any("error", err))
		return channel.Account{}, echo.NewHTTPError(http.StatusInternalServerError, "load account")
	}
	if !account.Enabled || account.Platform != platform {
		return channel.Account{}, echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	return account, nil
}
