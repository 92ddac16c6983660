// Package outbound sends replies through the platform adapters and records them.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/message"
)

// ErrNoSender is recorded when no adapter can send on the account's platform.
var ErrNoSender = errors.New("no sender for platform")

// SenderSource resolves the send side of a platform adapter.
type SenderSource interface {
	GetSender(channelType channel.Type) (channel.Sender, bool)
}

// ConversationToucher bumps a conversation's last activity without touching unread.
type ConversationToucher interface {
	TouchOutbound(ctx context.Context, conversationID string, at time.Time) error
}

// Request is one reply to deliver.
type Request struct {
	Account        channel.Account
	ConversationID string
	OrganizationID string
	ContactID      string
	Text           string
	// Sender defaults to message.SenderBot.
	Sender   message.SenderType
	Metadata map[string]any
}

// Result is the recorded message and whether the provider accepted it.
type Result struct {
	Message   message.Message
	Delivered bool
	SendErr   error
}

// Options tune the dispatcher.
type Options struct {
	RatePerSecond float64
	Burst         int
	SendTimeout   time.Duration
}

// Dispatcher delivers replies. Send failures are recorded on the message; only
// persistence failures are returned as errors.
type Dispatcher struct {
	senders       SenderSource
	messages      message.Writer
	conversations ConversationToucher
	opts          Options
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(log *slog.Logger, senders SenderSource, messages message.Writer, conversations ConversationToucher, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Dispatcher{
		senders:       senders,
		messages:      messages,
		conversations: conversations,
		opts:          opts,
		logger:        log.With(slog.String("service", "outbound")),
		now:           time.Now,
		limiters:      map[string]*rate.Limiter{},
	}
}

// Dispatch sends req, then persists the message with its delivery markers and bumps last activity.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, errors.New("reply text is required")
	}
	sender := req.Sender
	if sender == "" {
		sender = message.SenderBot
	}

	providerID, sendErr := d.send(ctx, req.Account, channel.OutboundMessage{ContactID: req.ContactID, Text: text})

	meta := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if sendErr != nil {
		meta[message.MetaDeliveryStatus] = message.DeliveryFailed
		meta[message.MetaDeliveryError] = sendErr.Error()
		d.logger.Warn("reply delivery failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("platform", req.Account.Platform.String()),
			slog.Any("error", sendErr))
	} else {
		meta[message.MetaDeliveryStatus] = message.DeliverySent
		if providerID != "" {
			meta[message.MetaProviderMessageID] = providerID
		}
	}

	at := d.now().UTC()
	msg, err := d.messages.Persist(ctx, message.PersistInput{
		ConversationID: req.ConversationID,
		OrganizationID: req.OrganizationID,
		SenderType:     sender,
		Content:        text,
		Metadata:       meta,
		CreatedAt:      at,
	})
	if err != nil {
		return Result{SendErr: sendErr}, fmt.Errorf("persist outbound message: %w", err)
	}
	if err := d.conversations.TouchOutbound(ctx, req.ConversationID, at); err != nil {
		return Result{Message: msg, SendErr: sendErr}, fmt.Errorf("touch conversation: %w", err)
	}
	return Result{Message: msg, Delivered: sendErr == nil, SendErr: sendErr}, nil
}

func (d *Dispatcher) send(ctx context.Context, account channel.Account, msg channel.OutboundMessage) (string, error) {
	s, ok := d.senders.GetSender(account.Platform)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSender, account.Platform)
	}
	if lim := d.limiter(account); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	res, err := s.Send(sendCtx, account, msg)
	if err != nil {
		return "", err
	}
	return res.ProviderMessageID, nil
}

// limiter returns the account's token bucket, or nil when throttling is off.
func (d *Dispatcher) limiter(account channel.Account) *rate.Limiter {
	if d.opts.RatePerSecond <= 0 {
		return nil
	}
	key := account.ID
	if key == "" {
		key = account.Platform.String()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.opts.RatePerSecond), d.opts.Burst)
		d.limiters[key] = lim
	}
	return lim
}
