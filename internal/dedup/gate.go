// Package dedup drops repeated deliveries of the same inbound message.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SyntheticPrefix marks keys derived from message content instead of a provider id.
const SyntheticPrefix = "synthetic:"

// Source identifies one inbound delivery.
type Source struct {
	Platform          string
	ContactID         string
	ExternalMessageID string
	ReceivedAt        time.Time
	Text              string
}

// Key is the dedup identity of a delivery.
type Key struct {
	Value     string
	Synthetic bool
}

// Empty reports whether the delivery cannot be deduplicated.
func (k Key) Empty() bool {
	return k.Value == ""
}

// Lookup reports whether a contact message with the external id was already stored.
type Lookup interface {
	ContactMessageExists(ctx context.Context, organizationID, externalMessageID string) (bool, error)
}

// Gate checks the message store for an earlier delivery.
type Gate struct {
	lookup Lookup
	logger *slog.Logger
}

// NewGate creates a dedup gate over lookup.
func NewGate(log *slog.Logger, lookup Lookup) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		lookup: lookup,
		logger: log.With(slog.String("service", "dedup")),
	}
}

// KeyFor returns the provider id when present. Without one it derives a synthetic
// key from platform, contact, receive time and text; with no receive time the key is empty.
func KeyFor(src Source) Key {
	if id := strings.TrimSpace(src.ExternalMessageID); id != "" {
		return Key{Value: id}
	}
	if src.ReceivedAt.IsZero() {
		return Key{}
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.ToLower(strings.TrimSpace(src.Platform)),
		strings.TrimSpace(src.ContactID),
		strconv.FormatInt(src.ReceivedAt.Unix(), 10),
		src.Text,
	}, "|")))
	return Key{Value: SyntheticPrefix + hex.EncodeToString(sum[:]), Synthetic: true}
}

// Seen reports whether key was already processed for the organization. An empty key is never seen.
func (g *Gate) Seen(ctx context.Context, organizationID string, key Key) (bool, error) {
	if key.Empty() {
		return false, nil
	}
	exists, err := g.lookup.ContactMessageExists(ctx, organizationID, key.Value)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		g.logger.Debug("duplicate delivery",
			slog.String("organization_id", organizationID),
			slog.String("external_message_id", key.Value),
			slog.Bool("synthetic", key.Synthetic))
	}
	return exists, nil
}
