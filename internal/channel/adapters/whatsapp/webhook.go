package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/switchboard/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		ButtonReply struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// DecodeWebhook extracts customer text messages; delivery/read statuses are ignored.
func (a *Adapter) DecodeWebhook(account channel.Account, body []byte) ([]channel.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	var events []channel.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = strings.TrimSpace(c.Profile.Name)
			}
			for _, msg := range change.Value.Messages {
				text := messageText(msg)
				if text == "" || strings.TrimSpace(msg.From) == "" {
					continue
				}
				events = append(events, channel.InboundEvent{
					OrganizationID:    account.OrganizationID,
					AccountID:         account.ID,
					Platform:          Type,
					ContactID:         strings.TrimSpace(msg.From),
					ContactName:       names[msg.From],
					Text:              text,
					ExternalMessageID: strings.TrimSpace(msg.ID),
					ReceivedAt:        parseUnix(msg.Timestamp),
					Metadata: map[string]any{
						"messageType":   msg.Type,
						"phoneNumberId": change.Value.Metadata.PhoneNumberID,
					},
				})
			}
		}
	}
	return events, nil
}

func messageText(msg webhookMessage) string {
	switch msg.Type {
	case "text", "":
		return strings.TrimSpace(msg.Text.Body)
	case "button":
		return strings.TrimSpace(msg.Button.Text)
	case "interactive":
		if title := strings.TrimSpace(msg.Interactive.ButtonReply.Title); title != "" {
			return title
		}
		return strings.TrimSpace(msg.Interactive.ListReply.Title)
	default:
		return ""
	}
}

func parseUnix(raw string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
