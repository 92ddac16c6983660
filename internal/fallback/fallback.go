// Package fallback produces a reply when no skill answers a turn.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Languages the static replies cover.
const (
	LanguageTurkish = "tr"
	LanguageEnglish = "en"
	LanguageAuto    = "auto"
)

// Turn is one earlier message of the conversation.
type Turn struct {
	FromContact bool
	Content     string
}

// Request is the input of a Generator.
type Request struct {
	OrganizationID       string
	Message              string
	RequiredIntakeFields []string
	History              []Turn
	Language             string
	Topics               []string
}

// Generator writes a free-form reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyReply is returned by generators that produced no text.
var ErrEmptyReply = errors.New("generator returned an empty reply")

// Reply is the responder's output.
type Reply struct {
	Text     string
	Language string
	Degraded bool
}

// Responder asks a generator and degrades to a static reply on failure.
type Responder struct {
	generator Generator
	logger    *slog.Logger
}

// NewResponder creates a responder; a nil generator always degrades.
func NewResponder(log *slog.Logger, generator Generator) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		generator: generator,
		logger:    log.With(slog.String("service", "fallback")),
	}
}

// Respond always returns a non-empty reply.
func (r *Responder) Respond(ctx context.Context, req Request) Reply {
	req.Language = DetectLanguage(req.Language, req.Message)
	if r.generator != nil {
		text, err := r.generator.Generate(ctx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyReply
		}
		if err == nil {
			return Reply{Text: strings.TrimSpace(text), Language: req.Language}
		}
		r.logger.Warn("fallback generation failed, using static reply",
			slog.String("organization_id", req.OrganizationID),
			slog.String("language", req.Language),
			slog.Any("error", err))
	}
	return Reply{Text: StaticReply(req.Language, req.Topics), Language: req.Language, Degraded: true}
}

// StaticReply is the apology sent when generation is unavailable; it points at topics when any are configured.
func StaticReply(language string, topics []string) string {
	list := joinTopics(topics)
	if language == LanguageTurkish {
		if list == "" {
			return "Üzgünüz, şu anda yanıt veremiyoruz. Ekibimiz en kısa sürede size dönüş yapacak."
		}
		return fmt.Sprintf("Üzgünüz, bu konuda şu anda yardımcı olamıyoruz. Size %s konularında yardımcı olabiliriz; ekibimiz en kısa sürede dönüş yapacak.", list)
	}
	if list == "" {
		return "Sorry, we can't answer right now. Our team will get back to you shortly."
	}
	return fmt.Sprintf("Sorry, we can't help with that right now. We can help you with %s; our team will get back to you shortly.", list)
}

func joinTopics(topics []string) string {
	clean := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ", ")
}

var turkishHints = map[string]struct{}{
	"merhaba": {}, "selam": {}, "nasil": {}, "nedir": {}, "istiyorum": {}, "fiyat": {},
	"tesekkur": {}, "tesekkurler": {}, "lutfen": {}, "bilgi": {}, "evet": {}, "hayir": {},
	"var": {}, "yok": {}, "mi": {}, "mu": {}, "ne": {}, "kac": {}, "siparis": {}, "randevu": {},
}

// DetectLanguage returns setting when it names a language, else guesses from text.
func DetectLanguage(setting, text string) string {
	switch s := strings.ToLower(strings.TrimSpace(setting)); s {
	case LanguageTurkish, LanguageEnglish:
		return s
	}
	if strings.ContainsAny(text, "çğıöşüÇĞİÖŞÜ") {
		return LanguageTurkish
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '?' || r == '!' || r == '\n'
	}) {
		if _, ok := turkishHints[w]; ok {
			return LanguageTurkish
		}
	}
	return LanguageEnglish
}
