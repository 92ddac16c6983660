package fallback

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubGenerator struct {
	text string
	err  error
	got  Request
}

func (s *stubGenerator) Generate(_ context.Context, req Request) (string, error) {
	s.got = req
	return s.text, s.err
}

func TestRespondUsesGenerator(t *testing.T) {
	gen := &stubGenerator{text: "  Merhaba! Size nasıl yardımcı olabilirim?  "}
	reply := NewResponder(nil, gen).Respond(context.Background(), Request{Message: "Merhaba", Language: "auto"})
	if reply.Degraded {
		t.Fatal("expected generated reply")
	}
	if reply.Text != "Merhaba! Size nasıl yardımcı olabilirim?" {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if gen.got.Language != LanguageTurkish {
		t.Fatalf("generator should see the detected language, got %q", gen.got.Language)
	}
}

func TestRespondDegrades(t *testing.T) {
	tests := []struct {
		name     string
		gen      Generator
		req      Request
		wantLang string
		contains string
	}{
		{"error turkish", &stubGenerator{err: errors.New("529 overloaded")}, Request{Message: "Merhaba"}, LanguageTurkish, "Üzgünüz"},
		{"empty english", &stubGenerator{text: "   "}, Request{Message: "Hello there"}, LanguageEnglish, "Sorry"},
		{"no generator", nil, Request{Message: "hi", Language: "tr"}, LanguageTurkish, "Üzgünüz"},
		{"topic redirect", &stubGenerator{err: context.DeadlineExceeded}, Request{Message: "Where is my parcel?", Topics: []string{"pricing", " ", "appointments"}}, LanguageEnglish, "pricing, appointments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := NewResponder(nil, tt.gen).Respond(context.Background(), tt.req)
			if !reply.Degraded {
				t.Fatal("expected degraded reply")
			}
			if reply.Language != tt.wantLang {
				t.Fatalf("language = %q, want %q", reply.Language, tt.wantLang)
			}
			if !strings.Contains(reply.Text, tt.contains) {
				t.Fatalf("reply %q does not contain %q", reply.Text, tt.contains)
			}
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		setting, text, want string
	}{
		{"en", "Merhaba", LanguageEnglish},
		{" TR ", "Hello", LanguageTurkish},
		{"auto", "Şube saatleri", LanguageTurkish},
		{"", "merhaba, fiyat nedir?", LanguageTurkish},
		{"auto", "What are your opening hours?", LanguageEnglish},
		{"auto", "", LanguageEnglish},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.setting, tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q, %q) = %q, want %q", tt.setting, tt.text, got, tt.want)
		}
	}
}
