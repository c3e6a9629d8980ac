package imap

import (
	"strings"
	"testing"

	"github.com/Veraticus/mailflow/internal/model"
)

func TestCollectRecipients(t *testing.T) {
	env := model.Envelope{
		To:  "a@example.com, b@example.com",
		CC:  " c@example.com ",
		BCC: "",
	}
	got := collectRecipients(env)
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("collectRecipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipient %d = %q, want %q", i, got[i], want[i])
		}
	}

	if r := collectRecipients(model.Envelope{}); len(r) != 0 {
		t.Errorf("Empty envelope should have no recipients, got %v", r)
	}
}

func TestBuildOutgoing(t *testing.T) {
	raw := string(buildOutgoing("me@example.com", model.Envelope{
		To:       "a@example.com",
		Subject:  "Hello",
		TextBody: "body text",
	}))

	if !strings.HasPrefix(raw, "From: me@example.com\r\n") {
		t.Errorf("Missing From header:\n%s", raw)
	}
	if !strings.Contains(raw, "To: a@example.com\r\n") || !strings.Contains(raw, "Subject: Hello\r\n") {
		t.Errorf("Missing headers:\n%s", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nbody text") {
		t.Errorf("Body must follow the blank line:\n%s", raw)
	}
	if strings.Contains(raw, "Cc:") || strings.Contains(raw, "In-Reply-To:") {
		t.Error("Empty optional headers must be omitted")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{IMAPHost: "imap.example.com", Username: "u", Password: "p"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	missing := Config{IMAPHost: "imap.example.com"}
	if err := missing.Validate(); err == nil {
		t.Error("Expected an error for missing credentials")
	}
}
