package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageRef identifies a message within its thread without the full body.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Message is a provider-normalized email message.
type Message struct {
	Date            time.Time
	ID              string
	ThreadID        string
	HeaderMessageID string
	From            string
	ReplyTo         string
	To              string
	CC              string
	BCC             string
	Subject         string
	Snippet         string
	TextBody        string
	LabelIDs        []string
}

// Thread is an ordered set of messages sharing a conversation.
type Thread struct {
	ID       string
	Messages []Message
}

// Envelope carries everything a provider needs to send or draft a message.
type Envelope struct {
	To         string
	CC         string
	BCC        string
	Subject    string
	TextBody   string
	InReplyTo  string
	References string
	ThreadID   string
}

// maxBodyChars bounds the message body included in model prompts.
const maxBodyChars = 2000

// Summary renders the message as the compact textual representation handed
// to the language model.
func (m *Message) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", m.From)
	if m.ReplyTo != "" && m.ReplyTo != m.From {
		fmt.Fprintf(&b, "Reply-To: %s\n", m.ReplyTo)
	}
	if m.CC != "" {
		fmt.Fprintf(&b, "Cc: %s\n", m.CC)
	}
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)

	body := m.TextBody
	if body == "" {
		body = m.Snippet
	}
	if len(body) > maxBodyChars {
		// Back up to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := maxBodyChars
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	fmt.Fprintf(&b, "Body:\n%s", body)
	return b.String()
}

// SenderAddress extracts the bare address from a From header like
// `"Jane Doe" <jane@example.com>`.
func (m *Message) SenderAddress() string {
	from := strings.TrimSpace(m.From)
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.LastIndex(from, ">"); end > start {
			return strings.ToLower(from[start+1 : end])
		}
	}
	return strings.ToLower(from)
}
