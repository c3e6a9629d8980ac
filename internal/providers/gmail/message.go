package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/Veraticus/mailflow/internal/model"
)

// normalizeMessage converts a Gmail API message into the provider-neutral
// representation the engine works with.
func normalizeMessage(msg *gmail.Message) *model.Message {
	m := &model.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
		Date:     time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload == nil {
		return m
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			m.From = h.Value
		case "reply-to":
			m.ReplyTo = h.Value
		case "to":
			m.To = h.Value
		case "cc":
			m.CC = h.Value
		case "subject":
			m.Subject = h.Value
		case "message-id":
			m.HeaderMessageID = h.Value
		}
	}
	m.TextBody = extractTextBody(msg.Payload)
	return m
}

// extractTextBody searches the whole MIME tree for a text/plain part
// before falling back to any body it can find, so a multipart/alternative
// message never yields its text/html sibling over the plain part.
func extractTextBody(part *gmail.MessagePart) string {
	if body := findPlainPart(part); body != "" {
		return body
	}
	return firstPartBody(part)
}

func findPlainPart(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, "text/plain") {
		if body := decodePartBody(part); body != "" {
			return body
		}
	}
	for _, p := range part.Parts {
		if body := findPlainPart(p); body != "" {
			return body
		}
	}
	return ""
}

func firstPartBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if body := decodePartBody(part); body != "" {
		return body
	}
	for _, p := range part.Parts {
		if body := firstPartBody(p); body != "" {
			return body
		}
	}
	return ""
}

func decodePartBody(part *gmail.MessagePart) string {
	if part.Body == nil || part.Body.Data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// buildRFC822 renders an envelope as the raw message Gmail's send and
// draft endpoints expect.
func buildRFC822(env model.Envelope) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", env.To)
	if env.CC != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", env.CC)
	}
	if env.BCC != "" {
		fmt.Fprintf(&b, "Bcc: %s\r\n", env.BCC)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", env.Subject)
	if env.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", env.InReplyTo)
	}
	if env.References != "" {
		fmt.Fprintf(&b, "References: %s\r\n", env.References)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(env.TextBody)
	return []byte(b.String())
}
