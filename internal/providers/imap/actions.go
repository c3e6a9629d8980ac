package imap

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
)

// Well-known mailbox names used for engine actions.
const (
	archiveMailbox = "Archive"
	junkMailbox    = "Junk"
	draftsMailbox  = "Drafts"
)

// LabelMessage copies the message into the mailbox acting as the label.
// Mailbox names are their own IDs here, so a stale "ID" simply means the
// folder was deleted: we recreate it by name and report the fallback.
func (c *Client) LabelMessage(ctx context.Context, messageID, labelID, labelName string) (providers.LabelResult, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return providers.LabelResult{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	uid, err := parseUID(messageID)
	if err != nil {
		return providers.LabelResult{}, err
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return providers.LabelResult{}, providers.NewError(providers.KindTransient, "imap.select", err)
	}

	mailbox := labelID
	usedFallback := false
	if mailbox == "" {
		mailbox = labelName
		usedFallback = true
	}

	uidSet := imap.UIDSetNum(uid)
	if _, err := client.Copy(uidSet, mailbox).Wait(); err != nil {
		if labelName == "" || mailbox == labelName {
			// Folder missing: create it and retry once.
			if mkErr := c.ensureMailbox(client, mailbox); mkErr != nil {
				return providers.LabelResult{}, mkErr
			}
			if _, retryErr := client.Copy(uidSet, mailbox).Wait(); retryErr != nil {
				return providers.LabelResult{}, providers.NewError(providers.KindTransient, "imap.copy", retryErr)
			}
			return providers.LabelResult{LabelID: mailbox, UsedFallback: usedFallback}, nil
		}

		// Stale folder reference: fall back to the label name.
		mailbox = labelName
		if mkErr := c.ensureMailbox(client, mailbox); mkErr != nil {
			return providers.LabelResult{}, mkErr
		}
		if _, retryErr := client.Copy(uidSet, mailbox).Wait(); retryErr != nil {
			return providers.LabelResult{}, providers.NewError(providers.KindTransient, "imap.copy", retryErr)
		}
		return providers.LabelResult{LabelID: mailbox, UsedFallback: true}, nil
	}

	return providers.LabelResult{LabelID: mailbox, UsedFallback: usedFallback}, nil
}

// ArchiveThread moves the message out of INBOX into the archive mailbox.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	return c.moveMessage(ctx, threadID, archiveMailbox)
}

// MarkSpam moves the message into the junk mailbox.
func (c *Client) MarkSpam(ctx context.Context, messageID string) error {
	return c.moveMessage(ctx, messageID, junkMailbox)
}

func (c *Client) moveMessage(ctx context.Context, id, mailbox string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return providers.NewError(providers.KindTransient, "imap.select", err)
	}

	uidSet := imap.UIDSetNum(uid)
	if _, err := client.Move(uidSet, mailbox).Wait(); err != nil {
		if mkErr := c.ensureMailbox(client, mailbox); mkErr != nil {
			return mkErr
		}
		if _, retryErr := client.Move(uidSet, mailbox).Wait(); retryErr != nil {
			return providers.NewError(providers.KindTransient, "imap.move", retryErr)
		}
	}
	return nil
}

// SendMessage sends the envelope over SMTP and returns a synthetic message
// ID (SMTP itself returns none).
func (c *Client) SendMessage(ctx context.Context, env model.Envelope) (string, error) {
	recipients := collectRecipients(env)
	if len(recipients) == 0 {
		return "", providers.NewError(providers.KindPermanent, "smtp.send",
			fmt.Errorf("envelope has no recipients"))
	}

	addr := c.cfg.SMTPHost + ":" + c.cfg.SMTPPort
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	raw := buildOutgoing(c.cfg.Username, env)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, c.cfg.Username, recipients, raw)
	}()

	select {
	case <-ctx.Done():
		return "", providers.NewError(providers.KindTransient, "smtp.send", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", classifySMTP(err)
		}
	}
	return fmt.Sprintf("smtp-%s", env.Subject), nil
}

// CreateDraft appends the message to the drafts mailbox with the \Draft flag.
func (c *Client) CreateDraft(ctx context.Context, env model.Envelope, inReplyTo string) (string, error) {
	if inReplyTo != "" && env.InReplyTo == "" {
		env.InReplyTo = inReplyTo
	}

	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	if mkErr := c.ensureMailbox(client, draftsMailbox); mkErr != nil {
		return "", mkErr
	}

	raw := buildOutgoing(c.cfg.Username, env)
	appendCmd := client.Append(draftsMailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return "", providers.NewError(providers.KindTransient, "imap.append", err)
	}
	if err := appendCmd.Close(); err != nil {
		return "", providers.NewError(providers.KindTransient, "imap.append", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return "", providers.NewError(providers.KindTransient, "imap.append", err)
	}
	return fmt.Sprintf("draft-%s", env.Subject), nil
}

// ensureMailbox creates a mailbox, tolerating "already exists" responses.
func (c *Client) ensureMailbox(client *imapclient.Client, name string) error {
	if name == "" {
		return providers.NewError(providers.KindPermanent, "imap.create",
			fmt.Errorf("mailbox name is empty"))
	}
	if err := client.Create(name, nil).Wait(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "exists") {
			return nil
		}
		return providers.NewError(providers.KindTransient, "imap.create", err)
	}
	return nil
}

func collectRecipients(env model.Envelope) []string {
	var recipients []string
	for _, field := range []string{env.To, env.CC, env.BCC} {
		for _, addr := range strings.Split(field, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				recipients = append(recipients, addr)
			}
		}
	}
	return recipients
}

// buildOutgoing renders an envelope as a raw RFC 2822 message.
func buildOutgoing(from string, env model.Envelope) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", env.To)
	if env.CC != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", env.CC)
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

// classifySMTP maps SMTP failures into the provider taxonomy using the
// reply code when one is present.
func classifySMTP(err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "5"):
		return providers.NewError(providers.KindPermanent, "smtp.send", err)
	case strings.HasPrefix(msg, "4"):
		return providers.NewError(providers.KindTransient, "smtp.send", err)
	default:
		return providers.NewError(providers.KindTransient, "smtp.send", err)
	}
}
