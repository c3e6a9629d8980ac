// Package imap implements the provider capability set on generic IMAP/SMTP
// backends (Outlook-style accounts). Mailbox folders stand in for labels.
package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
)

// Config holds IMAP and SMTP connection settings for one account.
type Config struct {
	IMAPHost string
	IMAPPort string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	TLS      bool
}

// Validate checks that the connection settings are complete.
func (c *Config) Validate() error {
	if c.IMAPHost == "" || c.Username == "" || c.Password == "" {
		return errors.New("imap requires host, username and password")
	}
	return nil
}

// Client implements providers.Provider over IMAP for reading and moving
// messages and SMTP for sending. Connections are short-lived: each
// operation dials, authenticates and logs out.
type Client struct {
	cfg Config
}

// NewClient creates an IMAP/SMTP provider client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IMAPPort == "" {
		cfg.IMAPPort = "993"
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	return &Client{cfg: cfg}, nil
}

// connect dials the IMAP server and authenticates. The caller must Logout
// on the returned client.
func (c *Client) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.cfg.IMAPHost + ":" + c.cfg.IMAPPort

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, providers.NewError(providers.KindTransient, "imap.dial",
			fmt.Errorf("connecting to %s: %w", addr, err))
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, providers.NewError(providers.KindPermissionDenied, "imap.login", err)
	}
	return client, nil
}

// ListMessages searches INBOX for messages matching the query text and
// returns their UIDs as references, newest last per UID order.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64) ([]model.MessageRef, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, providers.NewError(providers.KindTransient, "imap.select", err)
	}

	criteria := &imap.SearchCriteria{}
	if query != "" {
		criteria.Text = []string{query}
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, providers.NewError(providers.KindTransient, "imap.search", err)
	}

	uids := searchData.AllUIDs()
	if maxResults > 0 && int64(len(uids)) > maxResults {
		uids = uids[int64(len(uids))-maxResults:]
	}

	refs := make([]model.MessageRef, 0, len(uids))
	for _, uid := range uids {
		id := strconv.FormatUint(uint64(uid), 10)
		// IMAP has no native thread IDs; a message is its own thread.
		refs = append(refs, model.MessageRef{ID: id, ThreadID: id})
	}
	return refs, nil
}

// GetMessage fetches and parses a full message by UID.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	return c.fetchMessage(client, id)
}

// GetThread returns the message as a single-entry thread; generic IMAP has
// no conversation identifiers.
func (c *Client) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	msg, err := c.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Thread{ID: id, Messages: []model.Message{*msg}}, nil
}

func (c *Client) fetchMessage(client *imapclient.Client, id string) (*model.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, providers.NewError(providers.KindTransient, "imap.select", err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	next := fetchCmd.Next()
	if next == nil {
		return nil, providers.NewError(providers.KindNotFound, "imap.fetch",
			fmt.Errorf("message %s not found", id))
	}
	buf, err := next.Collect()
	if err != nil {
		return nil, providers.NewError(providers.KindTransient, "imap.fetch", err)
	}

	msg := messageFromBuffer(id, buf)
	if raw := buf.FindBodySection(bodySection); raw != nil {
		msg.TextBody = extractTextBody(raw)
	}
	return msg, nil
}

// messageFromBuffer maps a fetched buffer into the provider-neutral message.
func messageFromBuffer(id string, buf *imapclient.FetchMessageBuffer) *model.Message {
	msg := &model.Message{ID: id, ThreadID: id}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.HeaderMessageID = env.MessageID
		msg.Date = env.Date
		msg.From = formatAddresses(env.From)
		msg.ReplyTo = formatAddresses(env.ReplyTo)
		msg.To = formatAddresses(env.To)
		msg.CC = formatAddresses(env.Cc)
	}
	return msg
}

func formatAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Addr()))
		} else {
			parts = append(parts, a.Addr())
		}
	}
	return strings.Join(parts, ", ")
}

// extractTextBody parses a raw RFC 2822 message and returns its text/plain
// part, falling back to the raw bytes when MIME parsing fails.
func extractTextBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer func() { _ = mr.Close() }()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if h, ok := part.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if contentType == "text/plain" {
				body, readErr := io.ReadAll(part.Body)
				if readErr != nil {
					continue
				}
				return string(body)
			}
		}
	}
	return ""
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, providers.NewError(providers.KindPermanent, "imap.uid",
			fmt.Errorf("invalid message id %q: %w", id, err))
	}
	return imap.UID(n), nil
}
