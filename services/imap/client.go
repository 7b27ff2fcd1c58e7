package imap

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/utils"
)

const (
	connectTimeout = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
)

var headerFields = []string{
	"MESSAGE-ID", "DATE", "FROM", "TO", "CC", "SUBJECT",
	"IN-REPLY-TO", "REFERENCES",
}

// Client wraps one IMAP-over-TLS connection for a configured account.
// The engines drive exactly one outstanding command at a time.
type Client struct {
	account *config.Account
	log     logger.Logger
	c       *client.Client
}

func NewClient(account *config.Account, log logger.Logger) *Client {
	return &Client{account: account, log: log}
}

var _ interfaces.MailSource = (*Client)(nil)

func (s *Client) Connect() error {
	host, err := s.account.ImapHost()
	if err != nil {
		return err
	}
	serverAddr := fmt.Sprintf("%s:%d", host, s.account.ImapPort())

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: connectTimeout,
	}
	tlsConfig := &tls.Config{ServerName: host}

	c, err := client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	if err != nil {
		return mailhoard_errors.NewImapTransient("dial", fmt.Errorf("failed to connect to %s: %w", serverAddr, err))
	}

	c.Timeout = commandTimeout
	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		return mailhoard_errors.WrapImap("capability", err)
	}
	s.log.Debugf("[%s] server capabilities: %v", s.account.Name, caps)

	if err := c.Login(s.account.User, s.account.Password); err != nil {
		c.Logout()
		// Bad credentials are not worth retrying.
		return mailhoard_errors.NewImapFatal("login", fmt.Errorf("failed to login as %s: %w", s.account.User, err))
	}
	c.Timeout = 0

	s.log.Infof("[%s] connected to %s", s.account.Name, serverAddr)
	s.c = c
	return nil
}

func (s *Client) ListFolders() ([]interfaces.FolderInfo, error) {
	mailboxes := make(chan *goimap.MailboxInfo, 16)
	done := make(chan error, 1)

	s.c.Timeout = commandTimeout
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []interfaces.FolderInfo
	for m := range mailboxes {
		folders = append(folders, interfaces.FolderInfo{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}
	s.c.Timeout = 0

	if err := <-done; err != nil {
		return nil, mailhoard_errors.WrapImap("list", err)
	}
	return folders, nil
}

func (s *Client) Select(folder string, readonly bool) (uint32, uint32, error) {
	s.c.Timeout = commandTimeout
	mbox, err := s.c.Select(folder, readonly)
	s.c.Timeout = 0
	if err != nil {
		return 0, 0, mailhoard_errors.WrapImap("select", fmt.Errorf("error selecting folder %s: %w", folder, err))
	}
	return mbox.Messages, mbox.UidValidity, nil
}

// UIDSearchAll returns every UID in the selected folder.
func (s *Client) UIDSearchAll() ([]uint32, error) {
	return s.uidSearch(goimap.NewSearchCriteria())
}

// UIDSearchFilter searches with the account filter criteria.
func (s *Client) UIDSearchFilter(filter *config.Filter) ([]uint32, error) {
	return s.uidSearch(BuildCriteria(filter))
}

func (s *Client) uidSearch(criteria *goimap.SearchCriteria) ([]uint32, error) {
	s.c.Timeout = fetchTimeout
	uids, err := s.c.UidSearch(criteria)
	s.c.Timeout = 0
	if err != nil {
		return nil, mailhoard_errors.WrapImap("uid search", err)
	}
	return uids, nil
}

// FetchHeaders fetches and parses the header fields of one message via
// BODY.PEEK so flags stay untouched.
func (s *Client) FetchHeaders(uid uint32) (*interfaces.MessageHeaders, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	section := &goimap.BodySectionName{
		BodyPartName: goimap.BodyPartName{
			Specifier: goimap.HeaderSpecifier,
			Fields:    headerFields,
		},
		Peek: true,
	}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	msg, err := s.fetchOne(seqSet, items)
	if err != nil {
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, mailhoard_errors.NewImapTransient("fetch headers",
			fmt.Errorf("uid %d: server returned no header section", uid))
	}

	headers, err := parseHeaders(body)
	if err != nil {
		return nil, mailhoard_errors.NewImapFatal("parse headers", err)
	}
	headers.UID = uid
	return headers, nil
}

// FetchRaw fetches the full RFC 5322 bytes of one message.
func (s *Client) FetchRaw(uid uint32) ([]byte, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	msg, err := s.fetchOne(seqSet, items)
	if err != nil {
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, mailhoard_errors.NewImapTransient("fetch raw",
			fmt.Errorf("uid %d: server returned no body", uid))
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, mailhoard_errors.WrapImap("fetch raw", err)
	}
	if len(raw) == 0 {
		// An empty literal is a server hiccup, not an empty message.
		return nil, mailhoard_errors.NewImapTransient("fetch raw",
			fmt.Errorf("uid %d: empty body", uid))
	}
	return raw, nil
}

func (s *Client) fetchOne(seqSet *goimap.SeqSet, items []goimap.FetchItem) (*goimap.Message, error) {
	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)

	s.c.Timeout = fetchTimeout
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var msg *goimap.Message
	for m := range messages {
		msg = m
	}
	s.c.Timeout = 0

	if err := <-done; err != nil {
		return nil, mailhoard_errors.WrapImap("uid fetch", err)
	}
	if msg == nil {
		return nil, mailhoard_errors.NewImapTransient("uid fetch",
			fmt.Errorf("server returned no message"))
	}
	return msg, nil
}

// Append uploads raw bytes to folder, preserving the original date as
// the internal date when known.
func (s *Client) Append(folder string, raw []byte, internalDate *time.Time) error {
	date := utils.Now()
	if internalDate != nil {
		date = *internalDate
	}

	s.c.Timeout = fetchTimeout
	err := s.c.Append(folder, nil, date, bytes.NewBuffer(raw))
	s.c.Timeout = 0
	if err != nil {
		return mailhoard_errors.WrapImap("append", err)
	}
	return nil
}

func (s *Client) Logout() error {
	if s.c == nil {
		return nil
	}
	s.c.Timeout = 5 * time.Second
	err := s.c.Logout()
	s.c = nil
	if err != nil {
		s.log.Warnf("[%s] error during logout: %v", s.account.Name, err)
	}
	return nil
}

func parseHeaders(r io.Reader) (*interfaces.MessageHeaders, error) {
	// HEADER.FIELDS literals may or may not end with the blank line;
	// pad so ReadMIMEHeader always terminates cleanly.
	tp := textproto.NewReader(bufio.NewReader(io.MultiReader(r, strings.NewReader("\r\n"))))
	h, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header fields: %w", err)
	}

	dec := new(mime.WordDecoder)
	decode := func(s string) string {
		if out, err := dec.DecodeHeader(s); err == nil {
			return out
		}
		return s
	}

	headers := &interfaces.MessageHeaders{
		MessageID: utils.NormalizeMessageID(h.Get("Message-Id")),
		From:      decode(h.Get("From")),
		To:        decode(h.Get("To")),
		Cc:        decode(h.Get("Cc")),
		Subject:   decode(h.Get("Subject")),
		InReplyTo: utils.NormalizeMessageID(h.Get("In-Reply-To")),
	}
	if refs := strings.Fields(h.Get("References")); len(refs) > 0 {
		headers.References = refs
	}
	if raw := h.Get("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			utc := t.UTC()
			headers.Date = &utc
		}
	}
	return headers, nil
}
