package connector

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

type imapSession interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPClient is one IMAP/IMAPS session for a mailbox.
type IMAPClient struct {
	mailbox     *models.Mailbox
	dialTimeout time.Duration
	logger      *log.Logger
	newSession  func(*models.Mailbox) (imapSession, error)
	session     imapSession
}

// IMAPOption customizes client behavior.
type IMAPOption func(*IMAPClient)

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(c *IMAPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(c *IMAPClient) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func withIMAPSessionFactory(factory func(*models.Mailbox) (imapSession, error)) IMAPOption {
	return func(c *IMAPClient) {
		c.newSession = factory
	}
}

// NewIMAPClient returns an unconnected IMAP client for the mailbox.
func NewIMAPClient(mailbox *models.Mailbox, opts ...IMAPOption) *IMAPClient {
	c := &IMAPClient{
		mailbox:     mailbox,
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
	}
	c.newSession = c.defaultSessionFactory
	for _, opt := range opts {
		opt(c)
	}
	if c.newSession == nil {
		c.newSession = c.defaultSessionFactory
	}
	return c
}

// Connect dials and authenticates the session.
func (c *IMAPClient) Connect() error {
	if err := validateIMAPMailbox(c.mailbox); err != nil {
		return err
	}
	session, err := c.newSession(c.mailbox)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	username := ""
	if c.mailbox.InUsername != nil {
		username = *c.mailbox.InUsername
	}
	password := ""
	if c.mailbox.InPassword != nil {
		password = *c.mailbox.InPassword
	}
	if err := session.Login(username, password).Wait(); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Printf("imap close error: %v", closeErr)
		}
		return fmt.Errorf("imap auth: %w", err)
	}
	c.session = session
	return nil
}

// SelectFolder selects the folder for subsequent queries.
func (c *IMAPClient) SelectFolder(name string) error {
	if c.session == nil {
		return errors.New("imap session not connected")
	}
	if _, err := c.session.Select(name, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", name, err)
	}
	return nil
}

// Search queries the selected folder without mutating message flags. When
// DisableCharset is set, the date criterion is dropped from the server query
// and must be applied client side.
func (c *IMAPClient) Search(criteria SearchCriteria) ([]string, error) {
	if c.session == nil {
		return nil, errors.New("imap session not connected")
	}
	imapCriteria := &imap.SearchCriteria{}
	if criteria.Unseen {
		imapCriteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if !criteria.Since.IsZero() && !criteria.DisableCharset {
		imapCriteria.Since = criteria.Since
	}
	data, err := c.session.UIDSearch(imapCriteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		out = append(out, strconv.FormatUint(uint64(uid), 10))
	}
	return out, nil
}

// Fetch retrieves and parses the messages, peeking so the unread state is
// preserved on the server.
func (c *IMAPClient) Fetch(uids []string) ([]*Message, error) {
	if c.session == nil {
		return nil, errors.New("imap session not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}
	uidSet, err := parseUIDSet(uids)
	if err != nil {
		return nil, err
	}
	peek := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{peek},
	}
	buffers, err := c.session.Fetch(uidSet, fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	var messages []*Message
	for _, buf := range buffers {
		body := buf.FindBodySection(peek)
		if body == nil {
			continue
		}
		uidStr := strconv.FormatUint(uint64(buf.UID), 10)
		msg, err := ParseMessage(uidStr, body, c.logger)
		if err != nil {
			c.logger.Printf("imap parse failed for uid %s: %v", uidStr, err)
			continue
		}
		if msg.Date.IsZero() {
			msg.Date = buf.InternalDate
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkSeen flags the message as seen server-side, the only mutation the
// connector performs.
func (c *IMAPClient) MarkSeen(uid string) error {
	if c.session == nil {
		return errors.New("imap session not connected")
	}
	uidSet, err := parseUIDSet([]string{uid})
	if err != nil {
		return err
	}
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}}
	if err := c.session.Store(uidSet, store, nil).Close(); err != nil {
		return fmt.Errorf("imap mark seen %s: %w", uid, err)
	}
	return nil
}

// Close logs out and releases the session. Safe to call when never connected.
func (c *IMAPClient) Close() error {
	if c.session == nil {
		return nil
	}
	session := c.session
	c.session = nil
	if err := session.Logout().Wait(); err != nil {
		c.logger.Printf("imap logout error: %v", err)
	}
	return session.Close()
}

func parseUIDSet(uids []string) (imap.UIDSet, error) {
	parsed := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		n, err := strconv.ParseUint(uid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid imap uid %q: %w", uid, err)
		}
		parsed = append(parsed, imap.UID(n))
	}
	return imap.UIDSetNum(parsed...), nil
}

func (c *IMAPClient) defaultSessionFactory(mailbox *models.Mailbox) (imapSession, error) {
	host := ""
	if mailbox.InServer != nil {
		host = *mailbox.InServer
	}
	port := 0
	if mailbox.InPort != nil {
		port = *mailbox.InPort
	}
	if port == 0 {
		if useIMAPTLS(mailbox.InProtocol) {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: c.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", host, port)
	var client *imapclient.Client
	var err error
	if useIMAPTLS(mailbox.InProtocol) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapSessionWrapper{Client: client}, nil
}

type imapSessionWrapper struct{ *imapclient.Client }

func (w *imapSessionWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapSessionWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapSessionWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapSessionWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapSessionWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapSessionWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func validateIMAPMailbox(mailbox *models.Mailbox) error {
	if mailbox == nil {
		return errors.New("imap mailbox required")
	}
	if !mailbox.HasInServer() {
		return errors.New("imap mailbox missing inbound server")
	}
	if mailbox.InUsername == nil || *mailbox.InUsername == "" {
		return errors.New("imap mailbox missing username")
	}
	if mailbox.InPassword == nil || *mailbox.InPassword == "" {
		return errors.New("imap mailbox missing password")
	}
	if !supportsIMAP(mailbox.InProtocol) {
		return fmt.Errorf("protocol %s not supported by IMAP connector", mailbox.InProtocol)
	}
	return nil
}

func supportsIMAP(proto string) bool {
	switch strings.ToLower(proto) {
	case models.ProtoIMAP, models.ProtoIMAPS:
		return true
	default:
		return false
	}
}

func useIMAPTLS(proto string) bool {
	return strings.EqualFold(proto, models.ProtoIMAPS)
}
