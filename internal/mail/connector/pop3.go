package connector

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// SeenStore tracks consumed POP3 UIDs. The protocol has no server-side seen
// flag, so MarkSeen records into this ledger instead.
type SeenStore interface {
	HasFetchedUID(mailboxID int, uid string) (bool, error)
	RecordFetchedUID(mailboxID int, uid string) error
}

type pop3Conn interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
}

type pop3ConnFactory func(*models.Mailbox) (pop3Conn, error)

// POP3Client is one POP3/POP3S session for a mailbox.
type POP3Client struct {
	mailbox     *models.Mailbox
	seen        SeenStore
	dialTimeout time.Duration
	logger      *log.Logger
	newConn     pop3ConnFactory
	conn        pop3Conn
	uidToID     map[string]int
}

// POP3Option customizes client behavior.
type POP3Option func(*POP3Client)

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3Option {
	return func(c *POP3Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(c *POP3Client) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3Option {
	return func(c *POP3Client) {
		c.newConn = factory
	}
}

// NewPOP3Client returns an unconnected POP3 client for the mailbox.
func NewPOP3Client(mailbox *models.Mailbox, seen SeenStore, opts ...POP3Option) *POP3Client {
	c := &POP3Client{
		mailbox:     mailbox,
		seen:        seen,
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
		uidToID:     make(map[string]int),
	}
	c.newConn = c.defaultConnFactory
	for _, opt := range opts {
		opt(c)
	}
	if c.newConn == nil {
		c.newConn = c.defaultConnFactory
	}
	return c
}

// Connect dials and authenticates the session.
func (c *POP3Client) Connect() error {
	if err := validatePOP3Mailbox(c.mailbox); err != nil {
		return err
	}
	conn, err := c.newConn(c.mailbox)
	if err != nil {
		return fmt.Errorf("pop3 connect: %w", err)
	}
	username := ""
	if c.mailbox.InUsername != nil {
		username = *c.mailbox.InUsername
	}
	password := ""
	if c.mailbox.InPassword != nil {
		password = *c.mailbox.InPassword
	}
	if err := conn.Auth(username, password); err != nil {
		if quitErr := conn.Quit(); quitErr != nil {
			c.logger.Printf("pop3 quit error: %v", quitErr)
		}
		return fmt.Errorf("pop3 auth: %w", err)
	}
	c.conn = conn
	return nil
}

// SelectFolder is a no-op; POP3 exposes a single implicit folder.
func (c *POP3Client) SelectFolder(name string) error {
	if !strings.EqualFold(name, "INBOX") {
		c.logger.Printf("pop3 has no folder %s, using the message list", name)
	}
	return nil
}

// Search lists candidate UIDs not yet present in the fetched-UID ledger. Date
// filtering is applied client side by the caller.
func (c *POP3Client) Search(criteria SearchCriteria) ([]string, error) {
	if c.conn == nil {
		return nil, errors.New("pop3 session not connected")
	}
	metas, err := c.conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	var uids []string
	for _, meta := range metas {
		uid := meta.UID
		if uid == "" {
			uid = fmt.Sprintf("%d", meta.ID)
		}
		if criteria.Unseen && c.seen != nil {
			fetched, err := c.seen.HasFetchedUID(c.mailbox.ID, uid)
			if err != nil {
				return nil, fmt.Errorf("pop3 ledger check: %w", err)
			}
			if fetched {
				continue
			}
		}
		c.uidToID[uid] = meta.ID
		uids = append(uids, uid)
	}
	return uids, nil
}

// Fetch retrieves and parses the messages. Retrieval does not delete.
func (c *POP3Client) Fetch(uids []string) ([]*Message, error) {
	if c.conn == nil {
		return nil, errors.New("pop3 session not connected")
	}
	var messages []*Message
	for _, uid := range uids {
		id, ok := c.uidToID[uid]
		if !ok {
			return nil, fmt.Errorf("pop3 uid %q not listed in this session", uid)
		}
		payload, err := c.conn.RetrRaw(id)
		if err != nil {
			return nil, fmt.Errorf("pop3 retr %s: %w", uid, err)
		}
		msg, err := ParseMessage(uid, payload.Bytes(), c.logger)
		if err != nil {
			c.logger.Printf("pop3 parse failed for uid %s: %v", uid, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkSeen records the UID in the ledger so later runs skip it.
func (c *POP3Client) MarkSeen(uid string) error {
	if c.seen == nil {
		return errors.New("pop3 seen store unavailable")
	}
	return c.seen.RecordFetchedUID(c.mailbox.ID, uid)
}

// Close terminates the session. Safe to call when never connected.
func (c *POP3Client) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Quit(); err != nil {
		return fmt.Errorf("pop3 quit: %w", err)
	}
	return nil
}

func (c *POP3Client) defaultConnFactory(mailbox *models.Mailbox) (pop3Conn, error) {
	host := ""
	if mailbox.InServer != nil {
		host = *mailbox.InServer
	}
	port := 0
	if mailbox.InPort != nil {
		port = *mailbox.InPort
	}
	if port == 0 {
		if usePOP3TLS(mailbox.InProtocol) {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        host,
		Port:        port,
		DialTimeout: c.dialTimeout,
		TLSEnabled:  usePOP3TLS(mailbox.InProtocol),
	})
	return client.NewConn()
}

func validatePOP3Mailbox(mailbox *models.Mailbox) error {
	if mailbox == nil {
		return errors.New("pop3 mailbox required")
	}
	if !mailbox.HasInServer() {
		return errors.New("pop3 mailbox missing inbound server")
	}
	if mailbox.InUsername == nil || *mailbox.InUsername == "" {
		return errors.New("pop3 mailbox missing username")
	}
	if mailbox.InPassword == nil || *mailbox.InPassword == "" {
		return errors.New("pop3 mailbox missing password")
	}
	if !supportsPOP3(mailbox.InProtocol) {
		return fmt.Errorf("protocol %s not supported by POP3 connector", mailbox.InProtocol)
	}
	return nil
}

func supportsPOP3(proto string) bool {
	switch strings.ToLower(proto) {
	case models.ProtoPOP3, models.ProtoPOP3S:
		return true
	default:
		return false
	}
}

func usePOP3TLS(proto string) bool {
	return strings.EqualFold(proto, models.ProtoPOP3S)
}
