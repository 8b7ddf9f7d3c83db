package connector

import (
	"bytes"
	"errors"
	"testing"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

type fakePOP3Conn struct {
	authErr   error
	metas     []pop3.MessageID
	raw       map[int][]byte
	quitCalls int
}

func (c *fakePOP3Conn) Auth(user, password string) error { return c.authErr }

func (c *fakePOP3Conn) Quit() error {
	c.quitCalls++
	return nil
}

func (c *fakePOP3Conn) Uidl(msgID int) ([]pop3.MessageID, error) {
	return c.metas, nil
}

func (c *fakePOP3Conn) RetrRaw(msgID int) (*bytes.Buffer, error) {
	data, ok := c.raw[msgID]
	if !ok {
		return nil, errors.New("no such message")
	}
	return bytes.NewBuffer(data), nil
}

type memorySeenStore struct {
	fetched map[string]bool
}

func (s *memorySeenStore) HasFetchedUID(mailboxID int, uid string) (bool, error) {
	return s.fetched[uid], nil
}

func (s *memorySeenStore) RecordFetchedUID(mailboxID int, uid string) error {
	if s.fetched == nil {
		s.fetched = map[string]bool{}
	}
	s.fetched[uid] = true
	return nil
}

func pop3TestMailbox() *models.Mailbox {
	server := "mail.example.com"
	user := "agent"
	pass := "secret"
	return &models.Mailbox{
		ID:         1,
		Email:      "support@example.com",
		InProtocol: models.ProtoPOP3S,
		InServer:   &server,
		InUsername: &user,
		InPassword: &pass,
	}
}

func newFakePOP3Client(conn *fakePOP3Conn, seen SeenStore) *POP3Client {
	return NewPOP3Client(pop3TestMailbox(), seen, withPOP3ConnFactory(
		func(*models.Mailbox) (pop3Conn, error) { return conn, nil },
	))
}

func TestPOP3ClientSearchSkipsLedgeredUIDs(t *testing.T) {
	conn := &fakePOP3Conn{
		metas: []pop3.MessageID{
			{ID: 1, UID: "uid-1"},
			{ID: 2, UID: "uid-2"},
		},
	}
	seen := &memorySeenStore{fetched: map[string]bool{"uid-1": true}}
	client := newFakePOP3Client(conn, seen)
	require.NoError(t, client.Connect())

	uids, err := client.Search(SearchCriteria{Unseen: true})
	require.NoError(t, err)
	require.Equal(t, []string{"uid-2"}, uids)
}

func TestPOP3ClientFetchAndMarkSeen(t *testing.T) {
	conn := &fakePOP3Conn{
		metas: []pop3.MessageID{{ID: 1, UID: "uid-1"}},
		raw:   map[int][]byte{1: []byte(simpleRaw)},
	}
	seen := &memorySeenStore{}
	client := newFakePOP3Client(conn, seen)
	require.NoError(t, client.Connect())

	uids, err := client.Search(SearchCriteria{Unseen: true})
	require.NoError(t, err)
	require.Equal(t, []string{"uid-1"}, uids)

	messages, err := client.Fetch(uids)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "uid-1", messages[0].UID)
	require.Equal(t, "abc123@mail.example.com", messages[0].MessageID)

	require.NoError(t, client.MarkSeen("uid-1"))
	require.True(t, seen.fetched["uid-1"])

	// A second search after the ledger write yields nothing.
	uids, err = client.Search(SearchCriteria{Unseen: true})
	require.NoError(t, err)
	require.Empty(t, uids)
}

func TestPOP3ClientFallsBackToSequenceID(t *testing.T) {
	conn := &fakePOP3Conn{metas: []pop3.MessageID{{ID: 7}}}
	client := newFakePOP3Client(conn, &memorySeenStore{})
	require.NoError(t, client.Connect())

	uids, err := client.Search(SearchCriteria{Unseen: true})
	require.NoError(t, err)
	require.Equal(t, []string{"7"}, uids)
}

func TestPOP3ClientAuthFailureQuits(t *testing.T) {
	conn := &fakePOP3Conn{authErr: errors.New("bad credentials")}
	client := newFakePOP3Client(conn, &memorySeenStore{})
	require.Error(t, client.Connect())
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3ClientSelectFolderIsNoOp(t *testing.T) {
	client := newFakePOP3Client(&fakePOP3Conn{}, &memorySeenStore{})
	require.NoError(t, client.Connect())
	require.NoError(t, client.SelectFolder("INBOX"))
	require.NoError(t, client.SelectFolder("Spam"))
}

func TestPOP3ClientCloseQuits(t *testing.T) {
	conn := &fakePOP3Conn{}
	client := newFakePOP3Client(conn, &memorySeenStore{})
	require.NoError(t, client.Connect())
	require.NoError(t, client.Close())
	require.Equal(t, 1, conn.quitCalls)
	require.NoError(t, client.Close())
	require.Equal(t, 1, conn.quitCalls)
}

func TestPOP3ClientValidation(t *testing.T) {
	mailbox := pop3TestMailbox()
	mailbox.InProtocol = models.ProtoIMAP
	client := NewPOP3Client(mailbox, &memorySeenStore{}, withPOP3ConnFactory(
		func(*models.Mailbox) (pop3Conn, error) { return &fakePOP3Conn{}, nil },
	))
	require.Error(t, client.Connect())
}
