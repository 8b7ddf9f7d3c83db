package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Deliver(event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestDispatchStampsAndFansOut(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	first := &recordingSink{}
	second := &recordingSink{}
	d := NewDispatcher(WithDispatcherClock(func() time.Time { return now }))
	d.Register(first)
	d.Register(second)

	d.Dispatch(Event{Type: MessageReceived, MailboxID: 1, ConversationID: 2, ThreadID: 3})

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	got := first.events[0]
	require.NotEmpty(t, got.ID)
	require.Equal(t, now, got.OccurredAt)
	require.Equal(t, MessageReceived, got.Type)
	require.Equal(t, got.ID, second.events[0].ID)
}

func TestDispatchIsolatesFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("endpoint down")}
	healthy := &recordingSink{}
	d := NewDispatcher()
	d.Register(failing)
	d.Register(healthy)

	d.Dispatch(Event{Type: ConversationCreated})
	require.Len(t, healthy.events, 1)
}

func TestRegisterIgnoresNil(t *testing.T) {
	d := NewDispatcher()
	d.Register(nil)
	d.Dispatch(Event{Type: MessageReceived})
}

func TestWebhookSinkSignsPayload(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotEventType string
		gotDelivery  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Maildesk-Signature")
		gotEventType = r.Header.Get("X-Maildesk-Event")
		gotDelivery = r.Header.Get("X-Maildesk-Delivery")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "topsecret")
	event := Event{ID: "ev-1", Type: CustomerReplied, MailboxID: 4, ConversationID: 5, ThreadID: 6}
	require.NoError(t, sink.Deliver(event))

	require.Equal(t, string(CustomerReplied), gotEventType)
	require.Equal(t, "ev-1", gotDelivery)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	require.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSignature)

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, event.ConversationID, decoded.ConversationID)
}

func TestWebhookSinkNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "")
	require.Error(t, sink.Deliver(Event{Type: MessageReceived}))
}

func TestWebhookSinkUnsignedWhenNoSecret(t *testing.T) {
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Maildesk-Signature")
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "")
	require.NoError(t, sink.Deliver(Event{Type: MessageReceived}))
	require.Empty(t, signature)
}
