// Package threading decides where an inbound message lands: skipped as a
// duplicate, grafted onto an existing conversation, forked for a second
// mailbox, or opened as a new conversation.
package threading

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/maildesk-io/maildesk-ce/internal/mail/address"
	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// Kind enumerates the possible placements of a message.
type Kind int

const (
	// Duplicate means a committed thread already carries this message
	// identifier for a plausible original recipient; abort with no writes.
	Duplicate Kind = iota
	// CrossMailboxFork means the identifier exists on another mailbox's
	// conversation and this mailbox was not in To/Cc (BCC delivery); proceed
	// as a thread start under a derived identifier.
	CrossMailboxFork
	// Reply means In-Reply-To or References matched an existing thread.
	Reply
	// NewConversation means the message starts a conversation; the caller
	// allocates the next number and locates the inbox folder.
	NewConversation
)

// Placement is the engine's decision plus the effective message identifier.
type Placement struct {
	Kind         Kind
	MessageID    string
	Conversation *models.Conversation
}

type threadLookup interface {
	GetByMessageID(messageID string) (*models.Thread, error)
	GetByAnyMessageID(messageIDs []string) (*models.Thread, error)
}

type conversationLookup interface {
	GetByID(id int) (*models.Conversation, error)
}

// Engine resolves placements. Its lookups are a best-effort optimization; the
// thread message_id uniqueness constraint remains the source of truth under
// concurrent runs.
type Engine struct {
	threads       threadLookup
	conversations conversationLookup
	logger        *log.Logger
}

func NewEngine(threads threadLookup, conversations conversationLookup, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{threads: threads, conversations: conversations, logger: logger}
}

// Resolve decides the placement for the message within the mailbox.
func (e *Engine) Resolve(mailbox *models.Mailbox, msg *connector.Message) (Placement, error) {
	messageID := connector.NormalizeMessageID(msg.MessageID)
	if messageID == "" {
		messageID = SynthesizeMessageID(mailbox)
	}

	existing, err := e.threads.GetByMessageID(messageID)
	if err != nil {
		return Placement{}, err
	}
	if existing != nil {
		ownedHere, err := e.conversationBelongsTo(existing.ConversationID, mailbox.ID)
		if err != nil {
			return Placement{}, err
		}
		if ownedHere || e.mailboxIsRecipient(mailbox, msg) {
			return Placement{Kind: Duplicate, MessageID: messageID}, nil
		}
		// Same physical email delivered to a second mailbox, typically via
		// BCC. Forked copies always start their own conversation.
		return Placement{Kind: CrossMailboxFork, MessageID: DeriveForkID(mailbox.ID, messageID)}, nil
	}

	if parent, err := e.resolveParent(msg); err != nil {
		return Placement{}, err
	} else if parent != nil {
		return Placement{Kind: Reply, MessageID: messageID, Conversation: parent}, nil
	}

	return Placement{Kind: NewConversation, MessageID: messageID}, nil
}

// resolveParent prefers In-Reply-To over References; References is consulted
// only when In-Reply-To resolves to nothing.
func (e *Engine) resolveParent(msg *connector.Message) (*models.Conversation, error) {
	parent, err := e.threads.GetByAnyMessageID(msg.InReplyTo)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		parent, err = e.threads.GetByAnyMessageID(msg.References)
		if err != nil {
			return nil, err
		}
	}
	if parent == nil {
		return nil, nil
	}
	conversation, err := e.conversations.GetByID(parent.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve parent conversation %d: %w", parent.ConversationID, err)
	}
	return conversation, nil
}

func (e *Engine) conversationBelongsTo(conversationID, mailboxID int) (bool, error) {
	conversation, err := e.conversations.GetByID(conversationID)
	if err != nil {
		return false, fmt.Errorf("resolve owning conversation %d: %w", conversationID, err)
	}
	return conversation.MailboxID == mailboxID, nil
}

func (e *Engine) mailboxIsRecipient(mailbox *models.Mailbox, msg *connector.Message) bool {
	var values []any
	values = append(values, msg.To...)
	values = append(values, msg.Cc...)
	for _, email := range address.Emails(values...) {
		if mailbox.IsAddressedTo(email) {
			return true
		}
	}
	return false
}

// DeriveForkID derives a stable identifier for a cross-mailbox copy. The
// derivation is deterministic per (mailbox, message-id) pair so the
// uniqueness constraint is satisfied without losing idempotence.
func DeriveForkID(mailboxID int, messageID string) string {
	return fmt.Sprintf("fork-%d.%s", mailboxID, messageID)
}

// SynthesizeMessageID fabricates an identifier for messages that arrive
// without one, incorporating the mailbox's server name.
func SynthesizeMessageID(mailbox *models.Mailbox) string {
	server := "localhost"
	if mailbox.InServer != nil && strings.TrimSpace(*mailbox.InServer) != "" {
		server = strings.TrimSpace(*mailbox.InServer)
	}
	return fmt.Sprintf("generated.%s@%s", uuid.NewString(), server)
}
