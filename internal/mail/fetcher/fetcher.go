// Package fetcher drives a mailbox's fetch cycle: connect, query candidate
// messages, run each through the ingestion pipeline inside its own
// transaction, and aggregate run statistics.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maildesk-io/maildesk-ce/internal/database"
	"github.com/maildesk-io/maildesk-ce/internal/events"
	"github.com/maildesk-io/maildesk-ce/internal/mail/address"
	"github.com/maildesk-io/maildesk-ce/internal/mail/attach"
	"github.com/maildesk-io/maildesk-ce/internal/mail/bodyproc"
	"github.com/maildesk-io/maildesk-ce/internal/mail/connector"
	"github.com/maildesk-io/maildesk-ce/internal/mail/identity"
	"github.com/maildesk-io/maildesk-ce/internal/mail/threading"
	"github.com/maildesk-io/maildesk-ce/internal/models"
	"github.com/maildesk-io/maildesk-ce/internal/repository"
	"github.com/maildesk-io/maildesk-ce/internal/storage"
)

// defaultWindow bounds the query to recently received mail.
const defaultWindow = 3 * 24 * time.Hour

// errDuplicate marks a message that is already committed; skipped silently.
var errDuplicate = errors.New("duplicate message")

// RunStats is the aggregate outcome of one mailbox fetch run.
type RunStats struct {
	Fetched  int      `json:"fetched"`
	Created  int      `json:"created"`
	Errors   int      `json:"errors"`
	Messages []string `json:"messages"`
}

func (s *RunStats) fail(format string, args ...any) {
	s.Errors++
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
}

// Fetcher orchestrates ingestion runs. Processing is sequential: one
// connection, one folder, one message at a time. Overlapping runs against
// the same mailbox are tolerated; the thread message_id constraint is the
// safety net, not single-writer assumptions.
type Fetcher struct {
	db      *sqlx.DB
	factory connector.Factory
	backend storage.Backend
	bus     *events.Dispatcher
	logger  *log.Logger
	now     func() time.Time
	window  time.Duration
}

// Option customizes fetcher behavior.
type Option func(*Fetcher)

// WithLogger overrides the logger used for run diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFactory overrides the connector factory, primarily for tests.
func WithFactory(factory connector.Factory) Option {
	return func(f *Fetcher) {
		if factory != nil {
			f.factory = factory
		}
	}
}

// WithEvents wires the outbound event dispatcher.
func WithEvents(bus *events.Dispatcher) Option {
	return func(f *Fetcher) {
		if bus != nil {
			f.bus = bus
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithWindow overrides how far back the candidate query reaches.
func WithWindow(window time.Duration) Option {
	return func(f *Fetcher) {
		if window > 0 {
			f.window = window
		}
	}
}

// New wires a fetcher around the shared database handle and blob backend.
func New(db *sqlx.DB, backend storage.Backend, opts ...Option) *Fetcher {
	f := &Fetcher{
		db:      db,
		backend: backend,
		logger:  log.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		window:  defaultWindow,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.factory == nil {
		f.factory = connector.DefaultFactory(f.logger)
	}
	if f.bus == nil {
		f.bus = events.NewDispatcher(events.WithDispatcherLogger(f.logger))
	}
	return f
}

// FetchMailbox runs one ingestion cycle for the mailbox. Per-message failures
// are recorded and skipped; only connection-scoped failures abort the run,
// and even those only surface through the returned stats.
func (f *Fetcher) FetchMailbox(ctx context.Context, mailbox *models.Mailbox) *RunStats {
	stats := &RunStats{}
	if mailbox == nil {
		stats.fail("fetch: mailbox required")
		return stats
	}
	if !mailbox.HasInServer() {
		f.logger.Printf("fetch: mailbox %s has no inbound server configured, skipping", mailbox.Email)
		return stats
	}

	seen := repository.NewMailboxRepository(f.db)
	client, err := f.factory.ClientFor(mailbox, seen)
	if err != nil {
		stats.fail("fetch: mailbox %s: %v", mailbox.Email, err)
		return stats
	}
	if err := client.Connect(); err != nil {
		stats.fail("fetch: connect %s: %v", mailbox.Email, err)
		return stats
	}
	defer func() {
		if err := client.Close(); err != nil {
			f.logger.Printf("fetch: disconnect %s: %v", mailbox.Email, err)
		}
	}()

	since := f.now().Add(-f.window)
	for _, folder := range mailbox.FolderList() {
		if ctx.Err() != nil {
			stats.fail("fetch: canceled: %v", ctx.Err())
			return stats
		}
		f.fetchFolder(ctx, client, mailbox, folder, since, stats)
	}
	return stats
}

// FetchAll runs every active mailbox in sequence.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]*RunStats, error) {
	mailboxes, err := repository.NewMailboxRepository(f.db).GetActive()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*RunStats, len(mailboxes))
	for _, mailbox := range mailboxes {
		out[mailbox.Email] = f.FetchMailbox(ctx, mailbox)
	}
	return out, nil
}

func (f *Fetcher) fetchFolder(ctx context.Context, client connector.Client, mailbox *models.Mailbox, folder string, since time.Time, stats *RunStats) {
	if err := client.SelectFolder(folder); err != nil {
		stats.fail("fetch: select %s/%s: %v", mailbox.Email, folder, err)
		return
	}

	criteria := connector.SearchCriteria{Since: since, Unseen: true}
	uids, err := client.Search(criteria)
	if err != nil && connector.IsCharsetError(err) {
		// Known interoperability issue with providers that reject
		// charset-qualified searches; retried once with detection disabled.
		f.logger.Printf("fetch: charset search failed on %s/%s, retrying without charset detection", mailbox.Email, folder)
		criteria.DisableCharset = true
		uids, err = client.Search(criteria)
	}
	if err != nil {
		stats.fail("fetch: search %s/%s: %v", mailbox.Email, folder, err)
		return
	}
	if len(uids) == 0 {
		return
	}

	messages, err := client.Fetch(uids)
	if err != nil {
		stats.fail("fetch: retrieve %s/%s: %v", mailbox.Email, folder, err)
		return
	}
	messages = filterSince(messages, since, f.now())
	// Ascending send-date order keeps threading and first-thread decisions
	// consistent when the store returns messages out of order.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].MessageDate(time.Time{}).Before(messages[j].MessageDate(time.Time{}))
	})
	stats.Fetched += len(messages)

	for _, msg := range messages {
		if ctx.Err() != nil {
			stats.fail("fetch: canceled: %v", ctx.Err())
			return
		}
		pending, err := f.processMessage(ctx, mailbox, msg)
		switch {
		case errors.Is(err, errDuplicate):
			f.logger.Printf("fetch: duplicate message %s on %s, skipping", msg.MessageID, mailbox.Email)
			f.markSeen(client, mailbox, msg)
		case err != nil:
			// The message stays unseen so a later run may retry it.
			stats.fail("fetch: message uid %s on %s: %v", msg.UID, mailbox.Email, err)
		default:
			f.markSeen(client, mailbox, msg)
			stats.Created++
			for _, event := range pending {
				f.bus.Dispatch(event)
			}
		}
	}
}

func (f *Fetcher) markSeen(client connector.Client, mailbox *models.Mailbox, msg *connector.Message) {
	if err := client.MarkSeen(msg.UID); err != nil {
		f.logger.Printf("fetch: mark seen uid %s on %s: %v", msg.UID, mailbox.Email, err)
	}
}

// processMessage folds one message into the conversation model inside a
// single all-or-nothing transaction. The returned events are dispatched by
// the caller only after the transaction committed.
func (f *Fetcher) processMessage(ctx context.Context, mailbox *models.Mailbox, msg *connector.Message) ([]events.Event, error) {
	var pending []events.Event
	err := repository.InTx(f.db, func(tx *sqlx.Tx) error {
		threads := repository.NewThreadRepository(tx)
		conversations := repository.NewConversationRepository(tx)
		customers := repository.NewCustomerRepository(tx)
		users := repository.NewUserRepository(tx)
		mailboxes := repository.NewMailboxRepository(tx)
		attachments := repository.NewAttachmentRepository(tx)

		engine := threading.NewEngine(threads, conversations, f.logger)
		placement, err := engine.Resolve(mailbox, msg)
		if err != nil {
			return err
		}
		if placement.Kind == threading.Duplicate {
			return errDuplicate
		}

		resolver := identity.NewResolver(customers, users, f.logger)
		customer, user, err := resolver.ResolveSender(msg.From)
		if err != nil {
			return err
		}
		if err := resolver.SyncParticipants(msg, mailbox); err != nil {
			return err
		}

		body, isHTML := bodyproc.ExtractBody(msg)
		forwarded := false
		if user != nil && !msg.IsReply() {
			// Operators can forward external mail into a ticket attributed to
			// the original sender via the @fwd convention.
			if fwd := bodyproc.UnwrapForward(msg.Subject, body); fwd != nil {
				original, err := customers.Upsert(fwd.Email, fwd.Name)
				if err != nil {
					return err
				}
				customer = original
				body = fwd.Body
				forwarded = true
			}
		}
		body = bodyproc.StripQuoted(body, isHTML, msg.IsReply() && placement.Kind != threading.CrossMailboxFork)
		body = bodyproc.Sanitize(body, isHTML)

		senderEmails := address.Emails(msg.From...)
		thread := &models.Thread{
			Type:      models.ThreadTypeCustomer,
			Body:      body,
			To:        models.StringList(nil).Merge(address.Emails(msg.To...)...),
			CC:        models.StringList(nil).Merge(address.Emails(msg.Cc...)...),
			BCC:       models.StringList(nil).Merge(address.Emails(msg.Bcc...)...),
			MessageID: placement.MessageID,
			CreatedAt: msg.MessageDate(f.now()),
		}
		if len(senderEmails) > 0 {
			thread.From = senderEmails[0]
		}
		if headers := strings.TrimSpace(msg.Headers); headers != "" {
			thread.Headers = &headers
		}
		// Attribution is mutually exclusive: an operator's message is theirs,
		// anything else belongs to the sender's customer record.
		if user != nil {
			thread.Type = models.ThreadTypeMessage
			thread.CreatedByUserID = &user.ID
		} else {
			thread.CustomerID = &customer.ID
		}
		for _, part := range msg.Attachments {
			if strings.TrimSpace(part.FileName) != "" {
				thread.HasAttachments = true
				break
			}
		}

		ccList := excludeOwn(mailbox, address.Emails(msg.Cc...))
		bccList := excludeOwn(mailbox, address.Emails(msg.Bcc...))
		replyFrom := models.ReplyFromCustomer
		if user != nil {
			replyFrom = models.ReplyFromUser
		}

		conversation := placement.Conversation
		if placement.Kind == threading.Reply {
			if user == nil {
				// A customer reply reopens the conversation.
				conversation.Status = models.ConversationStatusActive
			}
		} else {
			folder, err := mailboxes.GetFolder(mailbox.ID, models.FolderTypeInbox)
			if err != nil {
				return fmt.Errorf("no inbox folder configured: %w", err)
			}
			number, err := conversations.NextNumber(mailbox.ID)
			if err != nil {
				return err
			}
			conversation = &models.Conversation{
				Number:        number,
				MailboxID:     mailbox.ID,
				FolderID:      folder.ID,
				CustomerID:    customer.ID,
				CustomerEmail: customer.Email,
				Subject:       subjectOrDefault(msg.Subject),
				Status:        models.ConversationStatusActive,
			}
			if err := conversations.Create(conversation); err != nil {
				return err
			}
			thread.First = true
		}
		thread.ConversationID = conversation.ID

		if err := threads.Insert(thread); err != nil {
			if database.IsDuplicateKey(err) {
				// A concurrent run committed this message first; identical to
				// the duplicate outcome, not an error.
				return errDuplicate
			}
			return err
		}

		materializer := attach.NewMaterializer(f.backend, attachments, f.logger)
		materialized, err := materializer.Materialize(ctx, msg.Attachments, conversation, thread, body)
		if err != nil {
			return err
		}
		if materialized.BodyRewritten {
			if err := threads.UpdateBody(thread.ID, materialized.Body); err != nil {
				return err
			}
		}

		replyAt := msg.MessageDate(f.now())
		if err := conversations.RecordReply(conversation, replyAt, replyFrom, ccList, bccList, materialized.HasNonEmbedded); err != nil {
			return err
		}

		base := events.Event{
			MailboxID:      mailbox.ID,
			ConversationID: conversation.ID,
			ThreadID:       thread.ID,
		}
		if customer != nil {
			base.CustomerID = customer.ID
		}
		if user != nil {
			base.UserID = user.ID
		}
		received := base
		received.Type = events.MessageReceived
		pending = append(pending, received)
		if user == nil {
			customerEvent := base
			if placement.Kind == threading.Reply {
				customerEvent.Type = events.CustomerReplied
			} else {
				customerEvent.Type = events.ConversationCreated
			}
			pending = append(pending, customerEvent)
		} else if forwarded {
			// The ticket belongs to the recovered external sender, so its
			// creation is announced even though an operator sent the mail.
			created := base
			created.Type = events.ConversationCreated
			pending = append(pending, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func filterSince(messages []*connector.Message, since, fallback time.Time) []*connector.Message {
	out := messages[:0]
	for _, msg := range messages {
		if msg.MessageDate(fallback).Before(since) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func excludeOwn(mailbox *models.Mailbox, emails []string) []string {
	out := emails[:0]
	for _, email := range emails {
		if mailbox.IsAddressedTo(email) {
			continue
		}
		out = append(out, email)
	}
	return out
}

func subjectOrDefault(subject string) string {
	if subject = strings.TrimSpace(subject); subject != "" {
		return subject
	}
	return "(no subject)"
}
