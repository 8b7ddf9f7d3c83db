package connector

import (
	"fmt"
	"log"
	"strings"

	"github.com/maildesk-io/maildesk-ce/internal/models"
)

// Factory resolves the protocol client for a mailbox.
type Factory interface {
	ClientFor(mailbox *models.Mailbox, seen SeenStore) (Client, error)
}

type defaultFactory struct {
	logger *log.Logger
}

// DefaultFactory returns the standard IMAP/POP3 factory.
func DefaultFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default()
	}
	return &defaultFactory{logger: logger}
}

func (f *defaultFactory) ClientFor(mailbox *models.Mailbox, seen SeenStore) (Client, error) {
	if mailbox == nil {
		return nil, fmt.Errorf("mailbox required")
	}
	switch strings.ToLower(mailbox.InProtocol) {
	case models.ProtoIMAP, models.ProtoIMAPS:
		return NewIMAPClient(mailbox, WithIMAPLogger(f.logger)), nil
	case models.ProtoPOP3, models.ProtoPOP3S:
		return NewPOP3Client(mailbox, seen, WithPOP3Logger(f.logger)), nil
	default:
		return nil, fmt.Errorf("no connector for protocol %q", mailbox.InProtocol)
	}
}
