package mailingest

import "context"

// RawMessage is one unseen message fetched from a Mailbox, in RFC 822 wire
// format, ready for ParseMessage.
type RawMessage struct {
	ID  string
	Raw []byte
}

// Mailbox is the external-collaborator port the Poller drives: fetch unseen
// messages, then mark each one seen once it has been durably handed off
// (produced to the queue), so a crash between fetch and produce just means
// the message is re-fetched on the next poll rather than lost.
type Mailbox interface {
	FetchUnseen(ctx context.Context, limit int) ([]RawMessage, error)
	MarkSeen(ctx context.Context, id string) error
}
