// Package transport abstracts the outbound chat-platform channel. The
// real client (how bytes reach the recipient) is out of scope for this
// module; only the interface and a test double live here.
package transport

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a delivery failure so callers can decide whether to
// retry.
type Kind int

const (
	// KindSuccess means the message was accepted by the platform.
	KindSuccess Kind = iota
	// KindTransient means the failure may succeed on retry (timeout,
	// rate-limit, 5xx).
	KindTransient
	// KindPermanent means retrying will not help (unknown recipient,
	// content rejected).
	KindPermanent
)

// ErrUnknownRecipient is a permanent failure used by Mock/tests.
var ErrUnknownRecipient = errors.New("transport: unknown recipient")

// Message is one outbound notification. CustomID carries the encoded
// (action, reminderId) pair consumed by the ingest package when the
// recipient answers.
type Message struct {
	RecipientUserID string
	Text            string
	CustomID        string
}

// Result is the outcome of one Send call.
type Result struct {
	Kind            Kind
	ExternalMsgID   string
	Err             error
	RetryAfter      time.Duration // advertised by the platform on rate-limit; zero if absent
}

// Transport sends a message to a recipient with interactive
// acknowledge/decline affordances carrying a reminder id.
type Transport interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
