// Package notify delivers release messages over a priority-ordered set of
// channels, falling back to the next channel when one fails.
package notify

import (
	"context"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// Attachment describes a document carried by a message. Channels that can
// transfer bytes read Path; link-only channels send URL.
type Attachment struct {
	Name   string
	Path   string
	URL    string
	Size   int64
	Digest string
}

// Message is a rendered notification for one recipient.
type Message struct {
	ReleaseID  string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Channel is one delivery provider. Send returns nil only when the provider
// accepted the message. Implementations normalize the address themselves and
// honour ctx cancellation.
type Channel interface {
	Name() string
	Medium() model.Medium
	Send(ctx context.Context, to string, msg Message) error
}
