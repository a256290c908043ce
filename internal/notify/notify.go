// Package notify delivers user-facing messages (one-time codes, security alerts).
package notify

import "context"

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Dispatcher sends messages. Implementations must not log message bodies, which carry codes.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}
