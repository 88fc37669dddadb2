package testutil

import (
	"context"
	"sync"
)

// SentReaction is one call observed by RecordingTransport.
type SentReaction struct {
	Recipient string
	MessageID string
	Emoji     string
}

// RecordingTransport records every reaction it is asked to send and
// answers with Err.
type RecordingTransport struct {
	mu   sync.Mutex
	sent []SentReaction
	Err  error
}

func (t *RecordingTransport) SendReaction(_ context.Context, recipient, messageID, emoji string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, SentReaction{Recipient: recipient, MessageID: messageID, Emoji: emoji})
	return t.Err
}

// Sent returns a copy of the recorded calls.
func (t *RecordingTransport) Sent() []SentReaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentReaction(nil), t.sent...)
}
