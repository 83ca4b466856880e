package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SentMessage is a send captured by FakeSender.
type SentMessage struct {
	To      string
	Content Content
	ID      string
}

// FakeSender accepts every message without contacting anyone. Used for local
// development and as the adapter of channels configured as "fake".
type FakeSender struct {
	mu   sync.Mutex
	sent []SentMessage
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) Send(ctx context.Context, to string, content Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if to == "" {
		return "", ErrMissingAddress
	}
	id := "fake-" + uuid.NewString()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{To: to, Content: content, ID: id})
	return id, nil
}

func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}
