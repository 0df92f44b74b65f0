package sealchat

import (
	"context"
	"sync"

	"github.com/opd-ai/sealchat/envelope"
	"github.com/opd-ai/sealchat/history"
)

// fakeKeyDirectory serves canned device lists per user.
type fakeKeyDirectory struct {
	mu      sync.Mutex
	devices map[string][]envelope.Device
}

func newFakeKeyDirectory() *fakeKeyDirectory {
	return &fakeKeyDirectory{devices: make(map[string][]envelope.Device)}
}

func (d *fakeKeyDirectory) register(userID string, dev envelope.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[userID] = append(d.devices[userID], dev)
}

func (d *fakeKeyDirectory) DevicesFor(_ context.Context, userID string) ([]envelope.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[userID], nil
}

// fakeChats serves canned chat metadata.
type fakeChats struct {
	chats map[string]*Chat
}

func (f *fakeChats) Chat(_ context.Context, chatID string) (*Chat, error) {
	return f.chats[chatID], nil
}

// fakeHistory serves a scripted sequence of pages and can be gated to
// simulate a slow fetch overlapping a teardown.
type fakeHistory struct {
	mu    sync.Mutex
	pages []*history.Page
	calls int
	err   error
	gate  chan struct{}
}

func (f *fakeHistory) Fetch(ctx context.Context, _, _ string, _ int) (*history.Page, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		return &history.Page{}, nil
	}

	page := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return page, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
