package operator

import (
	"context"
	"sync"
)

// Delivery is one message recorded by MockChannel.
type Delivery struct {
	ChannelID string
	Text      string   // text messages
	MediaRefs []string // one ref for DeliverMedia, several for a group
	Caption   string
	Group     bool
}

// MockChannel implements Channel and MediaGrouper for tests. It records every
// delivery and can be told to fail specific calls.
type MockChannel struct {
	mu        sync.Mutex
	sent      []Delivery
	textErr   error
	groupErr  error
	mediaErrs map[string]error
}

// NewMockChannel creates an empty MockChannel.
func NewMockChannel() *MockChannel {
	return &MockChannel{mediaErrs: make(map[string]error)}
}

// Name implements Namer.
func (m *MockChannel) Name() string { return "mock" }

// DeliverText records a text delivery.
func (m *MockChannel) DeliverText(ctx context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.textErr != nil {
		return m.textErr
	}
	m.sent = append(m.sent, Delivery{ChannelID: channelID, Text: text})
	return nil
}

// DeliverMedia records a single photo delivery.
func (m *MockChannel) DeliverMedia(ctx context.Context, channelID, mediaRef, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mediaErrs[mediaRef]; err != nil {
		return err
	}
	m.sent = append(m.sent, Delivery{ChannelID: channelID, MediaRefs: []string{mediaRef}, Caption: caption})
	return nil
}

// DeliverMediaGroup records an album delivery.
func (m *MockChannel) DeliverMediaGroup(ctx context.Context, channelID string, mediaRefs []string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groupErr != nil {
		return m.groupErr
	}
	m.sent = append(m.sent, Delivery{
		ChannelID: channelID,
		MediaRefs: append([]string(nil), mediaRefs...),
		Caption:   caption,
		Group:     true,
	})
	return nil
}

// --- Test helpers ---

// FailText makes DeliverText return err (nil clears it).
func (m *MockChannel) FailText(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textErr = err
}

// FailGroup makes DeliverMediaGroup return err (nil clears it).
func (m *MockChannel) FailGroup(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupErr = err
}

// FailMedia makes DeliverMedia return err for one ref.
func (m *MockChannel) FailMedia(mediaRef string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaErrs[mediaRef] = err
}

// LastSent returns the most recent delivery.
func (m *MockChannel) LastSent() (Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Delivery{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of recorded deliveries.
func (m *MockChannel) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all recorded deliveries.
func (m *MockChannel) AllSent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.sent))
	copy(out, m.sent)
	return out
}

// Texts returns the text of every text delivery, in order.
func (m *MockChannel) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, d := range m.sent {
		if d.Text != "" {
			out = append(out, d.Text)
		}
	}
	return out
}
