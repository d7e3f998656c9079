package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock bot ---

type mockBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	groups  []tgbotapi.MediaGroupConfig
	sendErr []error // consumed one per Send call
	fileURL string
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErr) > 0 {
		err := m.sendErr[0]
		m.sendErr = m.sendErr[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockBot) SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, c)
	return make([]tgbotapi.Message, len(c.Media)), nil
}

func (m *mockBot) GetFileDirectURL(fileID string) (string, error) {
	if m.fileURL == "" {
		return "", errors.New("no such file")
	}
	return m.fileURL, nil
}

func newTestChannel(t *testing.T, bot *mockBot) *Channel {
	t.Helper()
	c, err := New(ChannelOpts{Bot: bot, Logger: zerolog.Nop()})
	require.NoError(t, err)
	c.baseBackoff = time.Millisecond
	return c
}

// --- Tests ---

func TestNew_RequiresBot(t *testing.T) {
	_, err := New(ChannelOpts{})
	assert.ErrorContains(t, err, "bot is required")
}

func TestDeliverText(t *testing.T) {
	bot := &mockBot{}
	c := newTestChannel(t, bot)

	require.NoError(t, c.DeliverText(context.Background(), "-100123", "new report"))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok, "sent %T, want MessageConfig", bot.sent[0])
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Equal(t, "new report", msg.Text)
}

func TestDeliverText_SplitsLongText(t *testing.T) {
	bot := &mockBot{}
	c := newTestChannel(t, bot)

	require.NoError(t, c.DeliverText(context.Background(), "1", strings.Repeat("x", maxMessageLen+10)))
	assert.Len(t, bot.sent, 2)
}

func TestDeliverText_InvalidChatID(t *testing.T) {
	c := newTestChannel(t, &mockBot{})
	err := c.DeliverText(context.Background(), "ops-room", "x")
	assert.ErrorContains(t, err, "invalid chat id")
}

func TestDeliverText_RetriesRateLimit(t *testing.T) {
	bot := &mockBot{sendErr: []error{&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}}}
	c := newTestChannel(t, bot)

	require.NoError(t, c.DeliverText(context.Background(), "1", "hi"))
	assert.Len(t, bot.sent, 1)
}

func TestDeliverText_DoesNotRetryOtherErrors(t *testing.T) {
	bot := &mockBot{sendErr: []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked"}, nil}}
	c := newTestChannel(t, bot)

	err := c.DeliverText(context.Background(), "1", "hi")
	assert.ErrorContains(t, err, "bot was blocked")
	assert.Empty(t, bot.sent)
}

func TestDeliverMedia(t *testing.T) {
	bot := &mockBot{}
	c := newTestChannel(t, bot)

	require.NoError(t, c.DeliverMedia(context.Background(), "1", "file-1", "Photo 1 from Ann"))
	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "Photo 1 from Ann", photo.Caption)
	assert.Equal(t, tgbotapi.FileID("file-1"), photo.File)
}

func TestDeliverMediaGroup_CaptionsFirst(t *testing.T) {
	bot := &mockBot{}
	c := newTestChannel(t, bot)

	require.NoError(t, c.DeliverMediaGroup(context.Background(), "1", []string{"a", "b", "c"}, "Photo 1 from Ann"))
	require.Len(t, bot.groups, 1)
	media := bot.groups[0].Media
	require.Len(t, media, 3)
	assert.Equal(t, "Photo 1 from Ann", media[0].(tgbotapi.InputMediaPhoto).Caption)
	assert.Empty(t, media[1].(tgbotapi.InputMediaPhoto).Caption)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	bot := &mockBot{fileURL: srv.URL + "/file/bot123/photos/file_7.jpg"}
	c := newTestChannel(t, bot)

	m, err := c.Fetch(context.Background(), "file-7")
	require.NoError(t, err)
	defer m.Body.Close()
	body, _ := io.ReadAll(m.Body)
	assert.Equal(t, "jpeg-bytes", string(body))
	assert.Equal(t, "file_7.jpg", m.Name)
}
