// Package telegram implements the operator channel on the Telegram Bot API.
// The operator channel is a chat ID (a private chat or a group).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/operator"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxMessageLen is Telegram's text message limit.
	maxMessageLen = 4096
	// maxCaptionLen is Telegram's media caption limit.
	maxCaptionLen = 1024
)

// BotAPI abstracts the tgbotapi.BotAPI methods used by the channel, enabling
// test mocks. *tgbotapi.BotAPI satisfies it.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Channel delivers operator messages through a Telegram bot.
type Channel struct {
	bot         BotAPI
	httpClient  *http.Client
	log         zerolog.Logger
	baseBackoff time.Duration
}

// ChannelOpts holds parameters for creating a Telegram Channel.
type ChannelOpts struct {
	Bot        BotAPI
	HTTPClient *http.Client // used by Fetch; defaults to a 30s-timeout client
	Logger     zerolog.Logger
}

// New creates a Telegram operator Channel.
func New(opts ChannelOpts) (*Channel, error) {
	if opts.Bot == nil {
		return nil, fmt.Errorf("telegram: bot is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Channel{
		bot:         opts.Bot,
		httpClient:  opts.HTTPClient,
		log:         opts.Logger,
		baseBackoff: time.Second,
	}, nil
}

// Name implements operator.Namer.
func (c *Channel) Name() string { return "telegram" }

// ParseChatID converts a configured channel ID into a Telegram chat ID.
func ParseChatID(channelID string) (int64, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}
	return id, nil
}

// DeliverText sends text, split into Telegram-sized messages.
func (c *Channel) DeliverText(ctx context.Context, channelID, text string) error {
	chatID, err := ParseChatID(channelID)
	if err != nil {
		return err
	}
	for _, chunk := range operator.ChunkText(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if err := c.retryOnRateLimit(ctx, func() error {
			_, sendErr := c.bot.Send(msg)
			return sendErr
		}); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// DeliverMedia sends one photo by file ID.
func (c *Channel) DeliverMedia(ctx context.Context, channelID, mediaRef, caption string) error {
	chatID, err := ParseChatID(channelID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(mediaRef))
	photo.Caption = truncate(caption, maxCaptionLen)
	if err := c.retryOnRateLimit(ctx, func() error {
		_, sendErr := c.bot.Send(photo)
		return sendErr
	}); err != nil {
		return fmt.Errorf("telegram: send photo: %w", err)
	}
	return nil
}

// DeliverMediaGroup sends the photos as one album, captioning the first.
func (c *Channel) DeliverMediaGroup(ctx context.Context, channelID string, mediaRefs []string, caption string) error {
	chatID, err := ParseChatID(channelID)
	if err != nil {
		return err
	}
	media := make([]interface{}, 0, len(mediaRefs))
	for i, ref := range mediaRefs {
		p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(ref))
		if i == 0 {
			p.Caption = truncate(caption, maxCaptionLen)
		}
		media = append(media, p)
	}
	group := tgbotapi.NewMediaGroup(chatID, media)
	if err := c.retryOnRateLimit(ctx, func() error {
		_, sendErr := c.bot.SendMediaGroup(group)
		return sendErr
	}); err != nil {
		return fmt.Errorf("telegram: send media group: %w", err)
	}
	return nil
}

// Fetch downloads a photo by file ID. It lets other operator platforms
// re-upload photos collected through Telegram.
func (c *Channel) Fetch(ctx context.Context, mediaRef string) (operator.Media, error) {
	url, err := c.bot.GetFileDirectURL(mediaRef)
	if err != nil {
		return operator.Media{}, fmt.Errorf("telegram: resolve file %s: %w", mediaRef, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return operator.Media{}, fmt.Errorf("telegram: fetch file: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return operator.Media{}, fmt.Errorf("telegram: fetch file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return operator.Media{}, fmt.Errorf("telegram: fetch file: status %d", resp.StatusCode)
	}
	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = mediaRef + ".jpg"
	}
	return operator.Media{Name: name, Body: resp.Body}, nil
}

// retryOnRateLimit calls fn and retries when Telegram answers 429, waiting
// for the advertised retry_after or an exponential backoff.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		}
		c.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("telegram rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
