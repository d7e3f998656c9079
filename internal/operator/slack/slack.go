// Package slack implements the operator channel on the Slack Web API.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/roadcall/internal/operator"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxMessageLen keeps each post well under Slack's text limit.
	maxMessageLen = 4000
	// maxPhotoBytes caps a single re-uploaded photo.
	maxPhotoBytes = 20 << 20
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error)
}

// Channel delivers operator messages to a Slack channel.
type Channel struct {
	client      slackClient
	fetcher     operator.MediaFetcher
	log         zerolog.Logger
	baseBackoff time.Duration
}

// ChannelOpts holds parameters for creating a Slack Channel.
type ChannelOpts struct {
	BotToken string // xoxb-... Slack bot token
	// Fetcher downloads photos so they can be uploaded to Slack. Without it
	// photos are skipped.
	Fetcher operator.MediaFetcher
	Logger  zerolog.Logger
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack operator Channel.
func New(opts ChannelOpts) (*Channel, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	c := &Channel{
		client:      opts.Client,
		fetcher:     opts.Fetcher,
		log:         opts.Logger,
		baseBackoff: time.Second,
	}
	if c.client == nil {
		c.client = slackapi.New(opts.BotToken)
	}
	return c, nil
}

// Name implements operator.Namer.
func (c *Channel) Name() string { return "slack" }

// DeliverText posts the report text as plain messages.
func (c *Channel) DeliverText(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}
	for _, chunk := range operator.ChunkText(text, maxMessageLen) {
		options := []slackapi.MsgOption{
			slackapi.MsgOptionText(chunk, false),
			slackapi.MsgOptionDisableLinkUnfurl(),
		}
		err := c.retryOnRateLimit(ctx, func() error {
			_, _, postErr := c.client.PostMessageContext(ctx, channelID, options...)
			return postErr
		})
		if err != nil {
			return fmt.Errorf("slack: post message: %w", err)
		}
	}
	return nil
}

// DeliverMedia downloads the photo through the fetcher and uploads it.
func (c *Channel) DeliverMedia(ctx context.Context, channelID, mediaRef, caption string) error {
	if c.fetcher == nil {
		return fmt.Errorf("slack: no media fetcher configured")
	}
	m, err := c.fetcher.Fetch(ctx, mediaRef)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer m.Body.Close()

	data, err := io.ReadAll(io.LimitReader(m.Body, maxPhotoBytes+1))
	if err != nil {
		return fmt.Errorf("slack: read photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return fmt.Errorf("slack: photo %s exceeds %d bytes", mediaRef, maxPhotoBytes)
	}
	if len(data) == 0 {
		return fmt.Errorf("slack: photo %s is empty", mediaRef)
	}

	err = c.retryOnRateLimit(ctx, func() error {
		_, upErr := c.client.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
			Channel:        channelID,
			Reader:         bytes.NewReader(data),
			FileSize:       len(data),
			Filename:       m.Name,
			Title:          m.Name,
			InitialComment: caption,
		})
		return upErr
	})
	if err != nil {
		return fmt.Errorf("slack: upload photo: %w", err)
	}
	return nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Slack
// rate limit errors. It respects context cancellation.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		}
		c.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("slack rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
