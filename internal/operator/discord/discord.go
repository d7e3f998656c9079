// Package discord implements the operator channel on the Discord REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/operator"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxMessageLen is Discord's content limit.
	maxMessageLen = 2000
	// maxFilesPerMessage is Discord's attachment limit.
	maxFilesPerMessage = 10
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channel delivers operator messages to a Discord text channel.
type Channel struct {
	sess        session
	fetcher     operator.MediaFetcher
	log         zerolog.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ChannelOpts holds parameters for creating a Discord Channel.
type ChannelOpts struct {
	BotToken string
	// Fetcher downloads photos so they can be attached. Without it photos
	// are skipped.
	Fetcher operator.MediaFetcher
	Logger  zerolog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord operator Channel. Only the REST API is used, so no
// gateway connection is opened.
func New(opts ChannelOpts) (*Channel, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	c := &Channel{
		sess:        opts.Session,
		fetcher:     opts.Fetcher,
		log:         opts.Logger,
		baseBackoff: 2 * time.Second,
		maxBackoff:  time.Minute,
	}
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		c.sess = dg
	}
	return c, nil
}

// Name implements operator.Namer.
func (c *Channel) Name() string { return "discord" }

// DeliverText posts the report text, split at Discord's length limit.
func (c *Channel) DeliverText(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}
	for _, chunk := range operator.ChunkText(text, maxMessageLen) {
		if err := c.send(ctx, channelID, &discordgo.MessageSend{Content: chunk}); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// DeliverMedia attaches one photo to a message.
func (c *Channel) DeliverMedia(ctx context.Context, channelID, mediaRef, caption string) error {
	return c.DeliverMediaGroup(ctx, channelID, []string{mediaRef}, caption)
}

// DeliverMediaGroup attaches the photos to one message with the caption as
// content. Discord messages carry up to ten files.
func (c *Channel) DeliverMediaGroup(ctx context.Context, channelID string, mediaRefs []string, caption string) error {
	if c.fetcher == nil {
		return fmt.Errorf("discord: no media fetcher configured")
	}
	if len(mediaRefs) > maxFilesPerMessage {
		return fmt.Errorf("discord: %d photos exceed the %d file limit", len(mediaRefs), maxFilesPerMessage)
	}

	var files []*discordgo.File
	var bodies []io.Closer
	defer func() {
		for _, b := range bodies {
			b.Close()
		}
	}()
	for _, ref := range mediaRefs {
		m, err := c.fetcher.Fetch(ctx, ref)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		bodies = append(bodies, m.Body)
		files = append(files, &discordgo.File{Name: m.Name, ContentType: "image/jpeg", Reader: m.Body})
	}

	data := &discordgo.MessageSend{Content: caption, Files: files}
	// Readers are consumed by the first attempt, so no retry here.
	if _, err := c.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send photos: %w", err)
	}
	return nil
}

func (c *Channel) send(ctx context.Context, channelID string, data *discordgo.MessageSend) error {
	return c.retryOnRateLimit(ctx, func() error {
		_, err := c.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return err
	})
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		c.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("discord rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
