// Package operator delivers finished reports to the operator's chat channel.
// Platform implementations live in subpackages.
package operator

import (
	"context"
	"io"
)

// Channel is the outbound operator channel.
type Channel interface {
	// DeliverText posts a text message. It is the authoritative delivery act
	// of a submission.
	DeliverText(ctx context.Context, channelID, text string) error
	// DeliverMedia posts one photo with an optional caption.
	DeliverMedia(ctx context.Context, channelID, mediaRef, caption string) error
}

// MediaGrouper is an optional interface for channels that can post several
// photos as one album. The caption is attached to the first photo.
type MediaGrouper interface {
	DeliverMediaGroup(ctx context.Context, channelID string, mediaRefs []string, caption string) error
}

// Media is a downloaded photo.
type Media struct {
	Name string
	Body io.ReadCloser
}

// MediaFetcher resolves an opaque media ref (a Telegram file_id) into bytes,
// for channels that cannot post the ref directly.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaRef string) (Media, error)
}

// Namer is an optional interface reporting a short platform name for logs
// and metrics.
type Namer interface {
	Name() string
}

// NameOf returns ch's platform name, or "unknown".
func NameOf(ch Channel) string {
	if n, ok := ch.(Namer); ok {
		return n.Name()
	}
	return "unknown"
}

// ChunkText splits text into pieces of at most maxLen runes, preferring to
// break at newlines.
func ChunkText(text string, maxLen int) []string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		cut := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
