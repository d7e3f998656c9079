package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/metrics"
)

// Submitter delivers a completed session to the operator. It returns the
// delivery progress reached, even on failure, so a retry can resume.
type Submitter interface {
	Submit(ctx context.Context, s Session) (DeliveryProgress, error)
}

// NoticeUnavailable is emitted when the session store itself failed.
const NoticeUnavailable NoticeCode = "unavailable"

const unavailableText = "⚠️ Something went wrong on our side. Please try again in a moment."

// ConversationOpts holds the parameters for NewConversation.
type ConversationOpts struct {
	Store     Store
	Submitter Submitter
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewReportID defaults to a ULID stamped with the given time.
	NewReportID func(time.Time) string
}

// Conversation drives Apply against a Store and a Submitter. It does not
// order events itself; callers route each user's events through a
// Dispatcher.
type Conversation struct {
	store     Store
	submitter Submitter
	log       zerolog.Logger
	now       func() time.Time
	newID     func(time.Time) string
}

// NewConversation creates a Conversation after validating its dependencies.
func NewConversation(opts ConversationOpts) (*Conversation, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("intake: conversation: store is required")
	}
	if opts.Submitter == nil {
		return nil, fmt.Errorf("intake: conversation: submitter is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewReportID == nil {
		opts.NewReportID = newULID
	}
	return &Conversation{
		store:     opts.Store,
		submitter: opts.Submitter,
		log:       opts.Logger,
		now:       opts.Now,
		newID:     opts.NewReportID,
	}, nil
}

func newULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Handle processes one event and returns the effects to render. A non-nil
// error is a store failure; the returned effects then carry a notice for the
// user and the error is for logging.
func (c *Conversation) Handle(ctx context.Context, ev Event) ([]Effect, error) {
	now := c.now()
	metrics.RecordEvent(ev.Type.String())

	if ev.Type == EventStart {
		t := Apply(nil, ev, now)
		if _, err := c.store.Create(ctx, ev.UserID, ev.Profile, now); err != nil {
			return c.unavailable(ev, fmt.Errorf("intake: start: %w", err))
		}
		c.log.Debug().Str("user", ev.UserID).Msg("session started")
		return t.Effects, nil
	}

	var (
		t    Transition
		snap Session
	)
	_, err := c.store.Update(ctx, ev.UserID, func(s *Session) error {
		t = Apply(s, ev, now)
		if t.Submit && s.ReportID == "" {
			s.ReportID = c.newID(now)
		}
		snap = s.Clone()
		return nil
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		t = Apply(nil, ev, now)
		return t.Effects, nil
	case err != nil:
		return c.unavailable(ev, fmt.Errorf("intake: %s: %w", ev.Type, err))
	}

	if t.Rejection != nil {
		metrics.RecordRejection(t.Rejection.Field)
	}

	switch {
	case t.Delete:
		if err := c.store.Delete(ctx, ev.UserID); err != nil {
			return t.Effects, fmt.Errorf("intake: %s: delete session: %w", ev.Type, err)
		}
		c.log.Debug().Str("user", ev.UserID).Str("event", ev.Type.String()).Msg("session removed")
	case t.Submit:
		return c.submit(ctx, snap)
	case ev.Type == EventSubmit:
		metrics.RecordSubmission("incomplete")
	}
	return t.Effects, nil
}

// submit runs the pipeline outside any store lock and records the outcome.
func (c *Conversation) submit(ctx context.Context, s Session) ([]Effect, error) {
	log := c.log.With().Str("user", s.UserID).Str("report_id", s.ReportID).Logger()

	progress, err := c.submitter.Submit(ctx, s)
	if err != nil {
		metrics.RecordSubmission("failed")
		log.Warn().Err(err).Msg("submission failed, session kept for retry")
		if _, uerr := c.store.Update(ctx, s.UserID, func(cur *Session) error {
			cur.Delivery = progress
			cur.Stage = NextStage(cur)
			return nil
		}); uerr != nil && !errors.Is(uerr, ErrSessionNotFound) {
			log.Error().Err(uerr).Msg("save delivery progress")
		}
		return []Effect{SubmissionResult(s.UserID, false, err.Error())}, nil
	}

	metrics.RecordSubmission("delivered")
	log.Info().Msg("report submitted")

	if derr := c.store.Delete(ctx, s.UserID); derr != nil {
		// Keep the progress so a resubmit never sends the text twice.
		if _, uerr := c.store.Update(ctx, s.UserID, func(cur *Session) error {
			cur.Delivery = progress
			cur.Status = StatusSubmitted
			return nil
		}); uerr != nil {
			log.Error().Err(uerr).Msg("save delivery progress")
		}
		return []Effect{SubmissionResult(s.UserID, true, s.Phone)}, fmt.Errorf("intake: delete submitted session: %w", derr)
	}
	return []Effect{SubmissionResult(s.UserID, true, s.Phone)}, nil
}

func (c *Conversation) unavailable(ev Event, err error) ([]Effect, error) {
	return []Effect{Notice(ev.UserID, NoticeUnavailable, unavailableText)}, err
}

// Expire deletes every session idle for longer than idle and returns an
// expiry notice for each.
func (c *Conversation) Expire(ctx context.Context, idle time.Duration, now time.Time) ([]Effect, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake: expire: %w", err)
	}

	var effects []Effect
	for _, s := range sessions {
		if now.Sub(s.UpdatedAt) <= idle {
			continue
		}
		// The idle check is repeated atomically with the delete, so a
		// session touched since List survives.
		deleted, err := c.store.DeleteIf(ctx, s.UserID, func(cur Session) bool {
			return now.Sub(cur.UpdatedAt) > idle
		})
		if err != nil {
			return effects, fmt.Errorf("intake: expire %s: %w", s.UserID, err)
		}
		if !deleted {
			continue
		}
		effects = append(effects, Notice(s.UserID, NoticeExpired, expiredText))
	}
	if len(effects) > 0 {
		metrics.RecordExpired(len(effects))
		c.log.Info().Int("count", len(effects)).Dur("idle", idle).Msg("expired idle sessions")
	}
	return effects, nil
}

// Stats counts active sessions per stage.
func (c *Conversation) Stats(ctx context.Context) (map[Stage]int, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake: stats: %w", err)
	}
	out := make(map[Stage]int)
	for _, s := range sessions {
		if s.Status != StatusActive {
			continue
		}
		out[s.Stage]++
	}
	return out, nil
}
