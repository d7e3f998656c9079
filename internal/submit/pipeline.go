package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/roadcall/internal/intake"
	"github.com/zulandar/roadcall/internal/metrics"
	"github.com/zulandar/roadcall/internal/operator"
)

var (
	// ErrDeliveryFailed means the report text did not reach the operator.
	// The submission is retryable and the session must be kept.
	ErrDeliveryFailed = errors.New("submit: delivery failed")
	// ErrIncomplete means a required field is missing.
	ErrIncomplete = errors.New("submit: report is incomplete")
)

// Recorder is a best-effort sink for submitted reports (ledger, export,
// archive). Its failures never fail a submission.
type Recorder interface {
	Name() string
	Record(ctx context.Context, r Report) error
}

// Receipt describes what a delivery achieved.
type Receipt struct {
	ReportID        string
	TextDelivered   bool
	PhotosDelivered int
	PhotosFailed    int
	Progress        intake.DeliveryProgress
}

// PipelineOpts holds the parameters for NewPipeline.
type PipelineOpts struct {
	Channel   operator.Channel
	ChannelID string
	Recorders []Recorder
	Logger    zerolog.Logger
	// RecorderTimeout bounds each recorder call (default 15s).
	RecorderTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline delivers reports to the operator channel and fans them out to
// the recorders.
type Pipeline struct {
	channel         operator.Channel
	channelID       string
	channelName     string
	recorders       []Recorder
	log             zerolog.Logger
	recorderTimeout time.Duration
	now             func() time.Time
}

// NewPipeline creates a Pipeline after validating its dependencies.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("submit: pipeline: channel is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("submit: pipeline: channel id is required")
	}
	if opts.RecorderTimeout <= 0 {
		opts.RecorderTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		channel:         opts.Channel,
		channelID:       opts.ChannelID,
		channelName:     operator.NameOf(opts.Channel),
		recorders:       opts.Recorders,
		log:             opts.Logger,
		recorderTimeout: opts.RecorderTimeout,
		now:             opts.Now,
	}, nil
}

// Submit implements intake.Submitter.
func (p *Pipeline) Submit(ctx context.Context, s intake.Session) (intake.DeliveryProgress, error) {
	rc, err := p.Deliver(ctx, s)
	return rc.Progress, err
}

// Deliver runs the pipeline for a completed session. Steps already recorded
// in s.Delivery are skipped, so a retry never resends the report text, and
// a fully delivered report never reaches the recorders twice.
func (p *Pipeline) Deliver(ctx context.Context, s intake.Session) (Receipt, error) {
	rc := Receipt{ReportID: s.ReportID, Progress: s.Delivery}
	// Recorders ran in the call that completed delivery.
	recorded := s.Delivery.TextDelivered && s.Delivery.PhotosDone

	r, err := Render(s, p.now())
	if err != nil {
		return rc, err
	}
	log := p.log.With().Str("report_id", r.ID).Str("user", r.UserID).Str("channel", p.channelName).Logger()

	if !rc.Progress.TextDelivered {
		if err := p.channel.DeliverText(ctx, p.channelID, r.Text()); err != nil {
			log.Error().Err(err).Msg("report text not delivered")
			return rc, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		rc.Progress.TextDelivered = true
	}
	rc.TextDelivered = true

	if !rc.Progress.PhotosDone {
		rc.PhotosDelivered, rc.PhotosFailed = p.deliverPhotos(ctx, r, log)
		rc.Progress.PhotosDone = true
	}

	if recorded {
		log.Debug().Msg("report already delivered, recorders skipped")
	} else {
		p.record(ctx, r, log)
	}

	log.Info().
		Int("photos_delivered", rc.PhotosDelivered).
		Int("photos_failed", rc.PhotosFailed).
		Msg("report delivered")
	return rc, nil
}

// deliverPhotos sends photos best-effort. A channel that can group photos
// gets one album; if that fails, or the channel cannot group, each photo is
// sent on its own and failures are skipped.
func (p *Pipeline) deliverPhotos(ctx context.Context, r Report, log zerolog.Logger) (delivered, failed int) {
	if len(r.Photos) == 0 {
		return 0, 0
	}
	caption := r.PhotoCaption()

	if g, ok := p.channel.(operator.MediaGrouper); ok && len(r.Photos) > 1 {
		err := g.DeliverMediaGroup(ctx, p.channelID, r.Photos, caption)
		if err == nil {
			return len(r.Photos), 0
		}
		log.Warn().Err(err).Msg("media group failed, sending photos one by one")
	}

	for i, ref := range r.Photos {
		c := ""
		if i == 0 {
			c = caption
		}
		if err := p.channel.DeliverMedia(ctx, p.channelID, ref, c); err != nil {
			failed++
			metrics.RecordMediaFailure(p.channelName)
			log.Warn().Err(err).Int("photo", i+1).Msg("photo not delivered")
			continue
		}
		delivered++
	}
	return delivered, failed
}

// record runs every recorder concurrently. A failing recorder is logged and
// does not stop the others.
func (p *Pipeline) record(ctx context.Context, r Report, log zerolog.Logger) {
	if len(p.recorders) == 0 {
		return
	}
	// Recorders outlive the inbound request.
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, rec := range p.recorders {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(base, p.recorderTimeout)
			defer cancel()
			if err := rec.Record(rctx, r); err != nil {
				metrics.RecordRecorderFailure(rec.Name())
				log.Warn().Err(err).Str("recorder", rec.Name()).Msg("recorder failed")
				return fmt.Errorf("%s: %w", rec.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Msg("some recorders failed")
	}
}
