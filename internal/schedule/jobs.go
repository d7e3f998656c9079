package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/roadcall/internal/intake"
	"github.com/zulandar/roadcall/internal/ledger"
	"github.com/zulandar/roadcall/internal/metrics"
	"github.com/zulandar/roadcall/internal/operator"
)

// Expirer is the part of intake.Conversation the sweep uses.
type Expirer interface {
	Expire(ctx context.Context, idle time.Duration, now time.Time) ([]intake.Effect, error)
	Stats(ctx context.Context) (map[intake.Stage]int, error)
}

// DeliverFunc sends effects to their users.
type DeliverFunc func(ctx context.Context, effects []intake.Effect)

// SweepJob expires idle sessions, tells their users, and refreshes the
// active-session gauge.
func SweepJob(spec string, conv Expirer, idle time.Duration, deliver DeliverFunc, now func() time.Time) Job {
	return Job{
		Name: "sweep",
		Spec: spec,
		Run: func(ctx context.Context) error {
			effects, err := conv.Expire(ctx, idle, now())
			if len(effects) > 0 && deliver != nil {
				deliver(ctx, effects)
			}
			if err != nil {
				return err
			}

			byStage, err := conv.Stats(ctx)
			if err != nil {
				return err
			}
			gauge := make(map[string]int, len(byStage))
			for st, n := range byStage {
				gauge[st.String()] = n
			}
			metrics.SetActiveSessions(gauge)
			return nil
		},
	}
}

// DigestSource is the part of the ledger the digest uses.
type DigestSource interface {
	Summarize(ctx context.Context, from, to time.Time) (ledger.Summary, error)
	ClaimDigest(ctx context.Context, day string, reports int) (bool, error)
}

// DigestJob posts yesterday's totals to the operator channel. Days without
// reports are skipped, and each day is posted at most once across restarts
// and replicas. now's location sets the day boundary.
func DigestJob(spec string, src DigestSource, ch operator.Channel, channelID string, now func() time.Time) Job {
	return Job{
		Name: "digest",
		Spec: spec,
		Run: func(ctx context.Context) error {
			to := ledger.StartOfDay(now())
			from := to.AddDate(0, 0, -1)

			summary, err := src.Summarize(ctx, from, to)
			if err != nil {
				return err
			}
			if summary.Reports == 0 {
				return nil
			}

			day := from.Format("2006-01-02")
			claimed, err := src.ClaimDigest(ctx, day, int(summary.Reports))
			if err != nil {
				return err
			}
			if !claimed {
				return nil
			}
			if err := ch.DeliverText(ctx, channelID, FormatDigest(day, summary)); err != nil {
				return fmt.Errorf("schedule: post digest %s: %w", day, err)
			}
			return nil
		},
	}
}

// FormatDigest renders a daily summary for the operator.
func FormatDigest(day string, s ledger.Summary) string {
	lines := []string{
		"📊 Daily digest for " + day,
		"",
		fmt.Sprintf("Reports: %d", s.Reports),
		fmt.Sprintf("Drivers: %d", s.Users),
		fmt.Sprintf("With photos: %d", s.WithPhotos),
	}
	if s.TotalPhotos > 0 {
		lines = append(lines, fmt.Sprintf("Photos received: %d", s.TotalPhotos))
	}
	return strings.Join(lines, "\n")
}
