package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/roadcall/internal/db"
	"github.com/zulandar/roadcall/internal/intake"
	"github.com/zulandar/roadcall/internal/ledger"
	"github.com/zulandar/roadcall/internal/metrics"
	"github.com/zulandar/roadcall/internal/operator"
	"github.com/zulandar/roadcall/internal/submit"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, intake.Session) (intake.DeliveryProgress, error) {
	return intake.DeliveryProgress{TextDelivered: true, PhotosDone: true}, nil
}

func TestSweepJob_ExpiresAndRefreshesGauge(t *testing.T) {
	clock := t0
	conv, err := intake.NewConversation(intake.ConversationOpts{
		Store:     intake.NewMemoryStore(),
		Submitter: nopSubmitter{},
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return clock },
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = conv.Handle(ctx, intake.Start("idle", intake.Profile{}))
	require.NoError(t, err)
	clock = t0.Add(3 * time.Hour)
	_, err = conv.Handle(ctx, intake.Start("fresh", intake.Profile{}))
	require.NoError(t, err)

	var delivered []intake.Effect
	job := SweepJob("*/5 * * * *", conv, 2*time.Hour,
		func(_ context.Context, effects []intake.Effect) { delivered = append(delivered, effects...) },
		func() time.Time { return t0.Add(3*time.Hour + time.Minute) })

	require.NoError(t, job.Run(ctx))
	require.Len(t, delivered, 1)
	assert.Equal(t, "idle", delivered[0].UserID)
	assert.Equal(t, intake.NoticeExpired, delivered[0].Code)

	got := testutil.ToFloat64(metrics.ActiveSessions.WithLabelValues(intake.AwaitingPhone.String()))
	assert.Equal(t, 1.0, got)
}

type failingExpirer struct{}

func (failingExpirer) Expire(context.Context, time.Duration, time.Time) ([]intake.Effect, error) {
	return nil, errors.New("store down")
}

func (failingExpirer) Stats(context.Context) (map[intake.Stage]int, error) {
	return nil, nil
}

func TestSweepJob_ReturnsExpireError(t *testing.T) {
	job := SweepJob("* * * * *", failingExpirer{}, time.Hour, nil, time.Now)
	assert.Error(t, job.Run(context.Background()))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func seedLedger(t *testing.T, l *ledger.Ledger, submitted ...time.Time) {
	t.Helper()
	for i, at := range submitted {
		r := submit.Report{
			ID:          "r" + string(rune('a'+i)),
			UserID:      "u" + string(rune('a'+i%2)),
			Phone:       "+15550100",
			Vehicle:     "Toyota",
			Incident:    "crash",
			Photos:      []string{"p"},
			CreatedAt:   at.Add(-time.Minute),
			SubmittedAt: at,
		}
		require.NoError(t, l.Record(context.Background(), r))
	}
}

func TestDigestJob_PostsYesterdayOnce(t *testing.T) {
	l, err := ledger.New(openTestDB(t))
	require.NoError(t, err)
	yesterday := t0.AddDate(0, 0, -1)
	seedLedger(t, l, yesterday.Add(time.Hour), yesterday.Add(2*time.Hour), t0.Add(time.Hour))

	ch := operator.NewMockChannel()
	job := DigestJob("0 9 * * *", l, ch, "ops", func() time.Time { return t0.Add(time.Hour) })
	ctx := context.Background()

	require.NoError(t, job.Run(ctx))
	texts := ch.Texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "📊 Daily digest for 2026-03-13"), texts[0])
	assert.Contains(t, texts[0], "Reports: 2")
	assert.Contains(t, texts[0], "Drivers: 2")

	// A second run for the same day is a no-op.
	require.NoError(t, job.Run(ctx))
	assert.Len(t, ch.Texts(), 1)
}

func TestDigestJob_SkipsEmptyDay(t *testing.T) {
	l, err := ledger.New(openTestDB(t))
	require.NoError(t, err)

	ch := operator.NewMockChannel()
	job := DigestJob("0 9 * * *", l, ch, "ops", func() time.Time { return t0 })
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, ch.SentCount())
}

func TestDigestJob_DeliveryError(t *testing.T) {
	l, err := ledger.New(openTestDB(t))
	require.NoError(t, err)
	seedLedger(t, l, t0.AddDate(0, 0, -1))

	ch := operator.NewMockChannel()
	ch.FailText(errors.New("channel down"))
	job := DigestJob("0 9 * * *", l, ch, "ops", func() time.Time { return t0 })
	assert.Error(t, job.Run(context.Background()))
}

func TestFormatDigest(t *testing.T) {
	text := FormatDigest("2026-03-13", ledger.Summary{Reports: 3, Users: 2, WithPhotos: 1})
	assert.Contains(t, text, "Reports: 3")
	assert.NotContains(t, text, "Photos received")

	text = FormatDigest("2026-03-13", ledger.Summary{Reports: 3, TotalPhotos: 4})
	assert.Contains(t, text, "Photos received: 4")
}
