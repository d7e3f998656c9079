// Package ledger keeps a durable record of submitted reports.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/roadcall/internal/models"
	"github.com/zulandar/roadcall/internal/submit"
)

// Ledger writes reports through GORM. It implements submit.Recorder.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger on an already migrated database.
func New(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: db is required")
	}
	return &Ledger{db: db}, nil
}

// Name implements submit.Recorder.
func (l *Ledger) Name() string { return "ledger" }

// Record upserts the report by ID, so a retried submission keeps one row.
func (l *Ledger) Record(ctx context.Context, r submit.Report) error {
	refs, err := json.Marshal(r.Photos)
	if err != nil {
		return fmt.Errorf("ledger: marshal photo refs: %w", err)
	}
	if r.Photos == nil {
		refs = []byte("[]")
	}
	row := models.Report{
		ID:              r.ID,
		UserID:          r.UserID,
		ClientName:      r.ClientName,
		Username:        r.Username,
		Phone:           r.Phone,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		Vehicle:         r.Vehicle,
		Incident:        r.Incident,
		PhotoCount:      len(r.Photos),
		PhotoRefs:       string(refs),
		ReportCreatedAt: r.CreatedAt.UTC(),
		SubmittedAt:     r.SubmittedAt.UTC(),
	}

	result := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"photo_count", "photo_refs", "submitted_at", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("ledger: record %s: %w", r.ID, result.Error)
	}
	return nil
}

// Get loads one report by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Report, error) {
	var row models.Report
	if err := l.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return &row, nil
}

// Summary aggregates reports submitted in [From, To).
type Summary struct {
	From, To    time.Time
	Reports     int64
	Users       int64
	WithPhotos  int64
	TotalPhotos int64
}

// Summarize counts the reports submitted in [from, to).
func (l *Ledger) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	s := Summary{From: from, To: to}
	q := func() *gorm.DB {
		return l.db.WithContext(ctx).Model(&models.Report{}).
			Where("submitted_at >= ? AND submitted_at < ?", from.UTC(), to.UTC())
	}

	if err := q().Count(&s.Reports).Error; err != nil {
		return s, fmt.Errorf("ledger: count reports: %w", err)
	}
	if err := q().Distinct("user_id").Count(&s.Users).Error; err != nil {
		return s, fmt.Errorf("ledger: count users: %w", err)
	}
	if err := q().Where("photo_count > 0").Count(&s.WithPhotos).Error; err != nil {
		return s, fmt.Errorf("ledger: count reports with photos: %w", err)
	}
	var total struct{ N int64 }
	if err := q().Select("COALESCE(SUM(photo_count), 0) AS n").Scan(&total).Error; err != nil {
		return s, fmt.Errorf("ledger: sum photos: %w", err)
	}
	s.TotalPhotos = total.N
	return s, nil
}

// CountSince returns the number of reports submitted at or after since.
func (l *Ledger) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.Report{}).
		Where("submitted_at >= ?", since.UTC()).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: count since %s: %w", since.Format(time.RFC3339), err)
	}
	return n, nil
}

// CountToday returns the number of reports submitted since midnight of
// now's calendar day, in now's location.
func (l *Ledger) CountToday(ctx context.Context, now time.Time) (int64, error) {
	return l.CountSince(ctx, StartOfDay(now))
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Recent returns the latest reports, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.Report
	err := l.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return rows, nil
}

// ClaimDigest records that the digest for day is being posted. It returns
// false when another run already claimed that day.
func (l *Ledger) ClaimDigest(ctx context.Context, day string, reports int) (bool, error) {
	run := models.DigestRun{Day: day, Reports: reports}
	result := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&run)
	if result.Error != nil {
		return false, fmt.Errorf("ledger: claim digest %s: %w", day, result.Error)
	}
	return result.RowsAffected == 1, nil
}
