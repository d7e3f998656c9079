package ledger

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/roadcall/internal/db"
	"github.com/zulandar/roadcall/internal/models"
	"github.com/zulandar/roadcall/internal/submit"
)

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
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func report(id, user string, submitted time.Time, photos ...string) submit.Report {
	return submit.Report{
		ID:          id,
		UserID:      user,
		ClientName:  "Ann",
		Phone:       "+15550100",
		Latitude:    40,
		Longitude:   -75,
		Vehicle:     "Toyota",
		Incident:    "crash",
		Photos:      photos,
		CreatedAt:   submitted.Add(-10 * time.Minute),
		SubmittedAt: submitted,
	}
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestRecord_Get(t *testing.T) {
	l, _ := New(openTestDB(t))
	ctx := context.Background()

	if err := l.Record(ctx, report("R1", "42", day.Add(9*time.Hour), "p1", "p2")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := l.Get(ctx, "R1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PhotoCount != 2 {
		t.Errorf("PhotoCount = %d, want 2", got.PhotoCount)
	}
	if got.PhotoRefs != `["p1","p2"]` {
		t.Errorf("PhotoRefs = %q, want %q", got.PhotoRefs, `["p1","p2"]`)
	}
	if got.Phone != "+15550100" {
		t.Errorf("Phone = %q, want %q", got.Phone, "+15550100")
	}
}

func TestRecord_IsIdempotentPerReport(t *testing.T) {
	gdb := openTestDB(t)
	l, _ := New(gdb)
	ctx := context.Background()

	r := report("R1", "42", day.Add(9*time.Hour))
	if err := l.Record(ctx, r); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	r.Photos = []string{"p1"}
	if err := l.Record(ctx, r); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	n, err := l.CountSince(ctx, day)
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	got, _ := l.Get(ctx, "R1")
	if got.PhotoCount != 1 {
		t.Errorf("PhotoCount = %d after retry, want 1", got.PhotoCount)
	}
}

func TestSummarize(t *testing.T) {
	l, _ := New(openTestDB(t))
	ctx := context.Background()

	for _, r := range []submit.Report{
		report("R1", "a", day.Add(8*time.Hour), "p1", "p2"),
		report("R2", "a", day.Add(12*time.Hour)),
		report("R3", "b", day.Add(20*time.Hour), "p3"),
		report("R4", "c", day.Add(30*time.Hour)), // next day
	} {
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	s, err := l.Summarize(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Reports != 3 || s.Users != 2 || s.WithPhotos != 2 || s.TotalPhotos != 3 {
		t.Errorf("Summary = %+v, want 3 reports, 2 users, 2 with photos, 3 photos", s)
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "R4" || recent[1].ID != "R3" {
		t.Errorf("Recent = %v, want [R4 R3]", ids(recent))
	}
}

func TestClaimDigest_OncePerDay(t *testing.T) {
	l, _ := New(openTestDB(t))
	ctx := context.Background()

	ok, err := l.ClaimDigest(ctx, "2026-03-14", 3)
	if err != nil || !ok {
		t.Fatalf("first ClaimDigest = %v, %v; want true, nil", ok, err)
	}
	ok, err = l.ClaimDigest(ctx, "2026-03-14", 3)
	if err != nil || ok {
		t.Fatalf("second ClaimDigest = %v, %v; want false, nil", ok, err)
	}
}

func ids(rows []models.Report) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestCountToday(t *testing.T) {
	l, _ := New(openTestDB(t))
	ctx := context.Background()

	for _, r := range []submit.Report{
		report("r1", "u1", day.Add(-time.Hour)),
		report("r2", "u1", day.Add(2*time.Hour)),
		report("r3", "u2", day.Add(20*time.Hour)),
	} {
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s): %v", r.ID, err)
		}
	}

	n, err := l.CountToday(ctx, day.Add(21*time.Hour))
	if err != nil {
		t.Fatalf("CountToday: %v", err)
	}
	if n != 2 {
		t.Errorf("CountToday = %d, want 2", n)
	}
}

func TestStartOfDay_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	got := StartOfDay(time.Date(2026, 3, 14, 1, 30, 0, 0, loc))
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("StartOfDay = %v, want %v", got, want)
	}
}
