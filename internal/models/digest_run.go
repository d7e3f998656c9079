package models

import "time"

// DigestRun records a daily summary posted to the operator, so a restart
// on the same day does not post it twice.
type DigestRun struct {
	Day       string `gorm:"primaryKey;size:10"` // YYYY-MM-DD in the digest's zone
	Reports   int
	CreatedAt time.Time
}
