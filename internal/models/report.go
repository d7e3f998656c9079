package models

import "time"

// Report is one submitted incident report, written by the ledger after the
// operator received it. ID is the report's ULID.
type Report struct {
	ID              string  `gorm:"primaryKey;size:26"`
	UserID          string  `gorm:"size:64;not null;index"`
	ClientName      string  `gorm:"size:255"`
	Username        string  `gorm:"size:64"`
	Phone           string  `gorm:"size:32;not null"`
	Latitude        float64 `gorm:"not null"`
	Longitude       float64 `gorm:"not null"`
	Vehicle         string  `gorm:"type:text"`
	Incident        string  `gorm:"type:text"`
	PhotoCount      int     `gorm:"default:0"`
	PhotoRefs       string  `gorm:"type:text"` // JSON array of media refs
	ReportCreatedAt time.Time
	SubmittedAt     time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
