// Package intake holds the per-user conversation that collects an incident
// report: the session record, its store, the transition function that moves a
// session through the required steps, and the service that drives it.
package intake

import (
	"time"

	"github.com/zulandar/roadcall/internal/validate"
)

// MaxPhotos is the number of photos a report may carry.
const MaxPhotos = validate.MaxPhotos

// Stage is the outstanding required step of a session.
type Stage int

// Stages in canonical order. NextStage always returns the first unmet one.
const (
	AwaitingPhone Stage = iota
	AwaitingLocation
	AwaitingVehicle
	AwaitingIncident
	AwaitingPhotosOrSubmit
)

var stageNames = map[Stage]string{
	AwaitingPhone:          "awaiting_phone",
	AwaitingLocation:       "awaiting_location",
	AwaitingVehicle:        "awaiting_vehicle",
	AwaitingIncident:       "awaiting_incident",
	AwaitingPhotosOrSubmit: "awaiting_photos_or_submit",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// Stages lists every stage in canonical order.
func Stages() []Stage {
	return []Stage{AwaitingPhone, AwaitingLocation, AwaitingVehicle, AwaitingIncident, AwaitingPhotosOrSubmit}
}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusSubmitted Status = "submitted"
	StatusCancelled Status = "cancelled"
)

// Profile is the informational identity captured at Start.
type Profile struct {
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeliveryProgress records which parts of a report already reached the
// operator, so a retried submission never resends them.
type DeliveryProgress struct {
	TextDelivered bool `json:"text_delivered"`
	// PhotosDone is true once photo delivery ran to completion (whatever the
	// per-photo outcome).
	PhotosDone bool `json:"photos_done"`
}

// Session is one user's in-progress report.
type Session struct {
	UserID          string           `json:"user_id"`
	DisplayName     string           `json:"display_name"`
	Username        string           `json:"username"`
	Phone           string           `json:"phone,omitempty"`
	Location        *Coordinates     `json:"location,omitempty"`
	VehicleDetails  string           `json:"vehicle_details,omitempty"`
	IncidentDetails string           `json:"incident_details,omitempty"`
	Photos          []string         `json:"photos,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Stage           Stage            `json:"stage"`
	Status          Status           `json:"status"`
	ReportID        string           `json:"report_id,omitempty"`
	Delivery        DeliveryProgress `json:"delivery"`
}

// NewSession returns a fresh, empty session for userID.
func NewSession(userID string, p Profile, now time.Time) Session {
	return Session{
		UserID:      userID,
		DisplayName: p.DisplayName,
		Username:    p.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stage:       AwaitingPhone,
		Status:      StatusActive,
	}
}

// Clone returns a deep copy so callers never alias stored state.
func (s Session) Clone() Session {
	c := s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.Photos != nil {
		c.Photos = append([]string(nil), s.Photos...)
	}
	return c
}

// Has reports whether the field required by stage st is filled.
func (s *Session) Has(st Stage) bool {
	switch st {
	case AwaitingPhone:
		return s.Phone != ""
	case AwaitingLocation:
		return s.Location != nil
	case AwaitingVehicle:
		return s.VehicleDetails != ""
	case AwaitingIncident:
		return s.IncidentDetails != ""
	}
	return true
}

// NextStage returns the first unmet required field in canonical order, or
// AwaitingPhotosOrSubmit when all required fields are present.
func NextStage(s *Session) Stage {
	for _, st := range Stages() {
		if !s.Has(st) {
			return st
		}
	}
	return AwaitingPhotosOrSubmit
}

// Missing lists the unmet required stages in canonical order.
func Missing(s *Session) []Stage {
	var out []Stage
	for _, st := range Stages()[:AwaitingPhotosOrSubmit] {
		if !s.Has(st) {
			out = append(out, st)
		}
	}
	return out
}

// Complete reports whether the session may be submitted.
func Complete(s *Session) bool {
	return len(Missing(s)) == 0
}
