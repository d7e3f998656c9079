// Package submit turns a completed intake session into an operator report
// and delivers it.
package submit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/roadcall/internal/intake"
)

// TimeLayout is the layout of report timestamps shown to the operator.
const TimeLayout = "2006-01-02 15:04:05"

// Report is the canonical, transport-neutral form of a submission.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientName  string    `json:"client_name"`
	Username    string    `json:"username,omitempty"`
	Phone       string    `json:"phone"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Vehicle     string    `json:"vehicle"`
	Incident    string    `json:"incident"`
	Photos      []string  `json:"photos,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Render builds a Report from a completed session.
func Render(s intake.Session, submittedAt time.Time) (Report, error) {
	if !intake.Complete(&s) {
		return Report{}, ErrIncomplete
	}
	return Report{
		ID:          s.ReportID,
		UserID:      s.UserID,
		ClientName:  strings.TrimSpace(s.DisplayName),
		Username:    s.Username,
		Phone:       s.Phone,
		Latitude:    s.Location.Latitude,
		Longitude:   s.Location.Longitude,
		Vehicle:     s.VehicleDetails,
		Incident:    s.IncidentDetails,
		Photos:      append([]string(nil), s.Photos...),
		CreatedAt:   s.CreatedAt,
		SubmittedAt: submittedAt,
	}, nil
}

// MapURL links the incident location on Google Maps.
func (r Report) MapURL() string {
	return "https://maps.google.com/?q=" + formatCoord(r.Latitude) + "," + formatCoord(r.Longitude)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Name returns the client name, or a placeholder when none was captured.
func (r Report) Name() string {
	if r.ClientName == "" {
		return "not provided"
	}
	return r.ClientName
}

// Handle returns "@username", or "not provided".
func (r Report) Handle() string {
	if r.Username == "" {
		return "not provided"
	}
	return "@" + r.Username
}

// Text is the operator message.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString("🚨 NEW ROADSIDE INCIDENT REPORT\n\n")
	if r.ID != "" {
		fmt.Fprintf(&b, "🧾 Report: %s\n", r.ID)
	}
	fmt.Fprintf(&b, "👤 Client: %s\n", r.Name())
	fmt.Fprintf(&b, "📱 Phone: %s\n", r.Phone)
	fmt.Fprintf(&b, "📍 Location: %s\n", r.MapURL())
	fmt.Fprintf(&b, "🚗 Vehicle: %s\n", r.Vehicle)
	fmt.Fprintf(&b, "📝 Incident:\n%s\n", r.Incident)
	fmt.Fprintf(&b, "📷 Photos: %d\n", len(r.Photos))
	fmt.Fprintf(&b, "🕒 Created: %s\n", r.CreatedAt.Format(TimeLayout))
	fmt.Fprintf(&b, "🆔 User ID: %s\n", r.UserID)
	fmt.Fprintf(&b, "👤 Username: %s", r.Handle())
	return b.String()
}

// PhotoCaption is attached to the first delivered photo.
func (r Report) PhotoCaption() string {
	return "Photo 1 from " + r.Name()
}
