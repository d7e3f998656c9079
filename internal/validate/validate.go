// Package validate checks the individual fields of an incident report.
// Every function is pure: it takes a raw value and returns either the
// accepted, normalized value or a *Rejection describing why it was refused.
package validate

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxPhotos is the number of photos a single report may carry.
const MaxPhotos = 5

// Text length limits, in runes.
const (
	MaxVehicleRunes  = 500
	MaxIncidentRunes = 2000
)

// Field names used in rejections.
const (
	FieldPhone    = "phone"
	FieldLocation = "location"
	FieldVehicle  = "vehicle"
	FieldIncident = "incident"
	FieldPhoto    = "photo"
)

// Rejection is returned when a value is refused. It is recovered locally by
// re-prompting the user and never surfaces as a system error.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return r.Field + ": " + r.Reason
}

// Is lets errors.Is(err, ErrCapacityExceeded) match any capacity rejection.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return r.Field == t.Field && r.Reason == t.Reason
}

// Capacity reports whether the rejection is the photo capacity limit.
func (r *Rejection) Capacity() bool {
	return r.Field == FieldPhoto && r.Reason == ErrCapacityExceeded.Reason
}

// ErrCapacityExceeded is returned by Photo once MaxPhotos refs are held.
var ErrCapacityExceeded = &Rejection{Field: FieldPhoto, Reason: "photo capacity exceeded"}

func reject(field, reason string) error {
	return &Rejection{Field: field, Reason: reason}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Phone normalizes a contact number. Separators are dropped, a leading "+"
// is kept, and 7 to 15 digits are required (E.164 upper bound).
func Phone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", reject(FieldPhone, "phone number is empty")
	}

	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", reject(FieldPhone, "phone number contains invalid characters")
		}
	}
	if digits < 7 || digits > 15 {
		return "", reject(FieldPhone, "phone number must have 7 to 15 digits")
	}
	return b.String(), nil
}

// Location checks a coordinate pair. present is false when the inbound event
// carried no location payload at all.
func Location(lat, lon float64, present bool) (float64, float64, error) {
	if !present {
		return 0, 0, reject(FieldLocation, "location missing coordinates")
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return 0, 0, reject(FieldLocation, "location coordinates are not numbers")
	}
	if lat < -90 || lat > 90 {
		return 0, 0, reject(FieldLocation, "latitude out of range")
	}
	if lon < -180 || lon > 180 {
		return 0, 0, reject(FieldLocation, "longitude out of range")
	}
	return lat, lon, nil
}

// Text trims free text and enforces a non-empty value of at most maxRunes.
func Text(field, raw string, maxRunes int) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", reject(field, "text is empty")
	}
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return "", reject(field, "text is too long")
	}
	return s, nil
}

// Photo accepts a media reference when fewer than MaxPhotos are held.
func Photo(ref string, current int) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", reject(FieldPhoto, "photo missing file reference")
	}
	if current >= MaxPhotos {
		return "", ErrCapacityExceeded
	}
	return ref, nil
}
