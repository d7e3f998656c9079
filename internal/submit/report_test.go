package submit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/roadcall/internal/intake"
)

var created = time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC)

func completeSession() intake.Session {
	s := intake.NewSession("42", intake.Profile{DisplayName: "Ann Lee", Username: "annlee"}, created)
	s.Phone = "+15550100"
	s.Location = &intake.Coordinates{Latitude: 40, Longitude: -75}
	s.VehicleDetails = "Toyota Camry, A123BC"
	s.IncidentDetails = "Rear-ended at a light"
	s.Stage = intake.AwaitingPhotosOrSubmit
	s.ReportID = "01HZX0000000000000000000AA"
	return s
}

func TestRender_Text(t *testing.T) {
	r, err := Render(completeSession(), created.Add(time.Minute))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := r.Text()

	for _, want := range []string{
		"👤 Client: Ann Lee",
		"📱 Phone: +15550100",
		"https://maps.google.com/?q=40,-75",
		"🚗 Vehicle: Toyota Camry, A123BC",
		"📝 Incident:\nRear-ended at a light",
		"📷 Photos: 0",
		"🕒 Created: 2026-03-14 09:30:05",
		"🆔 User ID: 42",
		"👤 Username: @annlee",
		"🧾 Report: 01HZX0000000000000000000AA",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q\n%s", want, text)
		}
	}
}

func TestRender_MissingUsername(t *testing.T) {
	s := completeSession()
	s.Username = ""
	s.DisplayName = ""
	r, _ := Render(s, created)

	if got := r.Handle(); got != "not provided" {
		t.Errorf("Handle = %q, want %q", got, "not provided")
	}
	if got := r.PhotoCaption(); got != "Photo 1 from not provided" {
		t.Errorf("PhotoCaption = %q", got)
	}
}

func TestRender_FractionalCoordinates(t *testing.T) {
	s := completeSession()
	s.Location = &intake.Coordinates{Latitude: 55.751244, Longitude: 37.618423}
	r, _ := Render(s, created)
	if got, want := r.MapURL(), "https://maps.google.com/?q=55.751244,37.618423"; got != want {
		t.Errorf("MapURL = %q, want %q", got, want)
	}
}

func TestRender_Incomplete(t *testing.T) {
	s := completeSession()
	s.IncidentDetails = ""
	if _, err := Render(s, created); !errors.Is(err, ErrIncomplete) {
		t.Errorf("err = %v, want ErrIncomplete", err)
	}
}

func TestRender_CopiesPhotos(t *testing.T) {
	s := completeSession()
	s.Photos = []string{"a"}
	r, _ := Render(s, created)
	r.Photos[0] = "mutated"
	if s.Photos[0] != "a" {
		t.Error("report aliases the session's photos")
	}
}
