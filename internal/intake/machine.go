package intake

import (
	"time"

	"github.com/zulandar/roadcall/internal/validate"
)

// Transition is the outcome of applying one event to a session.
type Transition struct {
	Effects []Effect

	// Reset asks the caller to replace any session with a fresh one built
	// from the Start event's profile.
	Reset bool
	// Submit asks the caller to run the submission pipeline on the session.
	Submit bool
	// Delete asks the caller to remove the session.
	Delete bool

	// Rejection is set when a field value was refused.
	Rejection *validate.Rejection
}

func (t *Transition) emit(e ...Effect) {
	t.Effects = append(t.Effects, e...)
}

// Apply moves s through one event. s is nil when the user has no session;
// a session that is no longer active is treated the same and deleted.
// Apply mutates s in place and never touches a store or a transport; the
// returned Transition tells the caller what else to do.
func Apply(s *Session, ev Event, now time.Time) Transition {
	var t Transition

	switch ev.Type {
	case EventStart:
		t.Reset = true
		t.emit(
			Notice(ev.UserID, NoticeWelcome, welcomeText(ev.Profile.DisplayName)),
			Prompt(ev.UserID, AwaitingPhone),
		)
		return t

	case EventCancel:
		if s != nil {
			s.Status = StatusCancelled
			s.UpdatedAt = now
			t.Delete = true
		}
		t.emit(Notice(ev.UserID, NoticeCancelled, cancelledText))
		return t
	}

	if s == nil {
		t.emit(Notice(ev.UserID, NoticeMissingSession, missingSessionText))
		return t
	}
	if s.Status != StatusActive {
		// Left behind by a submission whose cleanup failed; the report is
		// already with the operator.
		t.Delete = true
		t.emit(Notice(ev.UserID, NoticeMissingSession, missingSessionText))
		return t
	}
	s.UpdatedAt = now

	switch ev.Type {
	case EventFieldUpdate:
		applyField(s, ev, &t)
	case EventSubmit:
		applySubmit(s, ev, &t)
	}
	return t
}

// resolveKind maps free text onto the text field the stage expects.
func resolveKind(k FieldKind, st Stage) FieldKind {
	if k != KindFreeText {
		return k
	}
	switch st {
	case AwaitingVehicle:
		return KindVehicleText
	case AwaitingIncident:
		return KindIncidentText
	}
	return KindFreeText
}

var stageKind = map[Stage]FieldKind{
	AwaitingPhone:          KindPhone,
	AwaitingLocation:       KindLocation,
	AwaitingVehicle:        KindVehicleText,
	AwaitingIncident:       KindIncidentText,
	AwaitingPhotosOrSubmit: KindPhoto,
}

func applyField(s *Session, ev Event, t *Transition) {
	kind := resolveKind(ev.Kind, s.Stage)
	if kind != stageKind[s.Stage] {
		t.emit(Notice(ev.UserID, NoticeCorrective, correctiveText(s.Stage)))
		return
	}

	if kind == KindPhoto {
		ref, err := validate.Photo(ev.Value.MediaRef, len(s.Photos))
		if err != nil {
			if r, ok := validate.AsRejection(err); ok && r.Capacity() {
				t.Rejection = r
				t.emit(Notice(ev.UserID, NoticeCapacityExceeded, capacityText()))
				return
			}
			reject(s, ev, t, err)
			return
		}
		s.Photos = append(s.Photos, ref)
		t.emit(Notice(ev.UserID, NoticePhotoAccepted, photoAcceptedText(len(s.Photos))))
		return
	}

	if err := setField(s, kind, ev.Value); err != nil {
		reject(s, ev, t, err)
		return
	}
	s.Stage = NextStage(s)
	t.emit(Prompt(ev.UserID, s.Stage))
}

// reject re-prompts for the current stage, leaving it unchanged.
func reject(s *Session, ev Event, t *Transition, err error) {
	reason := err.Error()
	if r, ok := validate.AsRejection(err); ok {
		t.Rejection = r
		reason = r.Reason
	}
	t.emit(
		Notice(ev.UserID, NoticeRejected, rejectedText(reason)),
		Prompt(ev.UserID, s.Stage),
	)
}

func setField(s *Session, kind FieldKind, v Value) error {
	switch kind {
	case KindPhone:
		phone, err := validate.Phone(v.Text)
		if err != nil {
			return err
		}
		s.Phone = phone
	case KindLocation:
		var lat, lon float64
		if v.Location != nil {
			lat, lon = v.Location.Latitude, v.Location.Longitude
		}
		lat, lon, err := validate.Location(lat, lon, v.Location != nil)
		if err != nil {
			return err
		}
		s.Location = &Coordinates{Latitude: lat, Longitude: lon}
	case KindVehicleText:
		text, err := validate.Text(validate.FieldVehicle, v.Text, validate.MaxVehicleRunes)
		if err != nil {
			return err
		}
		s.VehicleDetails = text
	case KindIncidentText:
		text, err := validate.Text(validate.FieldIncident, v.Text, validate.MaxIncidentRunes)
		if err != nil {
			return err
		}
		s.IncidentDetails = text
	}
	return nil
}

func applySubmit(s *Session, ev Event, t *Transition) {
	missing := Missing(s)
	if len(missing) == 0 {
		t.Submit = true
		return
	}
	s.Stage = missing[0]
	t.emit(
		Notice(ev.UserID, NoticeMissingFields, missingFieldsText(missing)),
		Prompt(ev.UserID, s.Stage),
	)
}
