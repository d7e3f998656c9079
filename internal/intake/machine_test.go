package intake

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func codes(effects []Effect) []NoticeCode {
	var out []NoticeCode
	for _, e := range effects {
		if e.Type == EffectNotice {
			out = append(out, e.Code)
		}
	}
	return out
}

func lastPrompt(t *testing.T, effects []Effect) Stage {
	t.Helper()
	for i := len(effects) - 1; i >= 0; i-- {
		if effects[i].Type == EffectPrompt {
			return effects[i].Stage
		}
	}
	t.Fatalf("no prompt in %+v", effects)
	return -1
}

// filled returns a session with every required field set.
func filled() *Session {
	s := NewSession("42", Profile{DisplayName: "Ann", Username: "ann"}, t0)
	s.Phone = "+15550100"
	s.Location = &Coordinates{Latitude: 40, Longitude: -75}
	s.VehicleDetails = "Toyota Camry"
	s.IncidentDetails = "rear-ended at a light"
	s.Stage = AwaitingPhotosOrSubmit
	return &s
}

func TestApply_Start(t *testing.T) {
	tr := Apply(nil, Start("42", Profile{DisplayName: "Ann"}), t0)
	assert.True(t, tr.Reset)
	assert.Equal(t, []NoticeCode{NoticeWelcome}, codes(tr.Effects))
	assert.Equal(t, AwaitingPhone, lastPrompt(t, tr.Effects))
	assert.Contains(t, tr.Effects[0].Message, "Ann")
}

func TestApply_HappyPath(t *testing.T) {
	s := NewSession("42", Profile{}, t0)

	steps := []struct {
		ev   Event
		want Stage
	}{
		{FieldUpdate("42", KindPhone, Value{Text: "+1 555 0100"}), AwaitingLocation},
		{FieldUpdate("42", KindLocation, Value{Location: &Coordinates{Latitude: 40, Longitude: -75}}), AwaitingVehicle},
		{FieldUpdate("42", KindFreeText, Value{Text: "Toyota Camry"}), AwaitingIncident},
		{FieldUpdate("42", KindFreeText, Value{Text: "rear-ended"}), AwaitingPhotosOrSubmit},
	}
	for i, st := range steps {
		tr := Apply(&s, st.ev, t0.Add(time.Duration(i)*time.Minute))
		require.Empty(t, codes(tr.Effects), "step %d", i)
		assert.Equal(t, st.want, s.Stage, "step %d", i)
		assert.Equal(t, st.want, lastPrompt(t, tr.Effects), "step %d", i)
	}

	assert.Equal(t, "+15550100", s.Phone)
	assert.Equal(t, "Toyota Camry", s.VehicleDetails)
	assert.Equal(t, "rear-ended", s.IncidentDetails)
	assert.Equal(t, t0.Add(3*time.Minute), s.UpdatedAt)

	tr := Apply(&s, Submit("42"), t0)
	assert.True(t, tr.Submit)
	assert.Empty(t, tr.Effects)
}

func TestApply_RejectedValueKeepsStage(t *testing.T) {
	s := NewSession("42", Profile{}, t0)
	tr := Apply(&s, FieldUpdate("42", KindPhone, Value{Text: "call me"}), t0)

	assert.Equal(t, AwaitingPhone, s.Stage)
	assert.Empty(t, s.Phone)
	assert.Equal(t, []NoticeCode{NoticeRejected}, codes(tr.Effects))
	assert.Equal(t, AwaitingPhone, lastPrompt(t, tr.Effects))
	require.NotNil(t, tr.Rejection)
	assert.Equal(t, "phone", tr.Rejection.Field)
}

func TestApply_LocationWithoutCoordinates(t *testing.T) {
	s := NewSession("42", Profile{}, t0)
	s.Phone = "+15550100"
	s.Stage = AwaitingLocation

	tr := Apply(&s, FieldUpdate("42", KindLocation, Value{}), t0)
	assert.Equal(t, AwaitingLocation, s.Stage)
	assert.Nil(t, s.Location)
	require.Len(t, tr.Effects, 2)
	assert.Contains(t, tr.Effects[0].Message, "location missing coordinates")
}

func TestApply_MismatchedKindIsCorrective(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		kind  FieldKind
	}{
		{"text while awaiting phone", AwaitingPhone, KindFreeText},
		{"photo while awaiting location", AwaitingLocation, KindPhoto},
		{"phone while awaiting vehicle", AwaitingVehicle, KindPhone},
		{"free text while awaiting photos", AwaitingPhotosOrSubmit, KindFreeText},
		{"incident text while awaiting vehicle", AwaitingVehicle, KindIncidentText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := filled()
			s.Stage = tt.stage
			before := s.Clone()

			tr := Apply(s, FieldUpdate("42", tt.kind, Value{Text: "x", MediaRef: "file"}), t0.Add(time.Hour))
			assert.Equal(t, []NoticeCode{NoticeCorrective}, codes(tr.Effects))
			assert.Equal(t, tt.stage, s.Stage)
			assert.Equal(t, before.Photos, s.Photos)
			assert.Equal(t, before.Phone, s.Phone)
		})
	}
}

func TestApply_PhotoCapacity(t *testing.T) {
	s := filled()
	for i := 1; i <= MaxPhotos; i++ {
		tr := Apply(s, FieldUpdate("42", KindPhoto, Value{MediaRef: "photo-" + string(rune('0'+i))}), t0)
		require.Equal(t, []NoticeCode{NoticePhotoAccepted}, codes(tr.Effects), "photo %d", i)
	}
	require.Len(t, s.Photos, MaxPhotos)
	assert.Equal(t, "photo-1", s.Photos[0])

	tr := Apply(s, FieldUpdate("42", KindPhoto, Value{MediaRef: "photo-6"}), t0)
	assert.Equal(t, []NoticeCode{NoticeCapacityExceeded}, codes(tr.Effects))
	assert.Len(t, s.Photos, MaxPhotos)
	assert.NotContains(t, s.Photos, "photo-6")
	assert.Equal(t, AwaitingPhotosOrSubmit, s.Stage)
}

func TestApply_PhotoAckCountsDown(t *testing.T) {
	s := filled()
	tr := Apply(s, FieldUpdate("42", KindPhoto, Value{MediaRef: "a"}), t0)
	assert.Contains(t, tr.Effects[0].Message, "#1")
	assert.Contains(t, tr.Effects[0].Message, "send 4 more")
}

func TestApply_SubmitIncomplete(t *testing.T) {
	s := NewSession("42", Profile{}, t0)
	s.Phone = "+15550100"
	s.Stage = AwaitingLocation

	for i := 0; i < 2; i++ {
		tr := Apply(&s, Submit("42"), t0)
		assert.False(t, tr.Submit)
		assert.Equal(t, AwaitingLocation, s.Stage)
		require.Equal(t, []NoticeCode{NoticeMissingFields}, codes(tr.Effects))
		msg := tr.Effects[0].Message
		assert.True(t, strings.Contains(msg, "location") && strings.Contains(msg, "vehicle details") && strings.Contains(msg, "incident description"), msg)
		assert.NotContains(t, msg, "phone")
		assert.Equal(t, AwaitingLocation, lastPrompt(t, tr.Effects))
	}
}

func TestApply_Cancel(t *testing.T) {
	s := filled()
	tr := Apply(s, Cancel("42"), t0)
	assert.True(t, tr.Delete)
	assert.Equal(t, StatusCancelled, s.Status)
	assert.Equal(t, []NoticeCode{NoticeCancelled}, codes(tr.Effects))

	tr = Apply(nil, Cancel("42"), t0)
	assert.False(t, tr.Delete)
	assert.Equal(t, []NoticeCode{NoticeCancelled}, codes(tr.Effects))
}

func TestApply_NoSession(t *testing.T) {
	for _, ev := range []Event{
		FieldUpdate("42", KindPhone, Value{Text: "+15550100"}),
		Submit("42"),
	} {
		tr := Apply(nil, ev, t0)
		assert.Equal(t, []NoticeCode{NoticeMissingSession}, codes(tr.Effects), ev.Type.String())
		assert.False(t, tr.Submit)
	}
}

func TestNextStage_CanonicalOrder(t *testing.T) {
	s := NewSession("42", Profile{}, t0)
	s.VehicleDetails = "car"
	s.IncidentDetails = "crash"
	assert.Equal(t, AwaitingPhone, NextStage(&s))
	assert.Equal(t, []Stage{AwaitingPhone, AwaitingLocation}, Missing(&s))

	s.Phone = "+15550100"
	assert.Equal(t, AwaitingLocation, NextStage(&s))

	s.Location = &Coordinates{}
	assert.Equal(t, AwaitingPhotosOrSubmit, NextStage(&s))
	assert.True(t, Complete(&s))
}

func TestApply_InactiveSessionIsMissing(t *testing.T) {
	for _, ev := range []Event{
		FieldUpdate("42", KindPhoto, Value{MediaRef: "late-photo"}),
		Submit("42"),
	} {
		s := filled()
		s.Status = StatusSubmitted
		s.Delivery = DeliveryProgress{TextDelivered: true, PhotosDone: true}

		tr := Apply(s, ev, t0.Add(time.Minute))
		assert.Equal(t, []NoticeCode{NoticeMissingSession}, codes(tr.Effects), ev.Type.String())
		assert.True(t, tr.Delete, "a submitted session should be cleaned up")
		assert.False(t, tr.Submit)
		assert.Empty(t, s.Photos)
		assert.True(t, s.UpdatedAt.Equal(t0), "an inactive session is not touched")
	}
}
