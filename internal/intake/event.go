package intake

// EventType distinguishes inbound events.
type EventType int

const (
	EventStart EventType = iota
	EventFieldUpdate
	EventSubmit
	EventCancel
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventFieldUpdate:
		return "field_update"
	case EventSubmit:
		return "submit"
	case EventCancel:
		return "cancel"
	}
	return "unknown"
}

// FieldKind is the kind of data carried by a field update.
type FieldKind int

const (
	KindPhone FieldKind = iota
	KindLocation
	KindVehicleText
	KindIncidentText
	KindPhoto
	// KindFreeText is plain text whose field is not known to the transport.
	// It resolves to the text field the current stage expects.
	KindFreeText
)

func (k FieldKind) String() string {
	switch k {
	case KindPhone:
		return "phone"
	case KindLocation:
		return "location"
	case KindVehicleText:
		return "vehicle_text"
	case KindIncidentText:
		return "incident_text"
	case KindPhoto:
		return "photo"
	case KindFreeText:
		return "free_text"
	}
	return "unknown"
}

// Value is the raw payload of a field update. Only the member matching the
// kind is read.
type Value struct {
	Text     string
	Location *Coordinates
	MediaRef string
}

// Event is a typed inbound event for one user.
type Event struct {
	Type    EventType
	UserID  string
	Profile Profile // Start only
	Kind    FieldKind
	Value   Value
}

// Start builds a Start event.
func Start(userID string, p Profile) Event {
	return Event{Type: EventStart, UserID: userID, Profile: p}
}

// FieldUpdate builds a FieldUpdate event.
func FieldUpdate(userID string, kind FieldKind, v Value) Event {
	return Event{Type: EventFieldUpdate, UserID: userID, Kind: kind, Value: v}
}

// Submit builds a Submit command.
func Submit(userID string) Event {
	return Event{Type: EventSubmit, UserID: userID}
}

// Cancel builds a Cancel command.
func Cancel(userID string) Event {
	return Event{Type: EventCancel, UserID: userID}
}

// EffectType distinguishes outbound effects.
type EffectType int

const (
	EffectPrompt EffectType = iota
	EffectNotice
	EffectSubmissionResult
)

// NoticeCode classifies a notice so adapters and tests need not parse text.
type NoticeCode string

const (
	NoticeWelcome          NoticeCode = "welcome"
	NoticeRejected         NoticeCode = "rejected"
	NoticeCorrective       NoticeCode = "corrective"
	NoticeCapacityExceeded NoticeCode = "capacity_exceeded"
	NoticePhotoAccepted    NoticeCode = "photo_accepted"
	NoticeMissingFields    NoticeCode = "missing_fields"
	NoticeMissingSession   NoticeCode = "missing_session"
	NoticeCancelled        NoticeCode = "cancelled"
	NoticeExpired          NoticeCode = "expired"
)

// Effect is an outbound instruction for the inbound adapter to render.
type Effect struct {
	Type    EffectType
	UserID  string
	Stage   Stage      // Prompt: the step being asked for
	Code    NoticeCode // Notice only
	Message string
	Success bool   // SubmissionResult only
	Detail  string // SubmissionResult: phone on success, reason on failure
}

// Prompt builds a prompt effect for stage st.
func Prompt(userID string, st Stage) Effect {
	return Effect{Type: EffectPrompt, UserID: userID, Stage: st, Message: promptText(st)}
}

// Notice builds a notice effect.
func Notice(userID string, code NoticeCode, msg string) Effect {
	return Effect{Type: EffectNotice, UserID: userID, Code: code, Message: msg}
}

// SubmissionResult builds the final result of a Submit command.
func SubmissionResult(userID string, success bool, detail string) Effect {
	msg := submitFailedText
	if success {
		msg = submitOKText(detail)
	}
	return Effect{Type: EffectSubmissionResult, UserID: userID, Success: success, Detail: detail, Message: msg}
}
