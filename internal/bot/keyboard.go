package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zulandar/roadcall/internal/intake"
)

// Reply keyboard labels.
const (
	ButtonPhone    = "📱 Share phone number"
	ButtonLocation = "📍 Share location"
	ButtonVehicle  = "🚗 Vehicle details"
	ButtonIncident = "📝 Incident description"
	ButtonPhotos   = "📷 Attach photos"
	ButtonRestart  = "/start"
)

// hints answer the buttons that only explain what to send.
var hints = map[string]string{
	ButtonVehicle:  "🚗 Type the vehicle details as a message: make and model, license plate, VIN if available.",
	ButtonIncident: "📝 Type what happened as a message: date and time, circumstances, injuries, parties involved.",
	ButtonPhotos:   "📷 Send photos of the scene and the damage, one at a time or as an album.",
}

func isHintButton(text string) bool {
	_, ok := hints[text]
	return ok
}

// MainKeyboard is shown while a report is in progress.
func MainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(ButtonPhone)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation(ButtonLocation)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonVehicle)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonIncident)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonPhotos)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(intake.SubmitButton)),
	)
}

// RestartKeyboard is shown once no report is in progress.
func RestartKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonRestart)),
	)
}

// endsSession reports whether e leaves the user without a session.
func endsSession(e intake.Effect) bool {
	switch e.Type {
	case intake.EffectSubmissionResult:
		return e.Success
	case intake.EffectNotice:
		switch e.Code {
		case intake.NoticeCancelled, intake.NoticeExpired, intake.NoticeMissingSession:
			return true
		}
	}
	return false
}

// Render turns effects into messages for chatID. Each message carries the
// keyboard matching the session state it leaves behind.
func Render(chatID int64, effects []intake.Effect) []tgbotapi.MessageConfig {
	out := make([]tgbotapi.MessageConfig, 0, len(effects))
	for _, e := range effects {
		if e.Message == "" {
			continue
		}
		msg := tgbotapi.NewMessage(chatID, e.Message)
		if endsSession(e) {
			msg.ReplyMarkup = RestartKeyboard()
		} else {
			msg.ReplyMarkup = MainKeyboard()
		}
		out = append(out, msg)
	}
	return out
}
