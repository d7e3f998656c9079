// Package bot is the Telegram front end: it turns updates into intake
// events and renders the resulting effects as chat messages.
package bot

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zulandar/roadcall/internal/intake"
)

// Translate maps one update to an intake event. It returns false for
// updates the conversation does not consume: non-private chats, edits,
// unknown commands, keyboard hint buttons and /admin.
func Translate(u tgbotapi.Update) (intake.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return intake.Event{}, false
	}
	userID := strconv.FormatInt(m.From.ID, 10)

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			return intake.Start(userID, profileOf(m.From)), true
		case "cancel":
			return intake.Cancel(userID), true
		case "submit":
			return intake.Submit(userID), true
		}
		return intake.Event{}, false
	}

	switch {
	case m.Contact != nil:
		return intake.FieldUpdate(userID, intake.KindPhone, intake.Value{Text: m.Contact.PhoneNumber}), true
	case m.Location != nil:
		loc := &intake.Coordinates{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
		return intake.FieldUpdate(userID, intake.KindLocation, intake.Value{Location: loc}), true
	case len(m.Photo) > 0:
		return intake.FieldUpdate(userID, intake.KindPhoto, intake.Value{MediaRef: largestPhoto(m.Photo)}), true
	}

	text := strings.TrimSpace(m.Text)
	switch {
	case text == "":
		return intake.Event{}, false
	case text == intake.SubmitButton:
		return intake.Submit(userID), true
	case isHintButton(text):
		return intake.Event{}, false
	}
	return intake.FieldUpdate(userID, intake.KindFreeText, intake.Value{Text: m.Text}), true
}

func profileOf(u *tgbotapi.User) intake.Profile {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return intake.Profile{DisplayName: name, Username: u.UserName}
}

// largestPhoto picks the highest-resolution size Telegram offered.
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best.FileID
}
