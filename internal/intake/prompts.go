package intake

import (
	"fmt"
	"strings"
)

// SubmitButton is the label of the reply-keyboard button that submits a report.
const SubmitButton = "✅ Submit report"

func welcomeText(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`👋 Hello, %s!

I take roadside incident reports for the on-call claims adjuster.
Please provide, in order:

1. 📱 Your phone number
2. 📍 The incident location
3. 🚗 Vehicle details
4. 📝 What happened
5. 📷 Photos (optional, up to %d)
6. ✅ Submit the report

Someone will call you within 15 minutes of submission.`, name, MaxPhotos)
}

func promptText(st Stage) string {
	switch st {
	case AwaitingPhone:
		return "📱 Please share your phone number using the \"Share phone number\" button."
	case AwaitingLocation:
		return "📍 Phone number received. Now share the incident location using the \"Share location\" button."
	case AwaitingVehicle:
		return "🚗 Location received. Now enter the vehicle details:\n• Make and model\n• License plate\n• VIN (if available)"
	case AwaitingIncident:
		return "📝 Vehicle details saved. Now describe the incident:\n• Date and time\n• What happened\n• Anyone injured\n• Number of parties involved"
	case AwaitingPhotosOrSubmit:
		return fmt.Sprintf("📷 Description saved. Attach up to %d photos, one at a time or several at once, then press %q.", MaxPhotos, SubmitButton)
	}
	return ""
}

func correctiveText(st Stage) string {
	switch st {
	case AwaitingPhone:
		return "Please send your phone number with the \"Share phone number\" button."
	case AwaitingLocation:
		return "Please send the location with the \"Share location\" button."
	case AwaitingVehicle:
		return "Please type the vehicle details as a text message."
	case AwaitingIncident:
		return "Please type the incident description as a text message."
	case AwaitingPhotosOrSubmit:
		return fmt.Sprintf("Send a photo or press %q to finish.", SubmitButton)
	}
	return ""
}

func rejectedText(reason string) string {
	return "⚠️ That value was not accepted: " + reason + "."
}

func photoAcceptedText(n int) string {
	if n < MaxPhotos {
		return fmt.Sprintf("📷 Photo #%d received. You can send %d more or press %q.", n, MaxPhotos-n, SubmitButton)
	}
	return fmt.Sprintf("✅ Maximum number of photos reached. Press %q to finish.", SubmitButton)
}

func capacityText() string {
	return fmt.Sprintf("⚠️ Only %d photos can be attached; this one was not added. Press %q to finish.", MaxPhotos, SubmitButton)
}

var fieldLabels = map[Stage]string{
	AwaitingPhone:    "phone number",
	AwaitingLocation: "location",
	AwaitingVehicle:  "vehicle details",
	AwaitingIncident: "incident description",
}

func missingFieldsText(missing []Stage) string {
	labels := make([]string, 0, len(missing))
	for _, st := range missing {
		labels = append(labels, fieldLabels[st])
	}
	return "⚠️ Please fill in all required fields: " + strings.Join(labels, ", ")
}

const (
	missingSessionText = "⚠️ No report in progress. Send /start to begin a new one."
	cancelledText      = "Report cancelled. Send /start to begin a new one."
	expiredText        = "⌛ Your unfinished report expired. Send /start to begin a new one."
	submitFailedText   = "⚠️ The report could not be sent. Your data is kept; please press submit again."
)

func submitOKText(phone string) string {
	return "✅ Report sent!\n\n📞 You will get a call within 15 minutes.\nExpect the call at: " + phone + "\n\nSend /start for a new report."
}
