package notification

import (
	"fmt"
	"strings"
	"time"

	"hazard-alert-service/internal/models"
)

// render builds the message sent for an alert. Short enough for one SMS segment
// in the subject, with the details in the body.
func render(a models.Alert, zone models.Zone, loc *time.Location) models.Message {
	subject := fmt.Sprintf("[%s] %s in %s", strings.ToUpper(a.Severity.String()), a.ParameterKind, zone.Name)
	if a.EscalationLevel > 0 {
		subject = fmt.Sprintf("ESCALATION %d: %s", a.EscalationLevel, subject)
	}
	body := fmt.Sprintf(
		"%s\nZone: %s (%s)\nParameter: %s\nValue: %.2f\nObserved: %s\nAlert: %s\nAcknowledge this alert to stop escalation.",
		subject,
		zone.Name,
		zone.ID,
		a.ParameterKind,
		a.Value,
		a.ObservedAt.In(loc).Format("2006-01-02 15:04 MST"),
		a.ID,
	)
	return models.Message{Subject: subject, Body: body}
}

// renderTest builds the message of a test send. It names the recipient's zone
// and says plainly that nothing has happened.
func renderTest(zone models.Zone, contact models.Contact, at time.Time, loc *time.Location) models.Message {
	subject := fmt.Sprintf("[TEST] Alert channel check for %s", zone.Name)
	body := fmt.Sprintf(
		"%s\nRecipient: %s\nSent: %s\nThis is a test notification. No hazard was detected and no action is required.",
		subject,
		contact.Name,
		at.In(loc).Format("2006-01-02 15:04 MST"),
	)
	return models.Message{Subject: subject, Body: body}
}
