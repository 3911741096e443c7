package providers

import (
	"context"
	"fmt"
	"strconv"

	"hazard-alert-service/internal/dispatch"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/pkg/email"
	"hazard-alert-service/pkg/sms"
	"hazard-alert-service/pkg/telegram"
)

// Mailer is implemented by *email.Sender.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// Phone is implemented by *sms.Client.
type Phone interface {
	Send(ctx context.Context, to, body string) (string, error)
	Call(ctx context.Context, to, text string) (string, error)
}

// Messenger is implemented by *telegram.Client.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) (string, error)
}

// Email delivers alerts by mail.
type Email struct{ Mailer Mailer }

func (t Email) Send(ctx context.Context, c models.Contact, _ models.ChannelKind, msg models.Message) (dispatch.Receipt, error) {
	if c.Email == "" {
		return dispatch.Receipt{}, dispatch.Permanent("no_address", fmt.Errorf("contact %s has no email address", c.ID))
	}
	id, err := t.Mailer.Send(ctx, c.Email, msg.Subject, msg.Body)
	if err != nil {
		code := ""
		if n := email.Code(err); n != 0 {
			code = "smtp_" + strconv.Itoa(n)
		}
		return dispatch.Receipt{}, classify(code, err, email.IsPermanent(err))
	}
	return dispatch.Receipt{ProviderID: id}, nil
}

// SMS delivers alerts as text messages.
type SMS struct{ Phone Phone }

func (t SMS) Send(ctx context.Context, c models.Contact, _ models.ChannelKind, msg models.Message) (dispatch.Receipt, error) {
	if c.Phone == "" {
		return dispatch.Receipt{}, dispatch.Permanent("no_address", fmt.Errorf("contact %s has no phone number", c.ID))
	}
	id, err := t.Phone.Send(ctx, c.Phone, msg.Subject+"\n"+msg.Body)
	if err != nil {
		return dispatch.Receipt{}, classify(twilioCode(err), err, sms.IsPermanent(err))
	}
	return dispatch.Receipt{ProviderID: id}, nil
}

// Voice delivers alerts as a phone call reading the subject aloud.
type Voice struct{ Phone Phone }

func (t Voice) Send(ctx context.Context, c models.Contact, _ models.ChannelKind, msg models.Message) (dispatch.Receipt, error) {
	if c.Phone == "" {
		return dispatch.Receipt{}, dispatch.Permanent("no_address", fmt.Errorf("contact %s has no phone number", c.ID))
	}
	id, err := t.Phone.Call(ctx, c.Phone, msg.Subject)
	if err != nil {
		return dispatch.Receipt{}, classify(twilioCode(err), err, sms.IsPermanent(err))
	}
	return dispatch.Receipt{ProviderID: id}, nil
}

// Push delivers alerts to the contact's Telegram chat.
type Push struct{ Messenger Messenger }

func (t Push) Send(ctx context.Context, c models.Contact, _ models.ChannelKind, msg models.Message) (dispatch.Receipt, error) {
	if c.ChatID == 0 {
		return dispatch.Receipt{}, dispatch.Permanent("no_address", fmt.Errorf("contact %s has no chat id", c.ID))
	}
	id, err := t.Messenger.Send(ctx, c.ChatID, msg.Subject+"\n\n"+msg.Body)
	if err != nil {
		return dispatch.Receipt{}, classify("", err, telegram.IsPermanent(err))
	}
	return dispatch.Receipt{ProviderID: id}, nil
}

func twilioCode(err error) string {
	if n := sms.Code(err); n != 0 {
		return "twilio_" + strconv.Itoa(n)
	}
	return ""
}

func classify(code string, err error, permanent bool) error {
	switch {
	case permanent:
		return dispatch.Permanent(code, err)
	case code != "":
		return &dispatch.ProviderError{Code: code, Err: err}
	default:
		return err
	}
}
