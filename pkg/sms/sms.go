package sms

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrInvalidNumber is returned for destinations not in E.164 form.
var ErrInvalidNumber = errors.New("invalid phone number")

// Twilio error codes a retry cannot fix.
var permanentCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21610: true, // recipient replied STOP
	21614: true, // not a mobile number
	21217: true, // phone number does not appear to be valid
}

// api is the part of the Twilio REST client used here.
type api interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Client sends text messages and places voice calls through Twilio.
type Client struct {
	api  api
	from string
}

func New(accountSID, authToken, fromNumber string) *Client {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rc.Api, from: fromNumber}
}

// Send texts body to toNumber and returns the message SID.
func (c *Client) Send(ctx context.Context, toNumber, body string) (string, error) {
	if err := checkNumber(toNumber); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.from)
	params.SetBody(body)

	sid, err := call(ctx, func() (*string, error) {
		msg, err := c.api.CreateMessage(params)
		if err != nil || msg == nil {
			return nil, err
		}
		return msg.Sid, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", toNumber, err)
	}
	return sid, nil
}

// Call places a voice call that reads text aloud and returns the call SID.
func (c *Client) Call(ctx context.Context, toNumber, text string) (string, error) {
	if err := checkNumber(toNumber); err != nil {
		return "", err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.from)
	params.SetTwiml(twiml(text))

	sid, err := call(ctx, func() (*string, error) {
		cl, err := c.api.CreateCall(params)
		if err != nil || cl == nil {
			return nil, err
		}
		return cl.Sid, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", toNumber, err)
	}
	return sid, nil
}

// twiml wraps text in a Say verb, repeated once so it is not missed.
func twiml(text string) string {
	say := "<Say>" + html.EscapeString(text) + "</Say>"
	return "<Response>" + say + "<Pause length=\"1\"/>" + say + "</Response>"
}

// call runs a blocking REST request, giving up when ctx is done.
func call(ctx context.Context, fn func() (*string, error)) (string, error) {
	type result struct {
		sid *string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sid, err := fn()
		done <- result{sid, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if r.sid == nil {
			return "", nil
		}
		return *r.sid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func checkNumber(n string) error {
	if !strings.HasPrefix(n, "+") || len(n) < 8 {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, n)
	}
	if _, err := strconv.ParseUint(n[1:], 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, n)
	}
	return nil
}

// Code returns the Twilio error code carried by err, or 0.
func Code(err error) int {
	var te *client.TwilioRestError
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

// IsPermanent reports failures a retry cannot fix.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrInvalidNumber) {
		return true
	}
	var te *client.TwilioRestError
	if errors.As(err, &te) {
		return permanentCodes[te.Code] || te.Status == 401 || te.Status == 403
	}
	return false
}
