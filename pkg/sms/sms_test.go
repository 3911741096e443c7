package sms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	messages []*twilioApi.CreateMessageParams
	calls    []*twilioApi.CreateCallParams
	err      error
	block    chan struct{}
}

func (f *fakeAPI) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.messages = append(f.messages, p)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeAPI) CreateCall(p *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA123"
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func TestSend(t *testing.T) {
	f := &fakeAPI{}
	c := &Client{api: f, from: "+15550000000"}

	sid, err := c.Send(context.Background(), "+14155551234", "[CRITICAL] seismic in Highway 101")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	require.Len(t, f.messages, 1)
	assert.Equal(t, "+14155551234", *f.messages[0].To)
	assert.Equal(t, "+15550000000", *f.messages[0].From)
}

func TestCall(t *testing.T) {
	f := &fakeAPI{}
	c := &Client{api: f, from: "+15550000000"}

	sid, err := c.Call(context.Background(), "+14155551234", "Rockfall risk <critical> in zone 1")
	require.NoError(t, err)
	assert.Equal(t, "CA123", sid)
	require.Len(t, f.calls, 1)
	assert.Contains(t, *f.calls[0].Twiml, "<Say>Rockfall risk &lt;critical&gt; in zone 1</Say>")
}

func TestInvalidNumberIsPermanent(t *testing.T) {
	c := &Client{api: &fakeAPI{}, from: "+15550000000"}
	for _, n := range []string{"", "4155551234", "+1-415-555", "+abc12345678"} {
		_, err := c.Send(context.Background(), n, "x")
		assert.ErrorIs(t, err, ErrInvalidNumber, n)
		assert.True(t, IsPermanent(err))
	}
}

func TestProviderErrorClassification(t *testing.T) {
	optedOut := &client.TwilioRestError{Code: 21610, Status: 400, Message: "unsubscribed recipient"}
	c := &Client{api: &fakeAPI{err: optedOut}, from: "+15550000000"}
	_, err := c.Send(context.Background(), "+14155551234", "x")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 21610, Code(err))

	busy := &client.TwilioRestError{Code: 20429, Status: 429, Message: "too many requests"}
	assert.False(t, IsPermanent(busy))
	assert.False(t, IsPermanent(errors.New("dial tcp: i/o timeout")))
}

func TestSendHonoursContext(t *testing.T) {
	f := &fakeAPI{block: make(chan struct{})}
	defer close(f.block)
	c := &Client{api: f, from: "+15550000000"}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, "+14155551234", "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
