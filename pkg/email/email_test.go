package email

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendComposesMessage(t *testing.T) {
	s := New("smtp.example.com", 587, "alerts@rockguard.ai", "secret", "", "Hazard Alerts")
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	s.send = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		gotAddr, gotFrom, gotTo = addr, from, to
		require.NotNil(t, a)
		var err error
		gotBody, err = io.ReadAll(r)
		return err
	}

	id, err := s.Send(context.Background(), "sarah.chen@rockguard.ai", "[CRITICAL] seismic in Highway 101", "line one\nline two")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@rockguard.ai", gotFrom)
	assert.Equal(t, []string{"sarah.chen@rockguard.ai"}, gotTo)
	assert.Contains(t, string(gotBody), "Subject: [CRITICAL] seismic in Highway 101\r\n")
	assert.Contains(t, string(gotBody), "line one\r\nline two")
	assert.Contains(t, string(gotBody), "Message-ID: "+id)
}

func TestSendRejectsBadAddress(t *testing.T) {
	s := New("smtp.example.com", 587, "", "", "alerts@rockguard.ai", "")
	s.send = func(string, sasl.Client, string, []string, io.Reader) error {
		t.Fatal("must not dial")
		return nil
	}
	_, err := s.Send(context.Background(), "not-an-address", "s", "b")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.True(t, IsPermanent(err))
}

func TestSendHonoursContext(t *testing.T) {
	s := New("smtp.example.com", 587, "", "", "alerts@rockguard.ai", "")
	release := make(chan struct{})
	defer close(release)
	s.send = func(string, sasl.Client, string, []string, io.Reader) error {
		<-release
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, "ops@example.com", "s", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassification(t *testing.T) {
	mailbox := &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"}
	busy := &smtp.SMTPError{Code: 421, Message: "try again later"}

	assert.True(t, IsPermanent(errors.Join(errors.New("send"), mailbox)))
	assert.Equal(t, 550, Code(mailbox))
	assert.False(t, IsPermanent(busy))
	assert.False(t, IsPermanent(errors.New("connection reset")))
}
