package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ErrInvalidAddress is returned for recipients that cannot be mailed.
var ErrInvalidAddress = errors.New("invalid email address")

type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Sender submits plain-text mail through an SMTP relay.
type Sender struct {
	addr     string
	from     mail.Address
	auth     sasl.Client
	send     sendFunc
	hostname string
}

func New(server string, port int, username, password, fromAddr, fromName string) *Sender {
	var auth sasl.Client
	if username != "" {
		auth = sasl.NewPlainClient("", username, password)
	}
	if fromAddr == "" {
		fromAddr = username
	}
	return &Sender{
		addr:     fmt.Sprintf("%s:%d", server, port),
		from:     mail.Address{Name: fromName, Address: fromAddr},
		auth:     auth,
		send:     smtp.SendMail,
		hostname: server,
	}
}

// Send delivers one message and returns the Message-ID it was sent with.
func (s *Sender) Send(ctx context.Context, to, subject, body string) (string, error) {
	rcpt, err := mail.ParseAddress(to)
	if err != nil || !strings.Contains(rcpt.Address, "@") {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, to)
	}

	id := fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), strings.SplitN(rcpt.Address, "@", 2)[0], s.hostname)
	msg := compose(s.from, *rcpt, id, subject, body)

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from.Address, []string{rcpt.Address}, bytes.NewReader(msg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("failed to send email to %s: %w", rcpt.Address, err)
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func compose(from, to mail.Address, id, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Code returns the SMTP reply code carried by err, or 0.
func Code(err error) int {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsPermanent reports failures a retry cannot fix: 5xx replies and bad addresses.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidAddress) || Code(err) >= 500
}
