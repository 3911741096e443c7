package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
)

// ErrInvalidChat is returned for chat ids that cannot receive messages.
var ErrInvalidChat = errors.New("invalid telegram chat id")

// Client sends push notifications through a Telegram bot.
type Client struct {
	token string
	opts  []bot.Option

	once sync.Once
	bot  *bot.Bot
	err  error
}

// New creates a client; the bot is built on first use.
func New(token string, opts ...bot.Option) *Client {
	return &Client{token: token, opts: append([]bot.Option{bot.WithSkipGetMe()}, opts...)}
}

func (c *Client) init() (*bot.Bot, error) {
	c.once.Do(func() {
		c.bot, c.err = bot.New(c.token, c.opts...)
		if c.err != nil {
			c.err = fmt.Errorf("failed to initialize Telegram bot: %w", c.err)
		}
	})
	return c.bot, c.err
}

// Send posts text to chatID and returns the Telegram message id.
func (c *Client) Send(ctx context.Context, chatID int64, text string) (string, error) {
	if chatID == 0 {
		return "", ErrInvalidChat
	}
	b, err := c.init()
	if err != nil {
		return "", err
	}
	msg, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
	}
	return strconv.Itoa(msg.ID), nil
}

// ParseChat converts a contact address to a chat id.
func ParseChat(addr string) (int64, error) {
	id, err := strconv.ParseInt(addr, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChat, addr)
	}
	return id, nil
}

// IsPermanent reports failures a retry cannot fix, such as a user who
// blocked the bot or a chat that does not exist.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidChat) ||
		errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorBadRequest) ||
		errors.Is(err, bot.ErrorUnauthorized) ||
		errors.Is(err, bot.ErrorNotFound)
}
