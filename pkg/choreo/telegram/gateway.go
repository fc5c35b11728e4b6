// Package telegram connects the carousel bus to a Telegram bot.
//
// Inbound text messages become chat.message.received events. The Gateway
// also implements saga.Deliverer, sending finished carousels as photo
// albums and failure notices as text.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Telegram limits.
const (
	MaxMessageLength = 4000
	MaxAlbumSize     = 10
	MaxCaptionLength = 1024
)

// Emitter is the part of the bus the gateway publishes to.
type Emitter interface {
	Emit(ctx context.Context, p event.Payload, opts ...event.Option) []event.Result
}

// Sender is the part of *tele.Bot used for outbound messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// Config holds Telegram-specific configuration.
type Config struct {
	Token string
	// AllowedIDs restricts the bot to these user ids. Empty allows everyone.
	AllowedIDs   []int64
	PollInterval time.Duration
}

// Gateway integrates with the Telegram Bot API.
type Gateway struct {
	cfg     Config
	allowed map[int64]bool
	bus     Emitter
	logger  *slog.Logger

	mu     sync.Mutex
	bot    *tele.Bot
	sender Sender
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSender replaces the bot used for outbound messages.
func WithSender(s Sender) Option {
	return func(g *Gateway) { g.sender = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway creates a gateway publishing to bus.
func NewGateway(cfg Config, bus Emitter, opts ...Option) *Gateway {
	allowed := make(map[int64]bool, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	g := &Gateway{cfg: cfg, allowed: allowed, bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start connects to Telegram and polls for updates until ctx is done or
// Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bot != nil {
		return nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  g.cfg.Token,
		Poller: &tele.LongPoller{Timeout: g.cfg.PollInterval},
		OnError: func(err error, _ tele.Context) {
			g.logger.Error("telegram update failed", "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	bot.Handle(tele.OnText, func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || c.Chat() == nil {
			return nil
		}
		g.Inbound(ctx, Incoming{
			ChatID:    c.Chat().ID,
			UserID:    sender.ID,
			Username:  sender.Username,
			MessageID: c.Message().ID,
			Text:      c.Text(),
		})
		return nil
	})

	g.bot = bot
	if g.sender == nil {
		g.sender = bot
	}

	go bot.Start()
	go func() {
		<-ctx.Done()
		g.Stop()
	}()

	g.logger.Info("telegram gateway started", "bot", bot.Me.Username)
	return nil
}

// Stop stops polling. It is safe to call more than once.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bot != nil {
		g.bot.Stop()
		g.bot = nil
	}
}

// Incoming is a text message received from Telegram.
type Incoming struct {
	ChatID    int64
	UserID    int64
	Username  string
	MessageID int
	Text      string
}

// Inbound publishes an incoming message. Messages from users outside the
// allow list are dropped. It reports whether the message was published.
func (g *Gateway) Inbound(ctx context.Context, in Incoming) bool {
	if len(g.allowed) > 0 && !g.allowed[in.UserID] {
		g.logger.Warn("telegram message from unauthorized user", "user_id", in.UserID, "username", in.Username)
		return false
	}
	userID := strconv.FormatInt(in.UserID, 10)
	g.bus.Emit(ctx, event.MessageReceived{
		ChatID:    in.ChatID,
		UserID:    userID,
		Username:  in.Username,
		MessageID: in.MessageID,
		Text:      in.Text,
	}, event.WithMetadata(event.Metadata{
		UserID:    userID,
		SessionID: strconv.FormatInt(in.ChatID, 10),
	}))
	return true
}

func (g *Gateway) outbound() (Sender, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sender == nil {
		return nil, errors.New("telegram bot not started")
	}
	return g.sender, nil
}

// Deliver implements saga.Deliverer. Images are sent as albums of at most
// MaxAlbumSize photos; the first photo carries the topic as caption.
func (g *Gateway) Deliver(ctx context.Context, d saga.Delivery) error {
	sender, err := g.outbound()
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: d.ChatID}

	if len(d.Images) == 0 {
		_, err := sender.Send(chat, truncateRunes(d.Topic, MaxMessageLength))
		return classify("send message", err)
	}

	for start := 0; start < len(d.Images); start += MaxAlbumSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+MaxAlbumSize, len(d.Images))
		album := make(tele.Album, 0, end-start)
		for i, img := range d.Images[start:end] {
			photo := &tele.Photo{File: tele.FromURL(img.URL)}
			if start == 0 && i == 0 {
				photo.Caption = truncateRunes(d.Topic, MaxCaptionLength)
			}
			album = append(album, photo)
		}
		if _, err := sender.SendAlbum(chat, album); err != nil {
			return classify("send album", err)
		}
	}
	return nil
}

// Notify implements saga.Deliverer. Long text is split into several
// messages of at most MaxMessageLength characters.
func (g *Gateway) Notify(ctx context.Context, chatID int64, text string) error {
	sender, err := g.outbound()
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range Split(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := sender.Send(chat, chunk); err != nil {
			return classify("send message", err)
		}
	}
	return nil
}

// classify maps Bot API failures to retry categories: flood control is a
// transient 429, other API errors carry their status code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("telegram %s: %w", op, &cherrors.HTTPError{StatusCode: 429, Message: err.Error()})
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return fmt.Errorf("telegram %s: %w", op, &cherrors.HTTPError{StatusCode: apiErr.Code, Message: apiErr.Description})
	}
	return fmt.Errorf("telegram %s: %w", op, err)
}

// Split cuts text into chunks of at most n runes, preferring to break at
// a newline in the second half of a chunk.
func Split(text string, n int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for len(runes) > n {
		cut := n
		for i := n - 1; i >= n/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(out, string(runes))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
