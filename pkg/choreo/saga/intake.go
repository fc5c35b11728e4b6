package saga

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

var commandPattern = regexp.MustCompile(`(?s)^/(\w+)(?:@\w+)?(?:\s+(.*))?$`)

var countPrefix = regexp.MustCompile(`(?s)^(\d+)(?:\s+(.*))?$`)

// Command is a parsed /carousel chat command.
type Command struct {
	SlidesCount int
	Topic       string
}

// ParseCommand parses "/carousel [count] <topic>". The bot suffix form
// "/carousel@name" is accepted. ok is false for any other text. An empty
// topic still parses so that validation can reject it. A leading number
// above maxSlides belongs to the topic, so "/carousel 2025 trends" asks
// for the default count. maxSlides <= 0 treats every leading number as
// the count.
func ParseCommand(text string, defaultSlides, maxSlides int) (Command, bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil || m[1] != "carousel" {
		return Command{}, false
	}

	cmd := Command{SlidesCount: defaultSlides}
	rest := strings.TrimSpace(m[2])
	if c := countPrefix.FindStringSubmatch(rest); c != nil {
		n, err := strconv.Atoi(c[1])
		if err == nil && (maxSlides <= 0 || n <= maxSlides) {
			cmd.SlidesCount = n
			rest = strings.TrimSpace(c[2])
		}
	}
	cmd.Topic = rest
	return cmd, true
}

// UsageText is sent in reply to /start and /help.
func UsageText(l Limits) string {
	return fmt.Sprintf(
		"Send /carousel [slides] <topic> to create a carousel.\nSlides: %d-%d. Topic: up to %d characters.",
		l.MinSlides, l.MaxSlides, l.MaxTopicLength,
	)
}

// Intake turns chat commands into carousel.generate.requested.
type Intake struct {
	bus           Bus
	deliverer     Deliverer
	limits        Limits
	defaultSlides int
	language      string
	newID         func() string
}

// NewIntake creates the chat intake. deliverer may be nil, in which case
// /start and /help are ignored.
func NewIntake(bus Bus, deliverer Deliverer, opts ...Option) *Intake {
	o := buildOptions(opts)
	return &Intake{
		bus:           bus,
		deliverer:     deliverer,
		limits:        o.limits,
		defaultSlides: o.defaultSlides,
		language:      o.language,
		newID:         uuid.NewString,
	}
}

// Handle processes chat.message.received.
func (in *Intake) Handle(ctx context.Context, env *event.Envelope, p event.MessageReceived) (any, error) {
	text := strings.TrimSpace(p.Text)
	if m := commandPattern.FindStringSubmatch(text); m != nil && (m[1] == "start" || m[1] == "help") {
		return in.usage(ctx, env, p)
	}

	cmd, ok := ParseCommand(text, in.defaultSlides, in.limits.MaxSlides)
	if !ok {
		return nil, nil
	}

	req := event.GenerateRequested{
		Ref: event.Ref{
			RequestID: in.newID(),
			ChatID:    p.ChatID,
			UserID:    p.UserID,
			Topic:     cmd.Topic,
		},
		SlidesCount: cmd.SlidesCount,
		Language:    in.language,
	}
	forward(ctx, in.bus, env, req)
	return req, nil
}

func (in *Intake) usage(ctx context.Context, env *event.Envelope, p event.MessageReceived) (any, error) {
	if in.deliverer == nil {
		return nil, nil
	}
	text := UsageText(in.limits)
	if err := in.deliverer.Notify(ctx, p.ChatID, text); err != nil {
		return nil, fmt.Errorf("send usage to chat %d: %w", p.ChatID, err)
	}
	sent := event.MessageSent{ChatID: p.ChatID, Text: text}
	forward(ctx, in.bus, env, sent)
	return sent, nil
}
