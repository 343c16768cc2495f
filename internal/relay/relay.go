// Package relay mirrors slipterm's diagnostic output and finished-job
// summaries to a Telegram chat. It is a read-only observer: it never
// reads Telegram updates and never originates a command back into the
// session, so a relayed device cannot be driven from a chat that
// happens to have the bot token. It satisfies channels.Channel so it
// can be started alongside any other outbound notifier.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/slipterm/internal/channels"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff      = 10 * time.Second
)

// LineEvent is one diagnostic log line worth mirroring.
type LineEvent struct {
	Text    string
	Arrived time.Time
}

// JobSummaryEvent is a one-line summary of a finished job worth mirroring.
type JobSummaryEvent struct {
	ID       uint64
	CLIText  string
	Duration time.Duration
	Summary  string
}

// sender is the subset of *tgbotapi.BotAPI that Relay needs, split out so
// tests can supply a fake instead of authenticating against Telegram.
type sender interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Relay forwards LineEvent and JobSummaryEvent values, published by the
// event loop on dedicated channels, to every configured chat ID.
type Relay struct {
	bot     sender
	chatIDs []int64
	logger  *slog.Logger

	lines <-chan LineEvent
	jobs  <-chan JobSummaryEvent
}

// New authenticates against the Telegram Bot API and returns a Relay
// that has not yet started consuming events.
func New(token string, chatIDs []int64, lines <-chan LineEvent, jobs <-chan JobSummaryEvent, logger *slog.Logger) (*Relay, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("relay: authenticate: %w", err)
	}
	return newRelay(bot, chatIDs, lines, jobs, logger), nil
}

func newRelay(bot sender, chatIDs []int64, lines <-chan LineEvent, jobs <-chan JobSummaryEvent, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{bot: bot, chatIDs: chatIDs, logger: logger, lines: lines, jobs: jobs}
}

// Name implements channels.Channel.
func (r *Relay) Name() string { return "telegram" }

// Start implements channels.Channel: it mirrors every LineEvent and
// JobSummaryEvent it receives until ctx is canceled.
func (r *Relay) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-r.lines:
			if !ok {
				r.lines = nil
				continue
			}
			r.broadcast(ctx, l.Text)
		case j, ok := <-r.jobs:
			if !ok {
				r.jobs = nil
				continue
			}
			r.broadcast(ctx, formatJobSummary(j))
		}
	}
}

func formatJobSummary(j JobSummaryEvent) string {
	return fmt.Sprintf("%s (%.1fs): %s", j.CLIText, j.Duration.Seconds(), j.Summary)
}

// broadcast sends text to every configured chat, retrying each send with
// exponential backoff on transient failure. One chat's repeated failure
// never blocks delivery to the others.
func (r *Relay) broadcast(ctx context.Context, text string) {
	for _, id := range r.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		if err := r.sendWithBackoff(ctx, msg); err != nil {
			r.logger.Warn("relay: giving up on chat", "chat_id", id, "error", err)
		}
	}
}

func (r *Relay) sendWithBackoff(ctx context.Context, msg tgbotapi.MessageConfig) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if _, err := r.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

var _ channels.Channel = (*Relay)(nil)
