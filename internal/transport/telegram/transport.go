// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"video_notifier/internal/domain"
	"video_notifier/internal/retry"
	"video_notifier/internal/throttle"
)

type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
	// RateLimit caps sends per second across all chats.
	RateLimit int
	// ChatRateLimit caps sends per minute to one chat.
	ChatRateLimit int
	// FloodAttempts is how many times a send is tried while Telegram answers
	// with retry_after. Waits longer than MaxFloodWait are not sat out.
	FloodAttempts int
	MaxFloodWait  time.Duration
}

// Transport sends text and photo messages. Every send goes through the global
// rate limiter and a per-chat limiter.
type Transport struct {
	bot     *tele.Bot
	limiter *throttle.RateLimiter
	logger  *slog.Logger

	chatLimit rate.Limit
	chatBurst int

	floodAttempts int
	maxFloodWait  time.Duration

	mu        sync.Mutex
	chats     map[string]*rate.Limiter
	lastPrune time.Time
}

func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &Transport{
		bot:       bot,
		limiter:   throttle.NewRateLimiter(cfg.RateLimit),
		logger:    logger.With("transport", "telegram"),
		chatLimit: rate.Limit(float64(cfg.ChatRateLimit) / 60),
		chatBurst: max(cfg.ChatRateLimit, 1),
		chats:     make(map[string]*rate.Limiter),

		floodAttempts: max(cfg.FloodAttempts, 1),
		maxFloodWait:  cfg.MaxFloodWait,
	}, nil
}

// chat is a Recipient for both numeric chat ids and @channel usernames.
type chat string

func (c chat) Recipient() string {
	return string(c)
}

func (t *Transport) SendText(ctx context.Context, targetID, text string) (*domain.Receipt, error) {
	msg, err := t.send(ctx, targetID, text, tele.ModeHTML)
	if err != nil {
		return nil, err
	}
	return &domain.Receipt{TargetID: targetID, MessageID: msg.ID}, nil
}

// SendImage sends a photo by url or by a previously returned file id.
// The receipt carries the file id Telegram assigned to the photo.
func (t *Transport) SendImage(ctx context.Context, targetID, imageHandle, caption string) (*domain.Receipt, error) {
	photo := &tele.Photo{File: photoFile(imageHandle), Caption: caption}

	msg, err := t.send(ctx, targetID, photo)
	if err != nil {
		return nil, err
	}

	receipt := &domain.Receipt{TargetID: targetID, MessageID: msg.ID}
	if msg.Photo != nil {
		receipt.ImageID = msg.Photo.FileID
	}
	return receipt, nil
}

func (t *Transport) send(ctx context.Context, targetID string, what any, opts ...any) (*tele.Message, error) {
	if err := t.chatLimiter(targetID).Wait(ctx); err != nil {
		return nil, err
	}

	var (
		msg  *tele.Message
		wait time.Duration
	)
	policy := retry.Policy{
		MaxAttempts: t.floodAttempts,
		Delay:       func(int) time.Duration { return wait },
		Retryable: func(err error) bool {
			var floodErr tele.FloodError
			if !errors.As(err, &floodErr) {
				return false
			}
			wait = time.Duration(floodErr.RetryAfter) * time.Second
			return wait <= t.maxFloodWait
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			t.logger.Warn("flood limit hit, waiting", "target_id", targetID, "attempt", attempt, "retry_after", delay)
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return t.limiter.Do(ctx, func(ctx context.Context) error {
			var err error
			msg, err = t.bot.Send(chat(targetID), what, opts...)
			return err
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Debug("send failed", "target_id", targetID, "error", err)
		return nil, translateError(targetID, err)
	}
	if msg == nil {
		msg = &tele.Message{}
	}
	return msg, nil
}

func (t *Transport) chatLimiter(targetID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now := time.Now(); now.Sub(t.lastPrune) > time.Minute {
		t.lastPrune = now
		for id, l := range t.chats {
			if l.Tokens() >= float64(t.chatBurst) {
				delete(t.chats, id)
			}
		}
	}

	l, ok := t.chats[targetID]
	if !ok {
		l = rate.NewLimiter(t.chatLimit, t.chatBurst)
		t.chats[targetID] = l
	}
	return l
}

func photoFile(handle string) tele.File {
	if strings.HasPrefix(handle, "http://") || strings.HasPrefix(handle, "https://") {
		return tele.FromURL(handle)
	}
	return tele.File{FileID: handle}
}
