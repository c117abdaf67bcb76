package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Store persists notification records.
type Store interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Notification, int, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID, id int64) error
}

// Pusher delivers realtime events to connected identities.
type Pusher interface {
	IsOnline(userID int64) bool
	PushToUser(userID int64, event any) int
}

// Mailer queues email for recipients without an identity.
type Mailer interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

// EngineConfig wires the fan-out engine.
type EngineConfig struct {
	Directory   Directory
	Store       Store
	Pusher      Pusher
	Mailer      Mailer
	Metrics     *Metrics
	Logger      *slog.Logger
	Concurrency int
}

// Engine resolves audiences and delivers to each recipient concurrently.
// Per-recipient failures are logged and counted, never returned.
type Engine struct {
	directory   Directory
	store       Store
	pusher      Pusher
	mailer      Mailer
	metrics     *Metrics
	logger      *slog.Logger
	concurrency int
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		directory:   cfg.Directory,
		store:       cfg.Store,
		pusher:      cfg.Pusher,
		mailer:      cfg.Mailer,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

type counters struct {
	stored, pushed, emailed, failed atomic.Int64
}

// Notify fans msg out to audience. It only errors when the audience or message
// is malformed or the audience cannot be resolved at all. A union member that
// fails to resolve is logged and skipped.
func (e *Engine) Notify(ctx context.Context, audience Audience, msg Message) (Report, error) {
	if err := msg.validate(); err != nil {
		return Report{}, err
	}
	if msg.Type == "" {
		msg.Type = SeverityInfo
	}
	recipients, err := resolve(ctx, e.directory, audience, func(member Audience, err error) {
		e.metrics.failure("resolve")
		e.logger.Warn("notification audience member skipped",
			slog.String("audience", string(member.kind)), slog.Any("error", err))
	})
	if err != nil {
		e.metrics.failure("resolve")
		return Report{}, err
	}
	var (
		c counters
		g errgroup.Group
	)
	g.SetLimit(e.concurrency)
	for _, rcpt := range recipients {
		rcpt := rcpt
		g.Go(func() error {
			e.deliver(ctx, rcpt, msg, &c)
			return nil
		})
	}
	_ = g.Wait()
	return Report{
		Recipients: len(recipients),
		Stored:     int(c.stored.Load()),
		Pushed:     int(c.pushed.Load()),
		Emailed:    int(c.emailed.Load()),
		Failed:     int(c.failed.Load()),
	}, nil
}

func (e *Engine) deliver(ctx context.Context, rcpt Recipient, msg Message, c *counters) {
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			e.metrics.failure("panic")
			e.logger.Error("notification delivery panic", slog.String("recipient", rcpt.key()), slog.Any("panic", r))
		}
	}()

	record := Notification{
		Email:    rcpt.Email,
		Type:     msg.Type,
		Title:    strings.TrimSpace(msg.Title),
		Message:  strings.TrimSpace(msg.Body),
		Link:     msg.Link,
		SenderID: msg.SenderID,
		IsCustom: msg.IsCustom,
	}
	if rcpt.UserID > 0 {
		id := rcpt.UserID
		record.UserID = &id
	}
	stored, err := e.store.Create(ctx, record)
	if err != nil {
		c.failed.Add(1)
		e.metrics.failure("store")
		e.logger.Warn("notification store failed", slog.String("recipient", rcpt.key()), slog.Any("error", err))
		return
	}
	c.stored.Add(1)
	e.metrics.delivery("store")

	if rcpt.UserID > 0 {
		if e.pusher == nil || !e.pusher.IsOnline(rcpt.UserID) {
			return
		}
		if e.pusher.PushToUser(rcpt.UserID, stored.Event()) > 0 {
			c.pushed.Add(1)
			e.metrics.delivery("push")
			return
		}
		e.metrics.failure("push")
		e.logger.Warn("notification push dropped", slog.Int64("user_id", rcpt.UserID))
		return
	}

	if e.mailer == nil {
		return
	}
	subject := record.Title
	if subject == "" {
		subject = "Notification"
	}
	body := record.Message
	if record.Link != "" {
		body = fmt.Sprintf("%s\n\n%s", body, record.Link)
	}
	if err := e.mailer.EnqueueEmail(ctx, rcpt.Email, subject, body); err != nil {
		e.metrics.failure("email")
		e.logger.Warn("notification email enqueue failed", slog.String("email", rcpt.Email), slog.Any("error", err))
		return
	}
	c.emailed.Add(1)
	e.metrics.delivery("email")
}
