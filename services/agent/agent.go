// Package agent is the polling orchestrator: one loop that watches
// chats, answers commands and greetings, replies to reviews and bumps
// listings, all driven off persisted settings.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fptools-backend/lib/kvstore"
	"fptools-backend/lib/logbuf"
	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/chat"
	"fptools-backend/lib/scrapers/funpay/lots"
	"fptools-backend/lib/scrapers/funpay/orders"
	"fptools-backend/lib/scrapers/funpay/raise"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/agent")

type Options struct {
	Chat     chat.Client
	Lots     lots.Client
	Orders   orders.Client
	Raise    raise.Client
	Settings Settings
	Store    *kvstore.Store
	Pace     pacing.Policy
	// defaults to a fresh buffer
	Log *logbuf.Buffer
}

type Agent struct {
	Chat     chat.Client
	Lots     lots.Client
	Orders   orders.Client
	Raise    raise.Client
	Settings Settings
	Store    *kvstore.Store
	Pace     pacing.Policy
	Log      *logbuf.Buffer

	mu     sync.Mutex
	status Status
}

// Status is a snapshot of the loop's health.
type Status struct {
	LastCycle   time.Time
	UnreadChats int
	LastError   string
}

func New(opts Options) *Agent {
	if opts.Log == nil {
		opts.Log = logbuf.New(0)
	}
	return &Agent{
		Chat:     opts.Chat,
		Lots:     opts.Lots,
		Orders:   opts.Orders,
		Raise:    opts.Raise,
		Settings: opts.Settings,
		Store:    opts.Store,
		Pace:     opts.Pace,
		Log:      opts.Log,
	}
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// RunCycle does one full pass: chats first so a buyer never waits on
// a listing bump, then the bumps.
func (a *Agent) RunCycle(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "agent:RunCycle")
	defer span.End()

	summaries, err := a.Chat.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list chats")
		return err
	}

	if a.Settings.AutoResponse() {
		if err := a.CheckAutoResponse(ctx, summaries); err != nil {
			return err
		}
	}
	if err := a.CheckGreetings(ctx, summaries); err != nil {
		return err
	}

	if a.Settings.AutoRaise() {
		report, err := a.Raise.RaiseAll(ctx, a.Settings.RaiseInterval())
		if err != nil {
			slog.Warn("bump pass failed", "err", err)
		} else if !report.Skipped {
			a.Log.Appendf("bumped %d of %d categories", report.RaisedCount(), len(report.Outcomes))
		}
	}

	unread := 0
	for _, summary := range summaries {
		if summary.Unread {
			unread++
		}
	}
	a.mu.Lock()
	a.status = Status{LastCycle: time.Now(), UnreadChats: unread}
	a.mu.Unlock()
	return nil
}

func (a *Agent) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return a.RunCycle(ctx)
}

// Run loops RunCycle until the context ends. A failed or panicking
// cycle is recorded and the loop carries on; only cancellation stops it.
func (a *Agent) Run(ctx context.Context) error {
	a.Log.Append("agent started")
	for {
		err := a.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.Log.Append("agent stopped")
				return ctx.Err()
			}
			slog.Error("cycle failed", "err", err)
			a.Log.Appendf("cycle failed: %v", err)
			a.mu.Lock()
			a.status.LastError = err.Error()
			a.mu.Unlock()
		}

		if err := pacing.Sleep(ctx, a.Pace.PollInterval); err != nil {
			a.Log.Append("agent stopped")
			return err
		}
	}
}
