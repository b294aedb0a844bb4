package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/chat"
)

const greetingLogKey = "greeting_log"

// bot announcements that show up as a chat's last message without the
// counterpart having actually written anything
var systemPhrases = []string{
	"оплатил заказ",
	"вернул деньги",
	"подтвердил успешное выполнение заказа",
	"paid for order",
	"issued a refund",
	"confirmed that order",
}

func isSystemMessage(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range systemPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func renderGreeting(template string, summary chat.Summary) string {
	r := strings.NewReplacer(
		"$username", summary.Username,
		"$chat_name", summary.Username,
	)
	return r.Replace(template)
}

// CheckGreetings greets chats that wrote to us and were not greeted
// within the cooldown window. The sent log is persisted so restarts
// do not re-greet everyone.
func (a *Agent) CheckGreetings(ctx context.Context, summaries []chat.Summary) error {
	ctx, span := tracer.Start(ctx, "agent:CheckGreetings")
	defer span.End()

	greeting := a.Settings.Greeting()
	if !greeting.Enabled || greeting.Text == "" {
		return nil
	}

	sentLog := map[string]int64{}
	_ = a.Store.GetJSON(greetingLogKey, &sentLog)
	changed := false
	now := time.Now()

	for _, summary := range summaries {
		if !summary.Unread || isSystemMessage(summary.LastMessage) {
			continue
		}
		if last, ok := sentLog[summary.Id]; ok {
			if now.Sub(time.UnixMilli(last)) < greeting.Cooldown {
				continue
			}
		}

		if err := a.Chat.Send(ctx, summary.Id, renderGreeting(greeting.Text, summary)); err != nil {
			slog.Warn("failed to send greeting", "chat", summary.Id, "err", err)
			continue
		}
		sentLog[summary.Id] = now.UnixMilli()
		changed = true
		a.Log.Appendf("greeted %s", summary.Username)

		if err := pacing.Sleep(ctx, a.Pace.BetweenChats); err != nil {
			break
		}
	}

	if changed {
		if err := a.Store.SetJSON(greetingLogKey, sentLog); err != nil {
			slog.Warn("failed to persist greeting log", "err", err)
		}
	}
	return ctx.Err()
}
