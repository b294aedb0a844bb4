package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/chat"
)

// phrases the marketplace bot uses to announce a new or edited review,
// across the two site locales
var reviewPhrases = []string{
	"написал отзыв к заказу",
	"изменил отзыв к заказу",
	"has given feedback on the order",
	"has edited their feedback to the order",
}

var orderIdRe = regexp.MustCompile(`#([a-zA-Z0-9]+)`)

// reviewOrderId returns the order id when the message is a bot
// announcement of a review, empty otherwise.
func reviewOrderId(text string) string {
	lower := strings.ToLower(text)
	for _, phrase := range reviewPhrases {
		if strings.Contains(lower, phrase) {
			if m := orderIdRe.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// matchCommand finds the first command the message triggers.
func matchCommand(commands []Command, text string) (Command, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, command := range commands {
		trigger := strings.ToLower(strings.TrimSpace(command.Trigger))
		if trigger == "" {
			continue
		}
		if command.ExactMatch {
			if lower == trigger {
				return command, true
			}
			continue
		}
		if strings.Contains(lower, trigger) {
			return command, true
		}
	}
	return Command{}, false
}

// CheckAutoResponse walks the unread chats, answers configured
// commands and routes review announcements to the review replier.
// Chats whose last message is our own are left alone.
func (a *Agent) CheckAutoResponse(ctx context.Context, summaries []chat.Summary) error {
	ctx, span := tracer.Start(ctx, "agent:CheckAutoResponse")
	defer span.End()

	commands := a.Settings.Commands()
	reviewReply := a.Settings.AutoReviewReply()

	first := true
	for _, summary := range summaries {
		if !summary.Unread {
			continue
		}
		if !first {
			if err := pacing.Sleep(ctx, a.Pace.BetweenChats); err != nil {
				return err
			}
		}
		first = false

		history, err := a.Chat.History(ctx, summary.Id)
		if err != nil {
			slog.Warn("failed to load chat history", "chat", summary.Id, "err", err)
			continue
		}
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		if last.Mine {
			continue
		}

		if reviewReply {
			if orderId := reviewOrderId(last.Text); orderId != "" {
				sent, err := a.Orders.HandleReview(ctx, orderId, a.Settings.ReviewTemplates())
				if err != nil {
					slog.Warn("failed to answer review", "order", orderId, "err", err)
				} else if sent {
					a.Log.Appendf("replied to review on order #%s", orderId)
				}
				continue
			}
		}

		command, ok := matchCommand(commands, last.Text)
		if !ok {
			continue
		}
		if err := a.Chat.Send(ctx, summary.Id, command.Response); err != nil {
			slog.Warn("failed to send auto response", "chat", summary.Id, "err", err)
			continue
		}
		a.Log.Appendf("answered %q in chat with %s", command.Trigger, summary.Username)
	}
	return nil
}
