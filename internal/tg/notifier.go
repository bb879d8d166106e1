package tg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/ct-filing/internal/models"
)

// лимит Telegram на текст сообщения
const maxMessageLen = 4096

// Notifier рассылает сводки по срокам подачи в заданные чаты.
type Notifier struct {
	bot     Sender
	chatIDs []int64
}

func NewNotifier(bot Sender, chatIDs []int64) *Notifier {
	return &Notifier{bot: bot, chatIDs: chatIDs}
}

// NotifyDue отправляет сводку по периодам; пустой список не отправляется.
func (n *Notifier) NotifyDue(ctx context.Context, today civil.Date, periods []models.DuePeriod) error {
	if n == nil || len(periods) == 0 || len(n.chatIDs) == 0 {
		return nil
	}
	var errs []error
	for _, chunk := range splitMessage(FormatDigest(today, periods), maxMessageLen) {
		for _, chatID := range n.chatIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg := tgbotapi.NewMessage(chatID, chunk)
			msg.DisableWebPagePreview = true
			if _, err := Send(n.bot, msg); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// FormatDigest: сначала просроченные, затем подходящие сроки, по дате подачи.
func FormatDigest(today civil.Date, periods []models.DuePeriod) string {
	var overdue, soon []models.DuePeriod
	for _, p := range periods {
		if p.Period.Status == models.PeriodOverdue || p.Period.DueDate.Before(today) {
			overdue = append(overdue, p)
		} else {
			soon = append(soon, p)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CT filing digest for %s\n", today)
	if len(overdue) > 0 {
		fmt.Fprintf(&b, "\nOverdue (%d):\n", len(overdue))
		for _, p := range overdue {
			writeLine(&b, today, p)
		}
	}
	if len(soon) > 0 {
		fmt.Fprintf(&b, "\nDue soon (%d):\n", len(soon))
		for _, p := range soon {
			writeLine(&b, today, p)
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, today civil.Date, dp models.DuePeriod) {
	p := dp.Period
	days := p.DueDate.DaysSince(today)
	var when string
	switch {
	case days < 0:
		when = fmt.Sprintf("%d days late", -days)
	case days == 0:
		when = "due today"
	default:
		when = fmt.Sprintf("in %d days", days)
	}
	fmt.Fprintf(b, "- %s, %s: %s to %s, due %s (%s)\n", dp.CustomerName, dp.CtTypeName, p.PeriodFrom, p.PeriodTo, p.DueDate, when)
}

// splitMessage режет текст по строкам так, чтобы каждая часть укладывалась в limit символов.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit && n > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		for ln > limit {
			r := []rune(line)
			out = append(out, string(r[:limit]))
			line = string(r[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
