package tg

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/models"
)

type DueSource interface {
	ListDuePeriods(ctx context.Context, from, to civil.Date, limit int) ([]models.DuePeriod, error)
}

// Commands отвечает на команды в чатах из белого списка.
type Commands struct {
	bot     Sender
	source  DueSource
	allowed map[int64]bool
	days    int
	loc     *time.Location
	now     func() time.Time
	log     *zap.Logger
}

func NewCommands(bot Sender, source DueSource, chatIDs []int64, days int, loc *time.Location, log *zap.Logger) *Commands {
	allowed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = true
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Commands{bot: bot, source: source, allowed: allowed, days: days, loc: loc, now: time.Now, log: log}
}

// Run читает апдейты до закрытия канала или отмены ctx.
func (c *Commands) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Message == nil || !u.Message.IsCommand() {
				continue
			}
			text := c.Reply(ctx, u.Message.Chat.ID, u.Message.Command())
			if text == "" {
				continue
			}
			for _, chunk := range splitMessage(text, maxMessageLen) {
				if _, err := Send(c.bot, tgbotapi.NewMessage(u.Message.Chat.ID, chunk)); err != nil {
					c.log.Warn("telegram reply failed", zap.Int64("chat_id", u.Message.Chat.ID), zap.Error(err))
				}
			}
		}
	}
}

// Reply возвращает текст ответа на команду; пустая строка означает не отвечать.
func (c *Commands) Reply(ctx context.Context, chatID int64, command string) string {
	if !c.allowed[chatID] {
		return ""
	}
	switch command {
	case "start", "help":
		return "Commands:\n/due - overdue periods and periods due in the next days"
	case "due":
		today := civil.DateOf(c.now().In(c.loc))
		periods, err := c.source.ListDuePeriods(ctx, today, today.AddDays(c.days), 200)
		if err != nil {
			c.log.Error("list due periods", zap.Error(err))
			return "Could not load periods, try again later."
		}
		if len(periods) == 0 {
			return "Nothing overdue or due in the next " + strconv.Itoa(c.days) + " days."
		}
		return FormatDigest(today, periods)
	default:
		return "Unknown command. Use /help"
	}
}
