package notify

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

// Nop discards every message.
type Nop struct{}

func (Nop) Send(string) {}
func (Nop) Sendf(string, ...any) {}

var (
	_ interfaces.Notifier = Nop{}
	_ interfaces.Notifier = (*Telegram)(nil)
)

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram delivers messages to one chat from a background goroutine, so
// Send never waits on the network. Messages beyond the queue size are dropped.
type Telegram struct {
	bot    sender
	chatID int64
	queue  chan string
	wg     sync.WaitGroup
	once   sync.Once
}

const queueSize = 64

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(b, chatID), nil
}

func newTelegram(bot sender, chatID int64) *Telegram {
	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *Telegram) loop() {
	defer t.wg.Done()
	for msg := range t.queue {
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
			logger.ErrorWithErr(context.Background(), "Telegram send failed", err, "chat_id", t.chatID)
		}
	}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.chatID == 0 {
		return
	}
	select {
	case t.queue <- msg:
	default:
		logger.Warn(context.Background(), "Telegram queue full, dropping message", "chat_id", t.chatID)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Close flushes queued messages and stops the sender. Send must not be called afterwards.
func (t *Telegram) Close() {
	t.once.Do(func() {
		close(t.queue)
		t.wg.Wait()
	})
}

// FormatFill renders a fill for humans.
func FormatFill(f types.Fill) string {
	verb := "BUY"
	if (f.Side == types.SideShort) != f.Kind.IsExit() {
		verb = "SELL"
	}
	return fmt.Sprintf("%s %s %s %g @ %.2f (%s)", f.Kind, verb, f.InstrumentID, f.Quantity, f.Price, f.Handle)
}
