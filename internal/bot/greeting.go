package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/i18n"
	kit "birthdaybot/internal/transport"
)

// Deliverer sends one notification and reports the final outcome.
type Deliverer interface {
	Deliver(ctx context.Context, n kit.Notification) error
}

// Greeter turns due birthdays into chat greetings. It implements
// birthday.Sink.
type Greeter struct {
	out      Deliverer
	cat      *i18n.Catalog
	now      func() time.Time
	priority atomic.Int64
}

var _ birthday.Sink = (*Greeter)(nil)

func NewGreeter(out Deliverer, cat *i18n.Catalog, priority int) *Greeter {
	g := &Greeter{out: out, cat: cat, now: time.Now}
	g.priority.Store(int64(priority))
	return g
}

// SetPriority changes the notifier priority of later greetings.
func (g *Greeter) SetPriority(p int) { g.priority.Store(int64(p)) }

// Notify greets name in chatID. Greetings use the default language since
// a chat has no language of its own. The dedup key covers one chat, one
// name and one calendar day: the scheduler's check date when ctx carries
// one, the local clock otherwise.
func (g *Greeter) Notify(ctx context.Context, chatID int64, name string, date birthday.Date) error {
	today, ok := birthday.CheckDate(ctx)
	if !ok {
		today = birthday.DateOf(g.now())
	}
	return g.out.Deliver(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: int(g.priority.Load()),
		Target:   kit.ChatTarget{ChatID: chatID},
		Text:     greetingText(g.cat.For(""), name, date, today),
		DedupKey: fmt.Sprintf("greet:%d:%s:%04d-%02d-%02d", chatID, name, today.Year, today.Month, today.Day),
	})
}

func greetingText(l *i18n.Localizer, name string, born, today birthday.Date) string {
	data := map[string]any{"Name": name}
	if age := today.Year - born.Year; born.Year > 0 && age > 0 {
		return l.N(i18n.MsgGreetingAge, age, data)
	}
	return l.T(i18n.MsgGreeting, data)
}
