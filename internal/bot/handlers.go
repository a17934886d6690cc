package bot

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/eventbus"
	"birthdaybot/internal/export"
	"birthdaybot/internal/i18n"
	kit "birthdaybot/internal/transport"
)

const (
	defaultUpcoming = 5
	maxUpcoming     = 50
)

// Handlers implements the chat commands on top of the birthday store.
type Handlers struct {
	Store *birthday.Store
	Bus   eventbus.Bus     // optional
	Now   func() time.Time // defaults to time.Now
}

// Commands returns the command table in menu order.
func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Handle: h.start},
		{Name: "help", Handle: h.help},
		{Name: "add", Handle: h.add},
		{Name: "del", Handle: h.del},
		{Name: "list", Handle: h.list},
		{Name: "calc", Handle: h.calc},
		{Name: "upcoming", Handle: h.upcoming},
		{Name: "export", Handle: h.export, Timeout: time.Minute},
	}
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) publish(typ string, data any) {
	if h.Bus != nil {
		h.Bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	name := req.Message.FromFirstName
	if name == "" {
		name = req.Message.FromUsername
	}
	return req.Reply(ctx, req.L.T(i18n.MsgStart, map[string]any{"Name": name}))
}

func (h *Handlers) help(ctx context.Context, req *Request) error {
	return req.Reply(ctx, req.L.T(i18n.MsgHelp, nil))
}

// add accepts `/add "name" D.M.Y` and, for convenience, an unquoted name
// of several words followed by the date.
func (h *Handlers) add(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, req.L.T(i18n.MsgAddUsage, nil))
	}
	last := len(req.Args) - 1
	name := strings.Join(req.Args[:last], " ")

	rec, err := h.Store.Add(ctx, name, req.Args[last], req.Chat.ChatID)
	switch {
	case err == nil:
	case errors.Is(err, birthday.ErrInvalidDate):
		return req.Reply(ctx, req.L.T(i18n.MsgAddInvalidDate, nil))
	case errors.Is(err, birthday.ErrInvalidName):
		return req.Reply(ctx, req.L.T(i18n.MsgAddInvalidName, nil))
	case errors.Is(err, birthday.ErrDuplicateName):
		return req.Reply(ctx, req.L.T(i18n.MsgAddDuplicate, map[string]any{"Name": birthday.NormalizeName(name)}))
	default:
		return err
	}

	h.publish(eventbus.BirthdayAdded, eventbus.BirthdayEvent{ChatID: rec.ChatID, Name: rec.Name, Date: rec.Date.String(), By: req.Message.FromID})
	return req.Reply(ctx, req.L.T(i18n.MsgAddOK, map[string]any{"Name": rec.Name, "Date": rec.Date.String()}))
}

func (h *Handlers) del(ctx context.Context, req *Request) error {
	name := birthday.NormalizeName(strings.Join(req.Args, " "))
	if name == "" {
		return req.Reply(ctx, req.L.T(i18n.MsgDelUsage, nil))
	}
	err := h.Store.Delete(ctx, name, req.Chat.ChatID)
	switch {
	case err == nil:
	case errors.Is(err, birthday.ErrNotFound):
		return req.Reply(ctx, req.L.T(i18n.MsgNotFound, map[string]any{"Name": name}))
	default:
		return err
	}

	h.publish(eventbus.BirthdayDeleted, eventbus.BirthdayEvent{ChatID: req.Chat.ChatID, Name: name, By: req.Message.FromID})
	return req.Reply(ctx, req.L.T(i18n.MsgDelOK, map[string]any{"Name": name}))
}

func (h *Handlers) list(ctx context.Context, req *Request) error {
	recs, err := h.Store.ForChat(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, req.L.T(i18n.MsgListEmpty, nil))
	}
	var b strings.Builder
	b.WriteString(req.L.T(i18n.MsgListHeader, nil))
	for _, r := range recs {
		b.WriteString("\n")
		b.WriteString(r.Date.String())
		b.WriteString(" ")
		b.WriteString(r.Name)
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) calc(ctx context.Context, req *Request) error {
	name := birthday.NormalizeName(strings.Join(req.Args, " "))
	if name == "" {
		return req.Reply(ctx, req.L.T(i18n.MsgCalcUsage, nil))
	}
	rec, ok, err := h.Store.Get(ctx, name, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, req.L.T(i18n.MsgNotFound, map[string]any{"Name": name}))
	}
	days, err := birthday.DaysUntil(rec.Date.Day, int(rec.Date.Month), h.now())
	if err != nil {
		return err
	}
	if days == 0 {
		return req.Reply(ctx, req.L.T(i18n.MsgCalcToday, map[string]any{"Name": rec.Name}))
	}
	return req.Reply(ctx, req.L.N(i18n.MsgCalcDays, days, map[string]any{"Name": rec.Name}))
}

type upcomingEntry struct {
	rec  birthday.Record
	next birthday.Date
	days int
}

func (h *Handlers) upcoming(ctx context.Context, req *Request) error {
	n := defaultUpcoming
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 || v > maxUpcoming || len(req.Args) > 1 {
			return req.Reply(ctx, req.L.T(i18n.MsgUpcomingUsage, nil))
		}
		n = v
	}

	recs, err := h.Store.ForChat(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, req.L.T(i18n.MsgListEmpty, nil))
	}
	entries, err := nextBirthdays(recs, h.now())
	if err != nil {
		return err
	}
	if len(entries) > n {
		entries = entries[:n]
	}

	var b strings.Builder
	b.WriteString(req.L.T(i18n.MsgUpcomingHeader, nil))
	for _, e := range entries {
		data := map[string]any{"Name": e.rec.Name, "Date": e.next.String()}
		b.WriteString("\n")
		if e.days == 0 {
			b.WriteString(req.L.T(i18n.MsgUpcomingLineToday, data))
		} else {
			b.WriteString(req.L.N(i18n.MsgUpcomingLine, e.days, data))
		}
	}
	return req.Reply(ctx, b.String())
}

// nextBirthdays orders recs by days until the next occurrence, then by
// name.
func nextBirthdays(recs []birthday.Record, now time.Time) ([]upcomingEntry, error) {
	out := make([]upcomingEntry, 0, len(recs))
	for _, r := range recs {
		next, err := birthday.NextOccurrence(r.Date.Day, int(r.Date.Month), now)
		if err != nil {
			return nil, err
		}
		days, err := birthday.DaysUntil(r.Date.Day, int(r.Date.Month), now)
		if err != nil {
			return nil, err
		}
		out = append(out, upcomingEntry{rec: r, next: next, days: days})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].days != out[j].days {
			return out[i].days < out[j].days
		}
		return out[i].rec.Name < out[j].rec.Name
	})
	return out, nil
}

func (h *Handlers) export(ctx context.Context, req *Request) error {
	raw := ""
	switch len(req.Args) {
	case 0:
	case 1:
		raw = req.Args[0]
	default:
		return req.Reply(ctx, req.L.T(i18n.MsgExportUsage, nil))
	}
	format, err := export.ParseFormat(raw)
	if err != nil {
		return req.Reply(ctx, req.L.T(i18n.MsgExportUsage, nil))
	}

	recs, err := h.Store.ForChat(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, req.L.T(i18n.MsgListEmpty, nil))
	}

	caption := req.L.T(i18n.MsgExportCaption, nil)
	var buf bytes.Buffer
	err = export.Write(&buf, format, recs, export.Options{
		Now:          h.now(),
		CalendarName: caption,
		Summary: func(name string) string {
			return req.L.T(i18n.MsgEventSummary, map[string]any{"Name": name})
		},
	})
	if err != nil {
		return err
	}
	return req.ReplyDocument(ctx, kit.Document{
		FileName: format.FileName(req.Chat.ChatID),
		MIME:     format.MIME(),
		Caption:  caption,
		Body:     &buf,
	})
}
