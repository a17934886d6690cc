package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"birthdaybot/internal/birthday"
)

const (
	prodID     = "-//birthdaybot//export//EN"
	refreshTTL = 24 * time.Hour
)

// writeICS emits one all-day VEVENT per record recurring yearly from the
// birth date. 29.02 follows RRULE semantics and only recurs in leap years.
func writeICS(w io.Writer, recs []birthday.Record, opt Options) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	if opt.CalendarName != "" {
		cal.Props.SetText("X-WR-CALNAME", opt.CalendarName)
	}
	refresh := ical.NewProp(ical.PropRefreshInterval)
	refresh.SetDuration(refreshTTL)
	cal.Props.Set(refresh)

	stamp := opt.now().UTC()
	for _, r := range recs {
		cal.Children = append(cal.Children, event(r, stamp, opt).Component)
	}

	if len(cal.Children) == 0 {
		// The encoder refuses a calendar without components.
		_, err := fmt.Fprintf(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", prodID)
		return err
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func event(r birthday.Record, stamp time.Time, opt Options) *ical.Event {
	summary := r.Name
	if opt.Summary != nil {
		summary = opt.Summary(r.Name)
	}

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, UID(r))
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ev.Props.SetText(ical.PropSummary, summary)
	ev.Props.SetText(ical.PropTransparency, "TRANSPARENT")

	start := ical.NewProp(ical.PropDateTimeStart)
	start.SetDate(r.Date.Time(time.UTC))
	ev.Props.Set(start)

	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = "FREQ=YEARLY"
	ev.Props.Set(rrule)
	return ev
}
