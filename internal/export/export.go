// Package export writes a chat's birthdays as iCalendar or vCard files.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"birthdaybot/internal/birthday"
)

type Format string

const (
	FormatICS Format = "ics"
	FormatVCF Format = "vcf"
)

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts "ics"/"ical" and "vcf"/"vcard". Empty means ICS.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ics", "ical", "icalendar":
		return FormatICS, nil
	case "vcf", "vcard":
		return FormatVCF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) MIME() string {
	if f == FormatVCF {
		return "text/vcard"
	}
	return "text/calendar"
}

// FileName is "birthdays-<chat>.<ext>".
func (f Format) FileName(chatID int64) string {
	return fmt.Sprintf("birthdays-%d.%s", chatID, f)
}

// Options tune the generated files.
type Options struct {
	// Now stamps DTSTAMP/REV. Zero means time.Now.
	Now time.Time
	// Summary renders the event title; nil uses "<name>".
	Summary func(name string) string
	// CalendarName is X-WR-CALNAME.
	CalendarName string
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Write encodes recs in format f.
func Write(w io.Writer, f Format, recs []birthday.Record, opt Options) error {
	switch f {
	case FormatICS:
		return writeICS(w, recs, opt)
	case FormatVCF:
		return writeVCF(w, recs, opt)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

var uidSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("birthdaybot"))

// UID is stable for a record key, so re-imports update instead of duplicating.
func UID(r birthday.Record) string {
	return uuid.NewSHA1(uidSpace, []byte(r.Key())).String()
}
