package export

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birthdaybot/internal/birthday"
)

func mustRecord(t *testing.T, name, date string, chat int64) birthday.Record {
	t.Helper()
	d, err := birthday.ParseDate(date)
	require.NoError(t, err)
	return birthday.Record{Name: name, Date: d, ChatID: chat}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatICS, "ICS": FormatICS, "ical": FormatICS, "vcf": FormatVCF, " vCard ": FormatVCF} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	assert.Equal(t, "birthdays--100.vcf", FormatVCF.FileName(-100))
	assert.Equal(t, "text/calendar", FormatICS.MIME())
}

func TestUIDStable(t *testing.T) {
	a := mustRecord(t, "Ann", "5.6.1990", 1)
	b := mustRecord(t, "Ann", "1.1.2000", 1)
	c := mustRecord(t, "Ann", "5.6.1990", 2)
	assert.Equal(t, UID(a), UID(b), "uid depends on key only")
	assert.NotEqual(t, UID(a), UID(c))
}

func TestWriteICS(t *testing.T) {
	recs := []birthday.Record{
		mustRecord(t, "Ann", "5.6.1990", 1),
		mustRecord(t, "Leap", "29.2.2000", 1),
	}
	var buf bytes.Buffer
	err := Write(&buf, FormatICS, recs, Options{
		Now:          time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		CalendarName: "Birthdays",
		Summary:      func(name string) string { return name + "'s birthday" },
	})
	require.NoError(t, err)

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	summary, err := events[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Ann's birthday", summary)
	assert.Equal(t, "19900605", events[0].Props.Get(ical.PropDateTimeStart).Value)
	assert.Equal(t, "FREQ=YEARLY", events[0].Props.Get(ical.PropRecurrenceRule).Value)
	assert.Equal(t, "20000229", events[1].Props.Get(ical.PropDateTimeStart).Value)

	uid, err := events[1].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, UID(recs[1]), uid)
}

func TestWriteICSEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatICS, nil, Options{}))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, buf.String(), "END:VCALENDAR")
}

func TestWriteVCF(t *testing.T) {
	recs := []birthday.Record{
		mustRecord(t, "Ann Lee", "5.6.1990", 1),
		mustRecord(t, "Bob", "31.12.1970", 1),
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatVCF, recs, Options{}))

	dec := vcard.NewDecoder(&buf)
	var got []vcard.Card
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, card)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "Ann Lee", got[0].PreferredValue(vcard.FieldFormattedName))
	assert.Equal(t, "19900605", got[0].PreferredValue(vcard.FieldBirthday))
	assert.Equal(t, "19701231", got[1].PreferredValue(vcard.FieldBirthday))
	assert.Equal(t, "urn:uuid:"+UID(recs[1]), got[1].PreferredValue(vcard.FieldUID))
	assert.Equal(t, "4.0", got[1].Value(vcard.FieldVersion))
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(io.Discard, Format("pdf"), nil, Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
