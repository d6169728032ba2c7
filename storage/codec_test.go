package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Caldora//Purge Test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:codec-1\r\n" +
	"DTSTAMP:20100101T000000Z\r\n" +
	"DTSTART:20100102T100000Z\r\n" +
	"SUMMARY:Codec\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestDecodeEncodeCalendar(t *testing.T) {
	cal, err := DecodeCalendar(sampleEvent)
	require.NoError(t, err)
	assert.Equal(t, "codec-1", ObjectUID(cal))

	out, err := EncodeCalendar(cal)
	require.NoError(t, err)
	assert.Contains(t, out, "UID:codec-1")
	assert.Contains(t, out, "DTSTART:20100102T100000Z")

	again, err := DecodeCalendar(out)
	require.NoError(t, err)
	require.Len(t, again.Children, 1)
	summary, err := again.Children[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Codec", summary)
}

func TestDecodeCalendarErrors(t *testing.T) {
	_, err := DecodeCalendar("not a calendar")
	assert.Error(t, err)

	_, err = EncodeCalendar(nil)
	assert.Error(t, err)
}

func TestETag(t *testing.T) {
	a := ETag([]byte("one"))
	b := ETag([]byte("two"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ETag([]byte("one")))
	assert.True(t, a[0] == '"' && a[len(a)-1] == '"')
}

func TestErrorMatching(t *testing.T) {
	base := &Error{Type: ErrNotFound, Message: "home not found"}
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsUnavailable(wrapped))
	assert.True(t, errors.Is(wrapped, ErrNotFound))

	var se *Error
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, "not_found: home not found", se.Error())

	cause := errors.New("dial failed")
	unavailable := NewError(ErrUnavailable, "begin", cause)
	assert.True(t, IsUnavailable(unavailable))
	assert.ErrorIs(t, unavailable, cause)
}

func TestBindModeString(t *testing.T) {
	assert.Equal(t, "read", BindRead.String())
	assert.Equal(t, "write", BindWrite.String())
	assert.Equal(t, "unknown", BindMode(0).String())
}
