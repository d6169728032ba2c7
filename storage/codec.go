package storage

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/emersion/go-ical"
)

// DecodeCalendar parses the text of a calendar object resource.
func DecodeCalendar(ics string) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(ics)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	if len(cal.Children) == 0 {
		return nil, fmt.Errorf("no components found in calendar")
	}
	return cal, nil
}

// EncodeCalendar serializes cal back to iCalendar text.
func EncodeCalendar(cal *ical.Calendar) (string, error) {
	if cal == nil || cal.Component == nil {
		return "", fmt.Errorf("nil calendar")
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

// ETag returns the quoted entity tag for an encoded calendar object.
func ETag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// ObjectUID returns the UID carried by the first VEVENT of cal, or "" when
// there is none.
func ObjectUID(cal *ical.Calendar) string {
	if cal == nil {
		return ""
	}
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if uid, err := child.Props.Text(ical.PropUID); err == nil && uid != "" {
			return uid
		}
	}
	return ""
}
