// Package recurrence decides what happens to a calendar object when the
// principal owning it is purged, and truncates recurring series at the
// purge cutoff.
package recurrence

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"golang.org/x/text/cases"
)

// Engine evaluates calendar objects against a purge cutoff. It performs no
// I/O and keeps no mutable state, so one Engine may serve many goroutines.
type Engine struct {
	config EngineConfig
}

// NewEngine creates a new recurrence engine instance
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Decide classifies cal for the purge of principal, a calendar user address
// such as "urn:uuid:<uid>". cutoff is the instant separating past from
// future and must be the same for every object of a purge run. cal is never
// modified; a Modified decision carries a truncated copy.
func (e *Engine) Decide(cal *ical.Calendar, cutoff time.Time, principal string) (Decision, error) {
	none := mo.None[*ical.Calendar]()

	obj, err := parseObject(cal)
	if err != nil {
		return Decision{Calendar: none}, err
	}
	d := Decision{UID: obj.uid, Role: obj.role(principal), Calendar: none}

	var s *series
	if obj.master != nil {
		if s, err = parseSeries(obj.uid, obj.master); err != nil {
			return Decision{UID: obj.uid, Calendar: none}, err
		}
	}
	recurring := s != nil && s.recurring()

	var first time.Time
	if recurring {
		var ok bool
		first, ok, err = s.first(time.Time{})
		if err != nil {
			return Decision{UID: obj.uid, Calendar: none}, structural(obj.uid, "bad recurrence: %v", err)
		}
		if !ok {
			return Decision{UID: obj.uid, Calendar: none}, structural(obj.uid, "recurrence has no instances")
		}
	}

	b := newBound(cutoff, obj.allDay(s))

	if !recurring && b.reaches(obj.earliest(s)) {
		d.Action = ShouldDelete
		return d, nil
	}
	if !obj.meeting() || d.Role != RoleOrganizer {
		d.Action = ShouldDelete
		return d, nil
	}
	if !recurring {
		if e.config.PastEventPolicy == DeletePastEvents {
			d.Action = ShouldDelete
		}
		return d, nil
	}
	if b.reachesTime(first) && obj.overridesReach(b) {
		d.Action = ShouldDelete
		return d, nil
	}

	truncated, keep, changed, err := truncate(cal, obj.uid, b)
	if err != nil {
		return Decision{UID: obj.uid, Calendar: none}, err
	}
	if !keep {
		d.Action = ShouldDelete
		return d, nil
	}
	if !changed {
		// already ends before the cutoff
		return d, nil
	}
	d.Action = Modified
	d.Calendar = mo.Some(truncated)
	return d, nil
}

// Instances lists the start of every instance of the object's master that
// begins before end, up to the configured MaxScanOccurrences.
func (e *Engine) Instances(cal *ical.Calendar, end time.Time) ([]time.Time, error) {
	obj, err := parseObject(cal)
	if err != nil {
		return nil, err
	}
	if obj.master == nil {
		return nil, nil
	}
	s, err := parseSeries(obj.uid, obj.master)
	if err != nil {
		return nil, err
	}
	if !s.recurring() {
		if s.start.t.Before(end) {
			return []time.Time{s.start.t}, nil
		}
		return nil, nil
	}
	instances, err := s.expand(end, e.config.MaxScanOccurrences)
	if err != nil {
		return nil, structural(obj.uid, "bad recurrence: %v", err)
	}
	return instances, nil
}

// object is a validated view over the VEVENTs of a calendar.
type object struct {
	uid       string
	master    *ical.Component
	overrides []override
	events    []*ical.Component
}

type override struct {
	comp         *ical.Component
	recurrenceID value
	start        value
}

func parseObject(cal *ical.Calendar) (*object, error) {
	if cal == nil || cal.Component == nil {
		return nil, structural("", "empty calendar")
	}
	obj := &object{}
	seen := make(map[time.Time]bool)
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		uid, _ := child.Props.Text(ical.PropUID)
		if uid == "" {
			return nil, structural(obj.uid, "VEVENT without UID")
		}
		if obj.uid == "" {
			obj.uid = uid
		} else if uid != obj.uid {
			return nil, structural(obj.uid, "mixed UIDs %q and %q", obj.uid, uid)
		}
		obj.events = append(obj.events, child)

		rid, isOverride, err := propValue(child, propRecurrenceID)
		if err != nil {
			return nil, structural(uid, "bad RECURRENCE-ID: %v", err)
		}
		if !isOverride {
			if obj.master != nil {
				return nil, structural(uid, "more than one master component")
			}
			obj.master = child
			continue
		}
		if child.Props.Get(ical.PropRecurrenceRule) != nil {
			return nil, structural(uid, "override %s carries an RRULE", rid.t.Format(utcTimeLayout))
		}
		start, ok, err := propValue(child, ical.PropDateTimeStart)
		if err != nil {
			return nil, structural(uid, "bad override DTSTART: %v", err)
		}
		if !ok {
			return nil, structural(uid, "override without DTSTART")
		}
		key := rid.t.UTC()
		if seen[key] {
			return nil, structural(uid, "duplicate RECURRENCE-ID %s", key.Format(utcTimeLayout))
		}
		seen[key] = true
		obj.overrides = append(obj.overrides, override{comp: child, recurrenceID: rid, start: start})
	}
	if len(obj.events) == 0 {
		return nil, structural("", "no VEVENT component")
	}
	return obj, nil
}

func foldAddress(addr string) string {
	return cases.Fold().String(strings.TrimSpace(addr))
}

// role compares principal against ORGANIZER and ATTENDEE of every component.
func (o *object) role(principal string) Role {
	if strings.TrimSpace(principal) == "" {
		return RoleNone
	}
	role := RoleNone
	for _, ev := range o.events {
		if org := ev.Props.Get(ical.PropOrganizer); org != nil && addressMatches(org.Value, principal) {
			return RoleOrganizer
		}
		for _, att := range ev.Props[ical.PropAttendee] {
			if addressMatches(att.Value, principal) {
				role = RoleAttendee
			}
		}
	}
	return role
}

// meeting reports whether any component has an organizer or attendees.
func (o *object) meeting() bool {
	for _, ev := range o.events {
		if ev.Props.Get(ical.PropOrganizer) != nil || len(ev.Props[ical.PropAttendee]) > 0 {
			return true
		}
	}
	return false
}

func (o *object) allDay(s *series) bool {
	if s != nil {
		return s.start.allDay
	}
	if len(o.overrides) > 0 {
		return o.overrides[0].start.allDay
	}
	return false
}

// earliest is the first start among the master and every override.
func (o *object) earliest(s *series) value {
	var v value
	found := false
	if s != nil {
		v, found = s.start, true
	}
	for _, ov := range o.overrides {
		if !found || ov.start.t.Before(v.t) {
			v, found = ov.start, true
		}
	}
	return v
}

func (o *object) overridesReach(b bound) bool {
	for _, ov := range o.overrides {
		if !b.reaches(ov.start) {
			return false
		}
	}
	return true
}

// truncate ends the series of a deep copy of cal at b. keep is false when
// nothing of the series remains before b; changed is false when the copy
// is identical to cal. Rules that already end before b are left as they are.
func truncate(cal *ical.Calendar, uid string, b bound) (*ical.Calendar, bool, bool, error) {
	cp := copyCalendar(cal)
	until := b.String()
	changed := false

	children := make([]*ical.Component, 0, len(cp.Children))
	var master *ical.Component
	for _, child := range cp.Children {
		if child.Name != ical.CompEvent {
			children = append(children, child)
			continue
		}
		rid, isOverride, err := propValue(child, propRecurrenceID)
		if err != nil {
			return nil, false, false, structural(uid, "bad RECURRENCE-ID: %v", err)
		}
		if isOverride {
			if b.reaches(rid) {
				changed = true
				continue
			}
			children = append(children, child)
			continue
		}
		master = child
		s, err := parseSeries(uid, child)
		if err != nil {
			return nil, false, false, err
		}
		rules := child.Props[ical.PropRecurrenceRule]
		for i := range rules {
			reaches, err := s.ruleReaches(i, b)
			if err != nil {
				return nil, false, false, structural(uid, "bad recurrence: %v", err)
			}
			if !reaches {
				continue
			}
			if v := withUntil(rules[i].Value, until); v != rules[i].Value {
				rules[i].Value = v
				changed = true
			}
		}
		for _, name := range []string{ical.PropExceptionDates, ical.PropRecurrenceDates} {
			dropped, err := filterDates(child, name, b)
			if err != nil {
				return nil, false, false, structural(uid, "bad %s: %v", name, err)
			}
			changed = changed || dropped
		}
		children = append(children, child)
	}
	cp.Children = children

	if master == nil {
		return cp, false, changed, nil
	}
	s, err := parseSeries(uid, master)
	if err != nil {
		return nil, false, false, err
	}
	first, ok, err := s.first(time.Time{})
	if err != nil {
		return nil, false, false, structural(uid, "bad recurrence: %v", err)
	}
	return cp, ok && !b.reachesTime(first), changed, nil
}

// filterDates drops every value of the named list property that is at or
// after b, and the property itself once it is empty. It reports whether any
// value was dropped.
func filterDates(comp *ical.Component, name string, b bound) (bool, error) {
	props := comp.Props[name]
	if len(props) == 0 {
		return false, nil
	}
	dropped := false
	kept := props[:0]
	for _, prop := range props {
		values, texts, err := parseList(prop)
		if err != nil {
			return false, err
		}
		var remain []string
		for i, v := range values {
			if b.reaches(v) {
				dropped = true
				continue
			}
			remain = append(remain, texts[i])
		}
		if len(remain) == 0 {
			continue
		}
		prop.Value = strings.Join(remain, ",")
		kept = append(kept, prop)
	}
	if len(kept) == 0 {
		comp.Props.Del(name)
		return dropped, nil
	}
	comp.Props[name] = kept
	return dropped, nil
}

func copyCalendar(cal *ical.Calendar) *ical.Calendar {
	return &ical.Calendar{Component: copyComponent(cal.Component)}
}

func copyComponent(c *ical.Component) *ical.Component {
	cp := &ical.Component{
		Name:  c.Name,
		Props: make(ical.Props, len(c.Props)),
	}
	for name, props := range c.Props {
		list := make([]ical.Prop, len(props))
		for i, p := range props {
			list[i] = ical.Prop{Name: p.Name, Value: p.Value, Params: copyParams(p.Params)}
		}
		cp.Props[name] = list
	}
	for _, child := range c.Children {
		cp.Children = append(cp.Children, copyComponent(child))
	}
	return cp
}

func copyParams(params ical.Params) ical.Params {
	if params == nil {
		return nil
	}
	cp := make(ical.Params, len(params))
	for k, v := range params {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}
