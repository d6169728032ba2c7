package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
	ErrUnavailable   ErrorType = "unavailable"
)

// Error implements error so that sentinel comparisons like
// errors.Is(err, storage.ErrNotFound) work against *Error values.
func (t ErrorType) Error() string {
	return string(t)
}

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorType of e.
func (e *Error) Is(target error) bool {
	t, ok := target.(ErrorType)
	return ok && t == e.Type
}

// NewError builds an *Error of the given type.
func NewError(typ ErrorType, message string, err error) *Error {
	return &Error{Type: typ, Message: message, Err: err}
}

// IsNotFound reports whether err is (or wraps) a not-found storage error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is (or wraps) a storage availability error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HomeStatus is the provisioning state of a calendar home.
type HomeStatus string

const (
	HomeActive   HomeStatus = "active"
	HomeDisabled HomeStatus = "disabled"
)

// BindMode is the access mode granted by a share binding or proxy assignment.
type BindMode int

const (
	BindRead BindMode = iota + 1
	BindWrite
)

// String provides a human-readable representation of the BindMode.
func (m BindMode) String() string {
	switch m {
	case BindRead:
		return "read"
	case BindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Home is the top-level per-principal container of calendars.
type Home struct {
	UID     string
	Status  HomeStatus
	Created time.Time
}

// Calendar represents a calendar collection owned by a home
type Calendar struct {
	HomeUID  string
	Name     string
	Created  time.Time
	Modified time.Time
}

// Object represents a stored calendar object resource.
type Object struct {
	HomeUID      string
	CalendarName string
	// Name is the resource name inside the collection, e.g. "event.ics".
	//
	// NOTE: This has nothing to do with iCal UID.
	Name string
	// UID is the iCalendar UID shared by every component of the object.
	UID      string
	ETag     string
	Modified time.Time
	// Raw is the stored iCalendar text as read from the backend.
	Raw string
	// Data holds the decoded VCALENDAR. Listings leave it nil when Raw
	// cannot be decoded so one bad resource does not hide its siblings.
	Data *ical.Calendar
}

// Attachment is a binary blob attached to a calendar object.
type Attachment struct {
	HomeUID      string
	CalendarName string
	ObjectName   string
	Name         string
	ContentType  string
	Data         []byte
}

// Share is a binding granting ShareeUID access to a calendar owned by OwnerUID.
type Share struct {
	// Name is the name of the shared child as seen from the sharee's home.
	Name         string
	OwnerUID     string
	CalendarName string
	ShareeUID    string
	Mode         BindMode
}

// Proxy is a delegation granting ProxyUID access to everything in OwnerUID's home.
type Proxy struct {
	OwnerUID string
	ProxyUID string
	Mode     BindMode
}

// Store is the interface that must be implemented by storage backends
type Store interface {
	// Begin opens a transaction. Implementations return an ErrUnavailable
	// error when the backend cannot be reached.
	Begin(ctx context.Context) (Txn, error)
}

// Txn is a unit of work against a Store. Nothing written through a Txn is
// visible to other transactions until Commit; Abort discards it. Lookups
// never create entities as a side effect.
type Txn interface {
	// Home operations
	HomeWithUID(ctx context.Context, uid string) (*Home, error)
	CreateHome(ctx context.Context, uid string) (*Home, error)
	DisableHome(ctx context.Context, uid string) error
	DeleteHome(ctx context.Context, uid string) error

	// Calendar operations
	Calendars(ctx context.Context, homeUID string) ([]*Calendar, error)
	CreateCalendar(ctx context.Context, homeUID, name string) (*Calendar, error)
	DeleteCalendar(ctx context.Context, homeUID, name string) error

	// Calendar object operations
	Objects(ctx context.Context, homeUID, calendarName string) ([]*Object, error)
	Object(ctx context.Context, homeUID, calendarName, name string) (*Object, error)
	// PutObject creates the object or replaces its content. It sets the
	// object's ETag and Modified fields.
	PutObject(ctx context.Context, obj *Object) error
	DeleteObject(ctx context.Context, homeUID, calendarName, name string) error

	// Attachment operations
	Attachments(ctx context.Context, homeUID, calendarName, objectName string) ([]*Attachment, error)
	CreateAttachment(ctx context.Context, att *Attachment) error
	DeleteAttachment(ctx context.Context, homeUID, calendarName, objectName, name string) error

	// Sharing operations
	ShareWith(ctx context.Context, ownerUID, calendarName, shareeUID string, mode BindMode) (string, error)
	SharedChild(ctx context.Context, shareeUID, name string) (*Share, error)
	SharesOwnedBy(ctx context.Context, ownerUID string) ([]*Share, error)
	SharesInto(ctx context.Context, shareeUID string) ([]*Share, error)
	Unshare(ctx context.Context, name string) error

	// Proxy operations
	AddProxy(ctx context.Context, p Proxy) error
	Proxies(ctx context.Context, uid string) ([]Proxy, error)
	// RemoveProxies drops every assignment where uid is either the owner or
	// the proxy and returns how many were removed.
	RemoveProxies(ctx context.Context, uid string) (int, error)

	Commit() error
	Abort() error
}
