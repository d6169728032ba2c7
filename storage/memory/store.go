// Package memory is a transactional in-memory storage.Store, used by tests
// and dry runs.
package memory

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/caldora-purge/storage"
)

// Store implements storage.Store using in-memory maps. A transaction works on
// a private copy of the committed state and holds the writer lock until it
// commits or aborts.
type Store struct {
	writer sync.Mutex

	mu         sync.RWMutex
	committed  *state
	failBegin  error
	failCommit error

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for Created/Modified stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		committed: newState(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNextBegin makes the next Begin call return err without opening a
// transaction.
func (s *Store) FailNextBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBegin = err
}

// FailNextCommit makes the next Commit call discard the transaction and
// return err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// Begin implements storage.Store
func (s *Store) Begin(ctx context.Context) (storage.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.ErrUnavailable, "begin transaction", err)
	}

	s.mu.Lock()
	if err := s.failBegin; err != nil {
		s.failBegin = nil
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.writer.Lock()

	s.mu.RLock()
	snapshot := s.committed.clone()
	s.mu.RUnlock()

	return &txn{store: s, state: snapshot}, nil
}

type objectRecord struct {
	storage.Object
	text string
}

type state struct {
	homes       map[string]*storage.Home
	calendars   map[string]*storage.Calendar // key: home/calendar
	objects     map[string]*objectRecord     // key: home/calendar/object
	attachments map[string]*storage.Attachment
	shares      map[string]*storage.Share // key: share name
	proxies     map[string]storage.Proxy  // key: owner/proxy
}

func newState() *state {
	return &state{
		homes:       make(map[string]*storage.Home),
		calendars:   make(map[string]*storage.Calendar),
		objects:     make(map[string]*objectRecord),
		attachments: make(map[string]*storage.Attachment),
		shares:      make(map[string]*storage.Share),
		proxies:     make(map[string]storage.Proxy),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.homes {
		h := *v
		c.homes[k] = &h
	}
	for k, v := range st.calendars {
		cal := *v
		c.calendars[k] = &cal
	}
	for k, v := range st.objects {
		rec := *v
		rec.Data = nil
		c.objects[k] = &rec
	}
	for k, v := range st.attachments {
		att := *v
		att.Data = append([]byte(nil), v.Data...)
		c.attachments[k] = &att
	}
	for k, v := range st.shares {
		sh := *v
		c.shares[k] = &sh
	}
	for k, v := range st.proxies {
		c.proxies[k] = v
	}
	return c
}

// key joins escaped parts, so a "/" inside a name cannot reach into
// another entity's key space.
func key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

func hasPrefix(k string, parts ...string) bool {
	return strings.HasPrefix(k, key(parts...)+"/")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutRawObject stores text verbatim, bypassing encoding. Tests use it to
// seed resources that do not parse.
func (s *Store) PutRawObject(homeUID, calendarName, name, text string) error {
	s.writer.Lock()
	defer s.writer.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.committed.calendars[key(homeUID, calendarName)]; !ok {
		return notFound("calendar")
	}
	s.committed.objects[key(homeUID, calendarName, name)] = &objectRecord{
		Object: storage.Object{
			HomeUID:      homeUID,
			CalendarName: calendarName,
			Name:         name,
			ETag:         storage.ETag([]byte(text)),
			Modified:     s.now(),
		},
		text: text,
	}
	return nil
}
