// Package journal keeps a durable record of purged principals.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("journal entry not found")
)

// Status is the outcome recorded for one principal.
type Status string

const (
	StatusPurged   Status = "purged"
	StatusNoHome   Status = "no_home"
	StatusIgnored  Status = "ignored"
	StatusDisabled Status = "disabled"
)

// Entry is one journal line.
type Entry struct {
	UID        string    `json:"uid"`
	PurgedAt   time.Time `json:"purged_at"`
	Count      int       `json:"count"`
	Completely bool      `json:"completely"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
}

// Journal is a Badger-backed purge journal.
type Journal struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Open opens or creates a journal stored in dir.
func Open(dir string) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open journal at %s", dir)
	}
	return &Journal{db: db}, nil
}

// OpenInMemory opens a journal that lives only as long as the process.
func OpenInMemory() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory journal")
	}
	return &Journal{db: db}, nil
}

// Record appends e. Entries of the same UID are kept in PurgedAt order.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.UID == "" {
		return errors.New("journal entry without uid")
	}
	if e.PurgedAt.IsZero() {
		e.PurgedAt = time.Now()
	}
	e.PurgedAt = e.PurgedAt.UTC()

	return j.db.Update(func(txn *badger.Txn) error {
		value, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "failed to serialize entry")
		}
		if err := txn.SetEntry(badger.NewEntry(buildKey(e.UID, e.PurgedAt, j.seq.Add(1)), value)); err != nil {
			return errors.Wrapf(err, "failed to record %s", e.UID)
		}
		return nil
	})
}

// Find returns the latest entry recorded for uid.
func (j *Journal) Find(uid string) (Entry, error) {
	var latest Entry
	found := false

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = uidPrefix(uid)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			e, err := decode(it.Item())
			if err != nil {
				return err
			}
			latest, found = e, true
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return latest, nil
}

// List returns every entry, oldest first.
func (j *Journal) List() ([]Entry, error) {
	var result []Entry

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			e, err := decode(it.Item())
			if err != nil {
				return err
			}
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].PurgedAt.Before(result[b].PurgedAt)
	})
	return result, nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

func decode(item *badger.Item) (Entry, error) {
	var e Entry
	data, err := item.ValueCopy(nil)
	if err != nil {
		return e, errors.Wrap(err, "failed to read entry into buffer")
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, errors.Wrap(err, "failed to deserialize entry")
	}
	return e, nil
}

// uidPrefix escapes uid so that no other uid's prefix can cover it.
func uidPrefix(uid string) []byte {
	return []byte("purge/" + url.PathEscape(uid) + "/")
}

// buildKey orders entries of one uid by time, then by write order within
// this process.
func buildKey(uid string, at time.Time, seq uint64) []byte {
	return append(uidPrefix(uid), fmt.Sprintf("%020d-%010d", at.UnixNano(), seq)...)
}
