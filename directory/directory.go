// Package directory resolves principal UIDs to directory records. The purge
// only consults it for reporting; a missing record never blocks the removal
// of an existing home.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no record carries the requested UID.
var ErrNotFound = errors.New("directory record not found")

// RecordType is the kind of principal a record describes.
type RecordType string

const (
	TypeUsers     RecordType = "users"
	TypeGroups    RecordType = "groups"
	TypeLocations RecordType = "locations"
	TypeResources RecordType = "resources"
)

func (t RecordType) valid() bool {
	switch t {
	case TypeUsers, TypeGroups, TypeLocations, TypeResources:
		return true
	}
	return false
}

// Record describes one principal.
type Record struct {
	UID       string     `yaml:"uid"`
	Type      RecordType `yaml:"type"`
	FullName  string     `yaml:"full_name"`
	Addresses []string   `yaml:"addresses,omitempty"`
}

// CalendarUserAddress is the address the principal appears under in
// ORGANIZER and ATTENDEE properties.
func (r *Record) CalendarUserAddress() string {
	return "urn:uuid:" + r.UID
}

// Directory looks up principals.
type Directory interface {
	RecordWithUID(ctx context.Context, uid string) (*Record, error)
}

// Static is a Directory over a fixed set of records.
type Static struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// New builds a Static directory from records.
func New(records ...Record) *Static {
	s := &Static{records: make(map[string]*Record, len(records))}
	for i := range records {
		r := records[i]
		s.records[r.UID] = &r
	}
	return s
}

type fileFormat struct {
	Records []Record `yaml:"records"`
}

// LoadFile reads a YAML accounts file of the form
//
//	records:
//	  - uid: 6423F94A-6B76-4A3A-815B-D52CFD77935D
//	    type: users
//	    full_name: Purge Test
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the YAML accounts format read by LoadFile.
func Parse(data []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	seen := make(map[string]bool, len(f.Records))
	for i := range f.Records {
		r := &f.Records[i]
		r.UID = strings.TrimSpace(r.UID)
		if r.UID == "" {
			return nil, fmt.Errorf("directory record %d has no uid", i)
		}
		if seen[r.UID] {
			return nil, fmt.Errorf("duplicate directory record %s", r.UID)
		}
		seen[r.UID] = true
		if r.Type == "" {
			r.Type = TypeUsers
		}
		if !r.Type.valid() {
			return nil, fmt.Errorf("directory record %s has unknown type %q", r.UID, r.Type)
		}
	}
	return New(f.Records...), nil
}

// RecordWithUID implements Directory.
func (s *Static) RecordWithUID(ctx context.Context, uid string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Addresses = append([]string(nil), r.Addresses...)
	return &cp, nil
}

// Remove drops a record, as deprovisioning does before the purge runs.
func (s *Static) Remove(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uid)
}

// UIDs lists every known UID in order.
func (s *Static) UIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uids := make([]string, 0, len(s.records))
	for uid := range s.records {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}
