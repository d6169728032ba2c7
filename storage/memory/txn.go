package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/cyp0633/caldora-purge/storage"
)

type txn struct {
	store *Store
	state *state
	done  bool
}

var errClosed = &storage.Error{
	Type:    storage.ErrInvalidInput,
	Message: "transaction already finished",
}

func notFound(what string) error {
	return &storage.Error{
		Type:    storage.ErrNotFound,
		Message: what + " not found",
	}
}

func (t *txn) check() error {
	if t.done {
		return errClosed
	}
	return nil
}

// Commit publishes the transaction's changes.
func (t *txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	defer t.store.writer.Unlock()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCommit; err != nil {
		s.failCommit = nil
		s.logger.Debug("commit failed, changes discarded", "error", err)
		return err
	}
	s.committed = t.state
	s.logger.Debug("transaction committed",
		"homes", len(t.state.homes),
		"objects", len(t.state.objects))
	return nil
}

// Abort discards the transaction's changes. Aborting a finished transaction
// is a no-op.
func (t *txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.writer.Unlock()
	t.store.logger.Debug("transaction aborted")
	return nil
}

// Home operations

func (t *txn) HomeWithUID(_ context.Context, uid string) (*storage.Home, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	h, ok := t.state.homes[uid]
	if !ok {
		return nil, notFound("home")
	}
	cp := *h
	return &cp, nil
}

func (t *txn) CreateHome(_ context.Context, uid string) (*storage.Home, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, &storage.Error{Type: storage.ErrInvalidInput, Message: "empty home uid"}
	}
	if _, exists := t.state.homes[uid]; exists {
		return nil, &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "home already exists",
		}
	}
	h := &storage.Home{UID: uid, Status: storage.HomeActive, Created: t.store.now()}
	t.state.homes[uid] = h
	cp := *h
	return &cp, nil
}

func (t *txn) DisableHome(_ context.Context, uid string) error {
	if err := t.check(); err != nil {
		return err
	}
	h, ok := t.state.homes[uid]
	if !ok {
		return notFound("home")
	}
	h.Status = storage.HomeDisabled
	return nil
}

// DeleteHome removes the home together with everything it still owns and
// every share binding or proxy assignment referencing it.
func (t *txn) DeleteHome(_ context.Context, uid string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.homes[uid]; !ok {
		return notFound("home")
	}
	for k, cal := range t.state.calendars {
		if cal.HomeUID == uid {
			t.dropCalendar(k, uid, cal.Name)
		}
	}
	for name, sh := range t.state.shares {
		if sh.ShareeUID == uid || sh.OwnerUID == uid {
			delete(t.state.shares, name)
		}
	}
	for k, p := range t.state.proxies {
		if p.OwnerUID == uid || p.ProxyUID == uid {
			delete(t.state.proxies, k)
		}
	}
	delete(t.state.homes, uid)
	return nil
}

// Calendar operations

func (t *txn) Calendars(_ context.Context, homeUID string) ([]*storage.Calendar, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if _, ok := t.state.homes[homeUID]; !ok {
		return nil, notFound("home")
	}
	var calendars []*storage.Calendar
	for _, k := range sortedKeys(t.state.calendars) {
		cal := t.state.calendars[k]
		if cal.HomeUID == homeUID {
			cp := *cal
			calendars = append(calendars, &cp)
		}
	}
	return calendars, nil
}

func (t *txn) CreateCalendar(_ context.Context, homeUID, name string) (*storage.Calendar, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if _, ok := t.state.homes[homeUID]; !ok {
		return nil, notFound("home")
	}
	k := key(homeUID, name)
	if _, exists := t.state.calendars[k]; exists {
		return nil, &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "calendar already exists",
		}
	}
	now := t.store.now()
	cal := &storage.Calendar{HomeUID: homeUID, Name: name, Created: now, Modified: now}
	t.state.calendars[k] = cal
	cp := *cal
	return &cp, nil
}

func (t *txn) DeleteCalendar(_ context.Context, homeUID, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	k := key(homeUID, name)
	if _, exists := t.state.calendars[k]; !exists {
		return notFound("calendar")
	}
	t.dropCalendar(k, homeUID, name)
	return nil
}

// dropCalendar deletes a calendar with its objects, attachments and the
// share bindings that expose it.
func (t *txn) dropCalendar(k, homeUID, name string) {
	delete(t.state.calendars, k)
	for objKey := range t.state.objects {
		if hasPrefix(objKey, homeUID, name) {
			delete(t.state.objects, objKey)
		}
	}
	for ak := range t.state.attachments {
		if hasPrefix(ak, homeUID, name) {
			delete(t.state.attachments, ak)
		}
	}
	for sn, sh := range t.state.shares {
		if sh.OwnerUID == homeUID && sh.CalendarName == name {
			delete(t.state.shares, sn)
		}
	}
}

// Calendar object operations

func (t *txn) Objects(_ context.Context, homeUID, calendarName string) ([]*storage.Object, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if _, ok := t.state.calendars[key(homeUID, calendarName)]; !ok {
		return nil, notFound("calendar")
	}
	var objects []*storage.Object
	for _, k := range sortedKeys(t.state.objects) {
		if !hasPrefix(k, homeUID, calendarName) {
			continue
		}
		obj, err := t.state.objects[k].decode()
		if err != nil {
			t.store.logger.Warn("stored object is unreadable", "object", k, "error", err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (t *txn) Object(_ context.Context, homeUID, calendarName, name string) (*storage.Object, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rec, ok := t.state.objects[key(homeUID, calendarName, name)]
	if !ok {
		return nil, notFound("object")
	}
	return rec.decode()
}

func (t *txn) PutObject(_ context.Context, obj *storage.Object) error {
	if err := t.check(); err != nil {
		return err
	}
	if obj == nil || obj.Name == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "object name is required"}
	}
	if _, ok := t.state.calendars[key(obj.HomeUID, obj.CalendarName)]; !ok {
		return notFound("calendar")
	}
	text, err := storage.EncodeCalendar(obj.Data)
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "invalid calendar data", Err: err}
	}
	if obj.UID == "" {
		obj.UID = storage.ObjectUID(obj.Data)
	}
	obj.ETag = storage.ETag([]byte(text))
	obj.Modified = t.store.now()

	obj.Raw = text

	rec := &objectRecord{Object: *obj, text: text}
	rec.Data = nil
	t.state.objects[key(obj.HomeUID, obj.CalendarName, obj.Name)] = rec
	return nil
}

func (t *txn) DeleteObject(_ context.Context, homeUID, calendarName, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	k := key(homeUID, calendarName, name)
	if _, ok := t.state.objects[k]; !ok {
		return notFound("object")
	}
	delete(t.state.objects, k)
	for ak := range t.state.attachments {
		if hasPrefix(ak, homeUID, calendarName, name) {
			delete(t.state.attachments, ak)
		}
	}
	return nil
}

// decode always returns the object; Data stays nil when the text is bad.
func (r *objectRecord) decode() (*storage.Object, error) {
	obj := r.Object
	obj.Raw = r.text
	cal, err := storage.DecodeCalendar(r.text)
	if err != nil {
		return &obj, &storage.Error{Type: storage.ErrInvalidInput, Message: "stored object is unreadable", Err: err}
	}
	obj.Data = cal
	return &obj, nil
}

// Attachment operations

func (t *txn) Attachments(_ context.Context, homeUID, calendarName, objectName string) ([]*storage.Attachment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var atts []*storage.Attachment
	for _, k := range sortedKeys(t.state.attachments) {
		if !hasPrefix(k, homeUID, calendarName, objectName) {
			continue
		}
		att := *t.state.attachments[k]
		att.Data = append([]byte(nil), att.Data...)
		atts = append(atts, &att)
	}
	return atts, nil
}

func (t *txn) CreateAttachment(_ context.Context, att *storage.Attachment) error {
	if err := t.check(); err != nil {
		return err
	}
	if att == nil || att.Name == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "attachment name is required"}
	}
	if _, ok := t.state.objects[key(att.HomeUID, att.CalendarName, att.ObjectName)]; !ok {
		return notFound("object")
	}
	k := key(att.HomeUID, att.CalendarName, att.ObjectName, att.Name)
	if _, exists := t.state.attachments[k]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "attachment already exists"}
	}
	cp := *att
	cp.Data = append([]byte(nil), att.Data...)
	t.state.attachments[k] = &cp
	return nil
}

func (t *txn) DeleteAttachment(_ context.Context, homeUID, calendarName, objectName, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	k := key(homeUID, calendarName, objectName, name)
	if _, ok := t.state.attachments[k]; !ok {
		return notFound("attachment")
	}
	delete(t.state.attachments, k)
	return nil
}

// Sharing operations

func (t *txn) ShareWith(_ context.Context, ownerUID, calendarName, shareeUID string, mode storage.BindMode) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	if _, ok := t.state.calendars[key(ownerUID, calendarName)]; !ok {
		return "", notFound("calendar")
	}
	if _, ok := t.state.homes[shareeUID]; !ok {
		return "", notFound("sharee home")
	}
	if ownerUID == shareeUID {
		return "", &storage.Error{Type: storage.ErrInvalidInput, Message: "cannot share a calendar with its owner"}
	}
	for _, sh := range t.state.shares {
		if sh.OwnerUID == ownerUID && sh.CalendarName == calendarName && sh.ShareeUID == shareeUID {
			return "", &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already shared with home"}
		}
	}
	name := uuid.NewString()
	t.state.shares[name] = &storage.Share{
		Name:         name,
		OwnerUID:     ownerUID,
		CalendarName: calendarName,
		ShareeUID:    shareeUID,
		Mode:         mode,
	}
	return name, nil
}

// SharedChild resolves a shared calendar by its name in the sharee's home. A
// binding that no longer exists resolves to nil without an error.
func (t *txn) SharedChild(_ context.Context, shareeUID, name string) (*storage.Share, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	sh, ok := t.state.shares[name]
	if !ok || sh.ShareeUID != shareeUID {
		return nil, nil
	}
	cp := *sh
	return &cp, nil
}

func (t *txn) SharesOwnedBy(_ context.Context, ownerUID string) ([]*storage.Share, error) {
	return t.filterShares(func(sh *storage.Share) bool { return sh.OwnerUID == ownerUID })
}

func (t *txn) SharesInto(_ context.Context, shareeUID string) ([]*storage.Share, error) {
	return t.filterShares(func(sh *storage.Share) bool { return sh.ShareeUID == shareeUID })
}

func (t *txn) filterShares(match func(*storage.Share) bool) ([]*storage.Share, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var shares []*storage.Share
	for _, name := range sortedKeys(t.state.shares) {
		sh := t.state.shares[name]
		if match(sh) {
			cp := *sh
			shares = append(shares, &cp)
		}
	}
	return shares, nil
}

func (t *txn) Unshare(_ context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.shares[name]; !ok {
		return notFound("share")
	}
	delete(t.state.shares, name)
	return nil
}

// Proxy operations

func (t *txn) AddProxy(_ context.Context, p storage.Proxy) error {
	if err := t.check(); err != nil {
		return err
	}
	if p.OwnerUID == "" || p.ProxyUID == "" || p.OwnerUID == p.ProxyUID {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "invalid proxy assignment"}
	}
	t.state.proxies[key(p.OwnerUID, p.ProxyUID)] = p
	return nil
}

func (t *txn) Proxies(_ context.Context, uid string) ([]storage.Proxy, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var proxies []storage.Proxy
	for _, k := range sortedKeys(t.state.proxies) {
		p := t.state.proxies[k]
		if p.OwnerUID == uid || p.ProxyUID == uid {
			proxies = append(proxies, p)
		}
	}
	return proxies, nil
}

func (t *txn) RemoveProxies(_ context.Context, uid string) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	removed := 0
	for k, p := range t.state.proxies {
		if p.OwnerUID == uid || p.ProxyUID == uid {
			delete(t.state.proxies, k)
			removed++
		}
	}
	return removed, nil
}

var _ storage.Txn = (*txn)(nil)
var _ storage.Store = (*Store)(nil)
