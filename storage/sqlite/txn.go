package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cyp0633/caldora-purge/storage"
)

type txn struct {
	store *Store
	tx    *sql.Tx
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

func (t *txn) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *txn) homeExists(ctx context.Context, uid string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM homes WHERE uid = ?`, uid)
}

func (t *txn) calendarExists(ctx context.Context, homeUID, name string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM calendars WHERE home_uid = ? AND name = ?`, homeUID, name)
}

// Commit publishes the transaction's changes.
func (t *txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return storage.NewError(storage.ErrUnavailable, "commit transaction", err)
	}
	return nil
}

// Abort discards the transaction's changes. Aborting a finished transaction
// is a no-op.
func (t *txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Home operations

func (t *txn) HomeWithUID(ctx context.Context, uid string) (*storage.Home, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var (
		h       = storage.Home{UID: uid}
		status  string
		created int64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT status, created_at FROM homes WHERE uid = ?`, uid).Scan(&status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("home")
	}
	if err != nil {
		return nil, fmt.Errorf("get home: %w", err)
	}
	h.Status = storage.HomeStatus(status)
	h.Created = fromMillis(created)
	return &h, nil
}

func (t *txn) CreateHome(ctx context.Context, uid string) (*storage.Home, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, &storage.Error{Type: storage.ErrInvalidInput, Message: "empty home uid"}
	}
	h := &storage.Home{UID: uid, Status: storage.HomeActive, Created: t.store.now().UTC()}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO homes (uid, status, created_at) VALUES (?, ?, ?)`,
		h.UID, string(h.Status), toMillis(h.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &storage.Error{Type: storage.ErrAlreadyExists, Message: "home already exists"}
		}
		return nil, fmt.Errorf("create home: %w", err)
	}
	return h, nil
}

func (t *txn) DisableHome(ctx context.Context, uid string) error {
	if err := t.check(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE homes SET status = ? WHERE uid = ?`, string(storage.HomeDisabled), uid)
	if err != nil {
		return fmt.Errorf("disable home: %w", err)
	}
	return requireRow(res, "home")
}

// DeleteHome removes the home together with everything it still owns and
// every share binding or proxy assignment referencing it.
func (t *txn) DeleteHome(ctx context.Context, uid string) error {
	if err := t.check(); err != nil {
		return err
	}
	ok, err := t.homeExists(ctx, uid)
	if err != nil {
		return fmt.Errorf("get home: %w", err)
	}
	if !ok {
		return notFound("home")
	}
	for _, stmt := range []string{
		`DELETE FROM shares WHERE owner_uid = ?1 OR sharee_uid = ?1`,
		`DELETE FROM proxies WHERE owner_uid = ?1 OR proxy_uid = ?1`,
		`DELETE FROM attachments WHERE home_uid = ?1`,
		`DELETE FROM objects WHERE home_uid = ?1`,
		`DELETE FROM calendars WHERE home_uid = ?1`,
		`DELETE FROM homes WHERE uid = ?1`,
	} {
		if _, err := t.tx.ExecContext(ctx, stmt, uid); err != nil {
			return fmt.Errorf("delete home: %w", err)
		}
	}
	return nil
}

// Calendar operations

func (t *txn) Calendars(ctx context.Context, homeUID string) ([]*storage.Calendar, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	ok, err := t.homeExists(ctx, homeUID)
	if err != nil {
		return nil, fmt.Errorf("get home: %w", err)
	}
	if !ok {
		return nil, notFound("home")
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, created_at, modified_at FROM calendars WHERE home_uid = ? ORDER BY name`, homeUID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var calendars []*storage.Calendar
	for rows.Next() {
		var (
			cal               = storage.Calendar{HomeUID: homeUID}
			created, modified int64
		)
		if err := rows.Scan(&cal.Name, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		cal.Created = fromMillis(created)
		cal.Modified = fromMillis(modified)
		calendars = append(calendars, &cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendars: %w", err)
	}
	return calendars, nil
}

func (t *txn) CreateCalendar(ctx context.Context, homeUID, name string) (*storage.Calendar, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	ok, err := t.homeExists(ctx, homeUID)
	if err != nil {
		return nil, fmt.Errorf("get home: %w", err)
	}
	if !ok {
		return nil, notFound("home")
	}
	now := t.store.now().UTC()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO calendars (home_uid, name, created_at, modified_at) VALUES (?, ?, ?, ?)`,
		homeUID, name, toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already exists"}
		}
		return nil, fmt.Errorf("create calendar: %w", err)
	}
	return &storage.Calendar{HomeUID: homeUID, Name: name, Created: now, Modified: now}, nil
}

// DeleteCalendar deletes a calendar with its objects, attachments and the
// share bindings that expose it.
func (t *txn) DeleteCalendar(ctx context.Context, homeUID, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	ok, err := t.calendarExists(ctx, homeUID, name)
	if err != nil {
		return fmt.Errorf("get calendar: %w", err)
	}
	if !ok {
		return notFound("calendar")
	}
	for _, stmt := range []string{
		`DELETE FROM shares WHERE owner_uid = ?1 AND calendar_name = ?2`,
		`DELETE FROM attachments WHERE home_uid = ?1 AND calendar_name = ?2`,
		`DELETE FROM objects WHERE home_uid = ?1 AND calendar_name = ?2`,
		`DELETE FROM calendars WHERE home_uid = ?1 AND name = ?2`,
	} {
		if _, err := t.tx.ExecContext(ctx, stmt, homeUID, name); err != nil {
			return fmt.Errorf("delete calendar: %w", err)
		}
	}
	return nil
}

// Calendar object operations

const objectColumns = `name, uid, etag, modified_at, data`

func (t *txn) scanObject(homeUID, calendarName string, scan func(dest ...any) error) (*storage.Object, error) {
	var (
		obj      = storage.Object{HomeUID: homeUID, CalendarName: calendarName}
		modified int64
	)
	if err := scan(&obj.Name, &obj.UID, &obj.ETag, &modified, &obj.Raw); err != nil {
		return nil, err
	}
	obj.Modified = fromMillis(modified)
	cal, err := storage.DecodeCalendar(obj.Raw)
	if err != nil {
		return &obj, &storage.Error{Type: storage.ErrInvalidInput, Message: "stored object is unreadable", Err: err}
	}
	obj.Data = cal
	return &obj, nil
}

func (t *txn) Objects(ctx context.Context, homeUID, calendarName string) ([]*storage.Object, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	ok, err := t.calendarExists(ctx, homeUID, calendarName)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	if !ok {
		return nil, notFound("calendar")
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE home_uid = ? AND calendar_name = ? ORDER BY name`,
		homeUID, calendarName)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var objects []*storage.Object
	for rows.Next() {
		obj, err := t.scanObject(homeUID, calendarName, rows.Scan)
		if obj == nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if err != nil {
			t.store.logger.Warn("stored object is unreadable",
				"object", homeUID+"/"+calendarName+"/"+obj.Name, "error", err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return objects, nil
}

func (t *txn) Object(ctx context.Context, homeUID, calendarName, name string) (*storage.Object, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE home_uid = ? AND calendar_name = ? AND name = ?`,
		homeUID, calendarName, name)
	obj, err := t.scanObject(homeUID, calendarName, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("object")
	}
	if obj == nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, err
}

func (t *txn) PutObject(ctx context.Context, obj *storage.Object) error {
	if err := t.check(); err != nil {
		return err
	}
	if obj == nil || obj.Name == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "object name is required"}
	}
	ok, err := t.calendarExists(ctx, obj.HomeUID, obj.CalendarName)
	if err != nil {
		return fmt.Errorf("get calendar: %w", err)
	}
	if !ok {
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
	obj.Modified = t.store.now().UTC()
	obj.Raw = text

	_, err = t.tx.ExecContext(ctx, `
INSERT INTO objects (home_uid, calendar_name, name, uid, etag, modified_at, data)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (home_uid, calendar_name, name) DO UPDATE SET
    uid = excluded.uid,
    etag = excluded.etag,
    modified_at = excluded.modified_at,
    data = excluded.data`,
		obj.HomeUID, obj.CalendarName, obj.Name, obj.UID, obj.ETag, toMillis(obj.Modified), text)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (t *txn) DeleteObject(ctx context.Context, homeUID, calendarName, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE home_uid = ? AND calendar_name = ? AND object_name = ?`,
		homeUID, calendarName, name); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM objects WHERE home_uid = ? AND calendar_name = ? AND name = ?`,
		homeUID, calendarName, name)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return requireRow(res, "object")
}

// Attachment operations

func (t *txn) Attachments(ctx context.Context, homeUID, calendarName, objectName string) ([]*storage.Attachment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, `
SELECT name, content_type, data FROM attachments
WHERE home_uid = ? AND calendar_name = ? AND object_name = ?
ORDER BY name`,
		homeUID, calendarName, objectName)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []*storage.Attachment
	for rows.Next() {
		att := storage.Attachment{HomeUID: homeUID, CalendarName: calendarName, ObjectName: objectName}
		if err := rows.Scan(&att.Name, &att.ContentType, &att.Data); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return atts, nil
}

func (t *txn) CreateAttachment(ctx context.Context, att *storage.Attachment) error {
	if err := t.check(); err != nil {
		return err
	}
	if att == nil || att.Name == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "attachment name is required"}
	}
	ok, err := t.exists(ctx,
		`SELECT 1 FROM objects WHERE home_uid = ? AND calendar_name = ? AND name = ?`,
		att.HomeUID, att.CalendarName, att.ObjectName)
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	if !ok {
		return notFound("object")
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO attachments (home_uid, calendar_name, object_name, name, content_type, data)
VALUES (?, ?, ?, ?, ?, ?)`,
		att.HomeUID, att.CalendarName, att.ObjectName, att.Name, att.ContentType, att.Data)
	if err != nil {
		if isUniqueViolation(err) {
			return &storage.Error{Type: storage.ErrAlreadyExists, Message: "attachment already exists"}
		}
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (t *txn) DeleteAttachment(ctx context.Context, homeUID, calendarName, objectName, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
DELETE FROM attachments
WHERE home_uid = ? AND calendar_name = ? AND object_name = ? AND name = ?`,
		homeUID, calendarName, objectName, name)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireRow(res, "attachment")
}

// Sharing operations

func (t *txn) ShareWith(ctx context.Context, ownerUID, calendarName, shareeUID string, mode storage.BindMode) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	ok, err := t.calendarExists(ctx, ownerUID, calendarName)
	if err != nil {
		return "", fmt.Errorf("get calendar: %w", err)
	}
	if !ok {
		return "", notFound("calendar")
	}
	if ok, err = t.homeExists(ctx, shareeUID); err != nil {
		return "", fmt.Errorf("get home: %w", err)
	}
	if !ok {
		return "", notFound("sharee home")
	}
	if ownerUID == shareeUID {
		return "", &storage.Error{Type: storage.ErrInvalidInput, Message: "cannot share a calendar with its owner"}
	}

	name := uuid.NewString()
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO shares (name, owner_uid, calendar_name, sharee_uid, mode)
VALUES (?, ?, ?, ?, ?)`,
		name, ownerUID, calendarName, shareeUID, int(mode))
	if err != nil {
		if isUniqueViolation(err) {
			return "", &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already shared with home"}
		}
		return "", fmt.Errorf("create share: %w", err)
	}
	return name, nil
}

const shareColumns = `name, owner_uid, calendar_name, sharee_uid, mode`

func scanShare(scan func(dest ...any) error) (*storage.Share, error) {
	var (
		sh   storage.Share
		mode int
	)
	if err := scan(&sh.Name, &sh.OwnerUID, &sh.CalendarName, &sh.ShareeUID, &mode); err != nil {
		return nil, err
	}
	sh.Mode = storage.BindMode(mode)
	return &sh, nil
}

// SharedChild resolves a shared calendar by its name in the sharee's home. A
// binding that no longer exists resolves to nil without an error.
func (t *txn) SharedChild(ctx context.Context, shareeUID, name string) (*storage.Share, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE name = ? AND sharee_uid = ?`, name, shareeUID)
	sh, err := scanShare(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return sh, nil
}

func (t *txn) SharesOwnedBy(ctx context.Context, ownerUID string) ([]*storage.Share, error) {
	return t.queryShares(ctx, `SELECT `+shareColumns+` FROM shares WHERE owner_uid = ? ORDER BY name`, ownerUID)
}

func (t *txn) SharesInto(ctx context.Context, shareeUID string) ([]*storage.Share, error) {
	return t.queryShares(ctx, `SELECT `+shareColumns+` FROM shares WHERE sharee_uid = ? ORDER BY name`, shareeUID)
}

func (t *txn) queryShares(ctx context.Context, query string, uid string) ([]*storage.Share, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []*storage.Share
	for rows.Next() {
		sh, err := scanShare(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return shares, nil
}

func (t *txn) Unshare(ctx context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM shares WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return requireRow(res, "share")
}

// Proxy operations

func (t *txn) AddProxy(ctx context.Context, p storage.Proxy) error {
	if err := t.check(); err != nil {
		return err
	}
	if p.OwnerUID == "" || p.ProxyUID == "" || p.OwnerUID == p.ProxyUID {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "invalid proxy assignment"}
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO proxies (owner_uid, proxy_uid, mode) VALUES (?, ?, ?)
ON CONFLICT (owner_uid, proxy_uid) DO UPDATE SET mode = excluded.mode`,
		p.OwnerUID, p.ProxyUID, int(p.Mode))
	if err != nil {
		return fmt.Errorf("add proxy: %w", err)
	}
	return nil
}

func (t *txn) Proxies(ctx context.Context, uid string) ([]storage.Proxy, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, `
SELECT owner_uid, proxy_uid, mode FROM proxies
WHERE owner_uid = ?1 OR proxy_uid = ?1
ORDER BY owner_uid, proxy_uid`, uid)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []storage.Proxy
	for rows.Next() {
		var (
			p    storage.Proxy
			mode int
		)
		if err := rows.Scan(&p.OwnerUID, &p.ProxyUID, &mode); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		p.Mode = storage.BindMode(mode)
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return proxies, nil
}

func (t *txn) RemoveProxies(ctx context.Context, uid string) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM proxies WHERE owner_uid = ?1 OR proxy_uid = ?1`, uid)
	if err != nil {
		return 0, fmt.Errorf("remove proxies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove proxies: %w", err)
	}
	return int(n), nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(what)
	}
	return nil
}

var _ storage.Txn = (*txn)(nil)
