// Package storagetest holds behavioural tests every storage.Store backend
// must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/caldora-purge/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Event builds a single-VEVENT calendar with the given UID and start.
func Event(uid, dtstart string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Caldora//Purge Test//EN")
	ev := ical.NewComponent(ical.CompEvent)
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.Set(&ical.Prop{Name: ical.PropDateTimeStamp, Params: ical.Params{}, Value: "20100101T000000Z"})
	ev.Props.Set(&ical.Prop{Name: ical.PropDateTimeStart, Params: ical.Params{}, Value: dtstart})
	cal.Children = append(cal.Children, ev)
	return cal
}

// Run exercises the storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("HomeLookupNeverProvisions", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		_, err := tx.HomeWithUID(ctx, "ghost")
		assert.True(t, storage.IsNotFound(err))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		defer tx.Abort()
		_, err = tx.HomeWithUID(ctx, "ghost")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("HomeLifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		home, err := tx.CreateHome(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, storage.HomeActive, home.Status)
		_, err = tx.CreateHome(ctx, "alice")
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		require.NoError(t, tx.DisableHome(ctx, "alice"))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		home, err = tx.HomeWithUID(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, storage.HomeDisabled, home.Status)
		require.NoError(t, tx.DeleteHome(ctx, "alice"))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		defer tx.Abort()
		_, err = tx.HomeWithUID(ctx, "alice")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("NamesWithSlashesStaySeparate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		_, err := tx.CreateHome(ctx, "a")
		require.NoError(t, err)
		_, err = tx.CreateHome(ctx, "a/b")
		require.NoError(t, err)
		_, err = tx.CreateCalendar(ctx, "a", "b/c")
		require.NoError(t, err)
		_, err = tx.CreateCalendar(ctx, "a/b", "c")
		require.NoError(t, err)
		require.NoError(t, tx.PutObject(ctx, &storage.Object{
			HomeUID: "a/b", CalendarName: "c", Name: "event.ics", Data: Event("slash-1", "20110101T100000Z"),
		}))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		require.NoError(t, tx.DeleteHome(ctx, "a"))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		defer tx.Abort()
		cals, err := tx.Calendars(ctx, "a/b")
		require.NoError(t, err)
		require.Len(t, cals, 1)
		assert.Equal(t, "c", cals[0].Name)
		objs, err := tx.Objects(ctx, "a/b", "c")
		require.NoError(t, err)
		assert.Len(t, objs, 1)
	})

	t.Run("AbortDiscards", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		_, err := tx.CreateHome(ctx, "bob")
		require.NoError(t, err)
		require.NoError(t, tx.Abort())

		tx = begin(t, s)
		defer tx.Abort()
		_, err = tx.HomeWithUID(ctx, "bob")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("ObjectsAndAttachments", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		_, err := tx.CreateHome(ctx, "carol")
		require.NoError(t, err)
		_, err = tx.CreateCalendar(ctx, "carol", "work")
		require.NoError(t, err)

		obj := &storage.Object{HomeUID: "carol", CalendarName: "work", Name: "a.ics", Data: Event("uid-a", "20101201T100000Z")}
		require.NoError(t, tx.PutObject(ctx, obj))
		assert.Equal(t, "uid-a", obj.UID)
		assert.NotEmpty(t, obj.ETag)
		require.NoError(t, tx.PutObject(ctx, &storage.Object{HomeUID: "carol", CalendarName: "work", Name: "b.ics", Data: Event("uid-b", "20101202T100000Z")}))

		require.NoError(t, tx.CreateAttachment(ctx, &storage.Attachment{
			HomeUID: "carol", CalendarName: "work", ObjectName: "a.ics",
			Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello"),
		}))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		objects, err := tx.Objects(ctx, "carol", "work")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "a.ics", objects[0].Name)
		require.NotNil(t, objects[0].Data)
		assert.Equal(t, "uid-a", storage.ObjectUID(objects[0].Data))

		atts, err := tx.Attachments(ctx, "carol", "work", "a.ics")
		require.NoError(t, err)
		require.Len(t, atts, 1)
		assert.Equal(t, []byte("hello"), atts[0].Data)

		// replace content
		objects[1].Data = Event("uid-b", "20101203T100000Z")
		oldTag := objects[1].ETag
		require.NoError(t, tx.PutObject(ctx, objects[1]))
		assert.NotEqual(t, oldTag, objects[1].ETag)

		require.NoError(t, tx.DeleteAttachment(ctx, "carol", "work", "a.ics", "notes.txt"))
		require.NoError(t, tx.DeleteObject(ctx, "carol", "work", "a.ics"))
		assert.True(t, storage.IsNotFound(tx.DeleteObject(ctx, "carol", "work", "a.ics")))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		defer tx.Abort()
		objects, err = tx.Objects(ctx, "carol", "work")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		got, err := tx.Object(ctx, "carol", "work", "b.ics")
		require.NoError(t, err)
		dtstart := got.Data.Children[0].Props.Get(ical.PropDateTimeStart)
		require.NotNil(t, dtstart)
		assert.Equal(t, "20101203T100000Z", dtstart.Value)
	})

	t.Run("DeleteObjectDropsAttachments", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		seedHome(t, tx, "dave", "cal")
		require.NoError(t, tx.PutObject(ctx, &storage.Object{HomeUID: "dave", CalendarName: "cal", Name: "x.ics", Data: Event("x", "20101201T100000Z")}))
		require.NoError(t, tx.CreateAttachment(ctx, &storage.Attachment{HomeUID: "dave", CalendarName: "cal", ObjectName: "x.ics", Name: "f.bin", Data: []byte{1}}))
		require.NoError(t, tx.DeleteObject(ctx, "dave", "cal", "x.ics"))
		atts, err := tx.Attachments(ctx, "dave", "cal", "x.ics")
		require.NoError(t, err)
		assert.Empty(t, atts)
		require.NoError(t, tx.Abort())
	})

	t.Run("SharesInBothDirections", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		seedHome(t, tx, "erin", "calendar1")
		seedHome(t, tx, "frank", "calendar2")

		toFrank, err := tx.ShareWith(ctx, "erin", "calendar1", "frank", storage.BindWrite)
		require.NoError(t, err)
		toErin, err := tx.ShareWith(ctx, "frank", "calendar2", "erin", storage.BindWrite)
		require.NoError(t, err)
		assert.NotEqual(t, toFrank, toErin)
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		child, err := tx.SharedChild(ctx, "frank", toFrank)
		require.NoError(t, err)
		require.NotNil(t, child)
		assert.Equal(t, "erin", child.OwnerUID)
		assert.Equal(t, storage.BindWrite, child.Mode)

		owned, err := tx.SharesOwnedBy(ctx, "erin")
		require.NoError(t, err)
		require.Len(t, owned, 1)
		into, err := tx.SharesInto(ctx, "erin")
		require.NoError(t, err)
		require.Len(t, into, 1)
		assert.Equal(t, "frank", into[0].OwnerUID)

		require.NoError(t, tx.Unshare(ctx, toFrank))
		assert.True(t, storage.IsNotFound(tx.Unshare(ctx, toFrank)))
		child, err = tx.SharedChild(ctx, "frank", toFrank)
		require.NoError(t, err)
		assert.Nil(t, child)
		require.NoError(t, tx.Commit())
	})

	t.Run("DeleteHomeRemovesReferences", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		seedHome(t, tx, "gina", "calendar1")
		seedHome(t, tx, "hank", "calendar2")
		toHank, err := tx.ShareWith(ctx, "gina", "calendar1", "hank", storage.BindRead)
		require.NoError(t, err)
		require.NoError(t, tx.AddProxy(ctx, storage.Proxy{OwnerUID: "hank", ProxyUID: "gina", Mode: storage.BindWrite}))
		require.NoError(t, tx.DeleteHome(ctx, "gina"))
		require.NoError(t, tx.Commit())

		tx = begin(t, s)
		defer tx.Abort()
		child, err := tx.SharedChild(ctx, "hank", toHank)
		require.NoError(t, err)
		assert.Nil(t, child)
		proxies, err := tx.Proxies(ctx, "hank")
		require.NoError(t, err)
		assert.Empty(t, proxies)
		calendars, err := tx.Calendars(ctx, "hank")
		require.NoError(t, err)
		assert.Len(t, calendars, 1)
	})

	t.Run("Proxies", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		defer tx.Abort()
		require.NoError(t, tx.AddProxy(ctx, storage.Proxy{OwnerUID: "ivy", ProxyUID: "jack", Mode: storage.BindRead}))
		require.NoError(t, tx.AddProxy(ctx, storage.Proxy{OwnerUID: "kate", ProxyUID: "ivy", Mode: storage.BindWrite}))
		require.NoError(t, tx.AddProxy(ctx, storage.Proxy{OwnerUID: "kate", ProxyUID: "jack", Mode: storage.BindWrite}))
		assert.ErrorIs(t, tx.AddProxy(ctx, storage.Proxy{OwnerUID: "ivy", ProxyUID: "ivy"}), storage.ErrInvalidInput)

		proxies, err := tx.Proxies(ctx, "ivy")
		require.NoError(t, err)
		assert.Len(t, proxies, 2)

		n, err := tx.RemoveProxies(ctx, "ivy")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		proxies, err = tx.Proxies(ctx, "jack")
		require.NoError(t, err)
		require.Len(t, proxies, 1)
		assert.Equal(t, "kate", proxies[0].OwnerUID)
	})

	t.Run("FinishedTransactionRejectsWork", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		tx := begin(t, s)
		require.NoError(t, tx.Commit())
		_, err := tx.CreateHome(ctx, "late")
		assert.Error(t, err)
		assert.NoError(t, tx.Abort())
	})
}

func begin(t *testing.T, s storage.Store) storage.Txn {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func seedHome(t *testing.T, tx storage.Txn, uid, calendar string) {
	t.Helper()
	ctx := context.Background()
	_, err := tx.CreateHome(ctx, uid)
	require.NoError(t, err)
	_, err = tx.CreateCalendar(ctx, uid, calendar)
	require.NoError(t, err)
}
