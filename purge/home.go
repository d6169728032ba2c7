package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cyp0633/caldora-purge/journal"
	"github.com/cyp0633/caldora-purge/recurrence"
	"github.com/cyp0633/caldora-purge/storage"
)

// purgeHome does the work for one principal inside txn. A returned error
// aborts the transaction; problems with individual objects are logged and
// the object is left alone.
func (s *Service) purgeHome(ctx context.Context, txn storage.Txn, logger *slog.Logger, uid string, opts Options, cutoff time.Time) (*principalResult, error) {
	res := &principalResult{}
	cua := "urn:uuid:" + uid

	home, err := txn.HomeWithUID(ctx, uid)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("look up home: %w", err)
		}
		logger.Debug("no calendar home")
		res.status = journal.StatusNoHome
		if opts.Proxies {
			if err := removeProxies(ctx, txn, logger, uid); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	logger.Debug("purging home", "status", string(home.Status))

	cals, err := txn.Calendars(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	var skipped *multierror.Error
	for _, cal := range cals {
		objs, err := txn.Objects(ctx, uid, cal.Name)
		if err != nil {
			return nil, fmt.Errorf("list objects of %s: %w", cal.Name, err)
		}
		for _, obj := range objs {
			if obj.Data == nil {
				skipped = multierror.Append(skipped, fmt.Errorf("%s/%s: undecodable calendar data", cal.Name, obj.Name))
				continue
			}
			d, err := s.engine.Decide(obj.Data, cutoff, cua)
			if err != nil {
				skipped = multierror.Append(skipped, fmt.Errorf("%s/%s: %w", cal.Name, obj.Name, err))
				continue
			}

			level := slog.LevelDebug
			if opts.Verbose {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "object decision",
				"calendar", cal.Name,
				"object", obj.Name,
				"action", d.Action.String(),
				"role", d.Role.String())

			switch d.Action {
			case recurrence.ShouldDelete:
				if err := deleteObject(ctx, txn, obj); err != nil {
					return nil, err
				}
			case recurrence.Modified:
				updated := *obj
				updated.Data = d.Calendar.MustGet()
				if err := txn.PutObject(ctx, &updated); err != nil {
					return nil, fmt.Errorf("update %s/%s: %w", cal.Name, obj.Name, err)
				}
			default:
				continue
			}
			res.count++
			if d.Role == recurrence.RoleOrganizer {
				res.notices = append(res.notices, Notice{UID: d.UID, Organizer: cua, Action: d.Action})
			}
		}
	}
	if skipped != nil {
		logger.Warn("skipped calendar objects",
			"skipped", len(skipped.Errors),
			"error", skipped.ErrorOrNil())
	}

	if err := removeShares(ctx, txn, logger, uid); err != nil {
		return nil, err
	}
	if opts.Proxies {
		if err := removeProxies(ctx, txn, logger, uid); err != nil {
			return nil, err
		}
	}

	if !opts.Completely {
		if err := txn.DisableHome(ctx, uid); err != nil {
			return nil, fmt.Errorf("disable home: %w", err)
		}
		res.status = journal.StatusDisabled
		return res, nil
	}

	for _, cal := range cals {
		objs, err := txn.Objects(ctx, uid, cal.Name)
		if err != nil {
			return nil, fmt.Errorf("list objects of %s: %w", cal.Name, err)
		}
		for _, obj := range objs {
			if err := deleteAttachments(ctx, txn, obj); err != nil {
				return nil, err
			}
		}
		if err := txn.DeleteCalendar(ctx, uid, cal.Name); err != nil {
			return nil, fmt.Errorf("delete calendar %s: %w", cal.Name, err)
		}
	}
	if err := txn.DeleteHome(ctx, uid); err != nil {
		return nil, fmt.Errorf("delete home: %w", err)
	}
	res.status = journal.StatusPurged
	return res, nil
}

func deleteObject(ctx context.Context, txn storage.Txn, obj *storage.Object) error {
	if err := deleteAttachments(ctx, txn, obj); err != nil {
		return err
	}
	if err := txn.DeleteObject(ctx, obj.HomeUID, obj.CalendarName, obj.Name); err != nil {
		return fmt.Errorf("delete %s/%s: %w", obj.CalendarName, obj.Name, err)
	}
	return nil
}

func deleteAttachments(ctx context.Context, txn storage.Txn, obj *storage.Object) error {
	atts, err := txn.Attachments(ctx, obj.HomeUID, obj.CalendarName, obj.Name)
	if err != nil {
		return fmt.Errorf("list attachments of %s/%s: %w", obj.CalendarName, obj.Name, err)
	}
	for _, att := range atts {
		if err := txn.DeleteAttachment(ctx, att.HomeUID, att.CalendarName, att.ObjectName, att.Name); err != nil {
			return fmt.Errorf("delete attachment %s of %s/%s: %w", att.Name, obj.CalendarName, obj.Name, err)
		}
	}
	return nil
}

func removeShares(ctx context.Context, txn storage.Txn, logger *slog.Logger, uid string) error {
	owned, err := txn.SharesOwnedBy(ctx, uid)
	if err != nil {
		return fmt.Errorf("list shares owned by %s: %w", uid, err)
	}
	into, err := txn.SharesInto(ctx, uid)
	if err != nil {
		return fmt.Errorf("list shares into %s: %w", uid, err)
	}
	for _, sh := range append(owned, into...) {
		if err := txn.Unshare(ctx, sh.Name); err != nil {
			return fmt.Errorf("unshare %s: %w", sh.Name, err)
		}
	}
	if n := len(owned) + len(into); n > 0 {
		logger.Debug("removed shares", "shared_out", len(owned), "shared_in", len(into))
	}
	return nil
}

func removeProxies(ctx context.Context, txn storage.Txn, logger *slog.Logger, uid string) error {
	n, err := txn.RemoveProxies(ctx, uid)
	if err != nil {
		return fmt.Errorf("remove proxies: %w", err)
	}
	if n > 0 {
		logger.Debug("removed proxy assignments", "count", n)
	}
	return nil
}
