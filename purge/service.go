// Package purge removes everything a departing principal owns from the
// calendar store: their objects (cancelling or truncating the meetings they
// organize), the share bindings and delegations that reference them, and
// finally their home.
package purge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyp0633/caldora-purge/directory"
	"github.com/cyp0633/caldora-purge/journal"
	"github.com/cyp0633/caldora-purge/recurrence"
	"github.com/cyp0633/caldora-purge/storage"
)

const maxLockAttempts = 5

// Service purges principals from a store.
type Service struct {
	store     storage.Store
	directory directory.Directory
	engine    *recurrence.Engine
	notifier  Notifier
	journal   Journal
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	locks     *lockTable
}

// New creates a purge service. dir may be nil, in which case no directory
// lookups are made.
func New(store storage.Store, dir directory.Directory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	s := &Service{
		store:     store,
		directory: dir,
		engine:    recurrence.NewEngine(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		tracer:    otel.Tracer("github.com/cyp0633/caldora-purge/purge"),
		locks:     newLockTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	return s, nil
}

// Principals purges uids with a default Service and returns the number of
// objects changed together with the UIDs whose purge did not commit.
func Principals(ctx context.Context, store storage.Store, dir directory.Directory, uids []string, opts Options) (int, []string, error) {
	s, err := New(store, dir)
	if err != nil {
		return 0, nil, err
	}
	res, err := s.Purge(ctx, uids, opts)
	if res == nil {
		return 0, nil, err
	}
	return res.Count, res.IgnoredUIDs(), err
}

type outcome struct {
	uid       string
	attempted bool
	count     int
	err       error
	// unavailable marks a principal whose transaction could not be opened
	// because the store was unreachable.
	unavailable bool
}

// Purge purges every principal in uids. Each principal is handled in its own
// transaction; a failure leaves that principal untouched and is reported in
// Result.Ignored. Once ctx is done no further principal is started; those,
// and any principal whose transaction was cut short by ctx, are reported in
// Result.NotAttempted.
//
// The returned error is non-nil only when every attempted principal failed
// because the store was unavailable. The partial Result is returned with it.
func (s *Service) Purge(ctx context.Context, uids []string, opts Options) (*Result, error) {
	uids = dedupe(uids)

	cutoff := opts.Cutoff
	if cutoff.IsZero() {
		cutoff = s.now()
	}
	cutoff = cutoff.UTC()

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(uids) {
		workers = len(uids)
	}

	outcomes := make([]outcome, len(uids))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					outcomes[i] = outcome{uid: uids[i]}
					continue
				}
				outcomes[i] = s.purgePrincipal(ctx, uids[i], opts, cutoff)
			}
		}()
	}
	for i := range uids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res := &Result{}
	attempted, unavailable := 0, 0
	var storeErr error
	for _, o := range outcomes {
		switch {
		case !o.attempted:
			res.NotAttempted = append(res.NotAttempted, o.uid)
		case o.err != nil:
			attempted++
			res.Ignored = append(res.Ignored, Ignored{UID: o.uid, Reason: o.err.Error()})
			if o.unavailable {
				unavailable++
				if storeErr == nil {
					storeErr = o.err
				}
			}
		default:
			attempted++
			res.Count += o.count
		}
	}

	s.logger.Info("purge finished",
		"principals", len(uids),
		"count", res.Count,
		"ignored", len(res.Ignored),
		"not_attempted", len(res.NotAttempted))

	if attempted > 0 && unavailable == attempted {
		return res, fmt.Errorf("store unavailable: %w", storeErr)
	}
	return res, nil
}

// beginError marks a failure to open a transaction.
type beginError struct {
	err error
}

func (e *beginError) Error() string {
	return "begin transaction: " + e.err.Error()
}

func (e *beginError) Unwrap() error {
	return e.err
}

type principalResult struct {
	count   int
	notices []Notice
	status  journal.Status
}

func (s *Service) purgePrincipal(ctx context.Context, uid string, opts Options, cutoff time.Time) outcome {
	ctx, span := s.tracer.Start(ctx, "purge.principal", trace.WithAttributes(
		attribute.String("principal.uid", uid),
		attribute.Bool("purge.completely", opts.Completely),
	))
	defer span.End()

	logger := s.logger.With("uid", uid)
	s.lookup(ctx, logger, uid)

	res, err := s.runLocked(ctx, logger, uid, opts, cutoff)
	if err != nil {
		var be *beginError
		began := !errors.As(err, &be)
		if ctx.Err() != nil {
			// the transaction was aborted, nothing of this principal changed
			logger.Debug("purge interrupted", "began", began, "error", err)
			span.SetStatus(codes.Error, ctx.Err().Error())
			return outcome{uid: uid}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("purge failed", "error", err)
		s.record(ctx, logger, journal.Entry{
			UID:        uid,
			Completely: opts.Completely,
			Status:     journal.StatusIgnored,
			Reason:     err.Error(),
		})
		return outcome{
			uid:         uid,
			attempted:   true,
			err:         err,
			unavailable: !began && storage.IsUnavailable(err),
		}
	}

	span.SetAttributes(attribute.Int("purge.count", res.count))
	notifyCtx := context.WithoutCancel(ctx)
	for _, n := range res.notices {
		if err := s.notifier.NotifyCancel(notifyCtx, n); err != nil {
			logger.Warn("cancellation notice failed", "object_uid", n.UID, "error", err)
		}
	}
	s.record(ctx, logger, journal.Entry{
		UID:        uid,
		Count:      res.count,
		Completely: opts.Completely,
		Status:     res.status,
	})
	logger.Info("principal purged", "count", res.count, "status", string(res.status))
	return outcome{uid: uid, attempted: true, count: res.count}
}

// lookup consults the directory for reporting only.
func (s *Service) lookup(ctx context.Context, logger *slog.Logger, uid string) {
	if s.directory == nil {
		return
	}
	rec, err := s.directory.RecordWithUID(ctx, uid)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		logger.Debug("no directory record")
	case err != nil:
		logger.Warn("directory lookup failed", "error", err)
	default:
		logger.Debug("directory record", "type", string(rec.Type), "full_name", rec.FullName)
	}
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, e journal.Entry) {
	if s.journal == nil {
		return
	}
	e.PurgedAt = s.now()
	if err := s.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("journal write failed", "error", err)
	}
}

// runLocked locks the principal's home and every home it shares with, then
// purges inside one write transaction. When the share set grows between
// computing the lock set and opening the write transaction, the locks are
// released and the set recomputed.
func (s *Service) runLocked(ctx context.Context, logger *slog.Logger, uid string, opts Options, cutoff time.Time) (*principalResult, error) {
	peers, err := s.peerHomes(ctx, uid)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		unlock := s.locks.lock(peers)

		txn, err := s.store.Begin(ctx)
		if err != nil {
			unlock()
			return nil, &beginError{err: err}
		}

		current, err := peersIn(ctx, txn, uid)
		if err != nil {
			_ = txn.Abort()
			unlock()
			return nil, err
		}
		if !covers(peers, current) {
			_ = txn.Abort()
			unlock()
			if attempt == maxLockAttempts {
				return nil, fmt.Errorf("shares of %s kept changing while locking", uid)
			}
			logger.Debug("share set changed, relocking", "attempt", attempt)
			peers = sortedUnique(append(peers, current...))
			continue
		}

		res, err := s.purgeHome(ctx, txn, logger, uid, opts, cutoff)
		if err != nil {
			_ = txn.Abort()
			unlock()
			return nil, err
		}
		err = txn.Commit()
		unlock()
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return res, nil
	}
}

func (s *Service) peerHomes(ctx context.Context, uid string) ([]string, error) {
	txn, err := s.store.Begin(ctx)
	if err != nil {
		return nil, &beginError{err: err}
	}
	defer txn.Abort()
	return peersIn(ctx, txn, uid)
}

// peersIn returns uid and every home on the other side of one of its shares.
func peersIn(ctx context.Context, txn storage.Txn, uid string) ([]string, error) {
	owned, err := txn.SharesOwnedBy(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list shares owned by %s: %w", uid, err)
	}
	into, err := txn.SharesInto(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list shares into %s: %w", uid, err)
	}
	keys := []string{uid}
	for _, sh := range owned {
		keys = append(keys, sh.ShareeUID)
	}
	for _, sh := range into {
		keys = append(keys, sh.OwnerUID)
	}
	return sortedUnique(keys), nil
}

func dedupe(uids []string) []string {
	seen := make(map[string]bool, len(uids))
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	return out
}
