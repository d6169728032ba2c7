package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/cyp0633/caldora-purge/directory"
	"github.com/cyp0633/caldora-purge/internal/config"
	"github.com/cyp0633/caldora-purge/internal/telemetry"
	"github.com/cyp0633/caldora-purge/journal"
	"github.com/cyp0633/caldora-purge/purge"
	"github.com/cyp0633/caldora-purge/recurrence"
	"github.com/cyp0633/caldora-purge/storage"
	"github.com/cyp0633/caldora-purge/storage/memory"
	"github.com/cyp0633/caldora-purge/storage/sqlite"
)

// runtime holds everything a purge run needs, opened from the config.
type runtime struct {
	service *purge.Service
	journal *journal.Journal

	closers []func() error
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store, nothing will persist")
		return memory.New(memory.WithLogger(logger)), func() error { return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	rt.closers = append(rt.closers, func() error { return shutdown(context.Background()) })

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	rt.closers = append(rt.closers, closeStore)

	var dir directory.Directory
	if cfg.DirectoryFile != "" {
		static, err := directory.LoadFile(cfg.DirectoryFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load directory", err)
		}
		cached := directory.NewCached(static, directory.DefaultCacheConfig)
		rt.closers = append(rt.closers, func() error { cached.Close(); return nil })
		dir = cached
	}

	opts := []purge.Option{
		purge.WithLogger(logger),
		purge.WithEngine(recurrence.NewEngineWithConfig(recurrence.EngineConfig{
			PastEventPolicy: cfg.PastEventPolicy(),
		})),
		purge.WithNotifier(purge.LogNotifier{Logger: logger}),
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		rt.journal = j
		rt.closers = append(rt.closers, j.Close)
		opts = append(opts, purge.WithJournal(j))
	}

	rt.service, err = purge.New(store, dir, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create purge service", err)
	}
	return rt, nil
}

// Close releases everything in reverse opening order.
func (rt *runtime) Close() error {
	var result *multierror.Error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	rt.closers = nil
	return result.ErrorOrNil()
}
