package commands

import (
	"context"
	"database/sql"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/docstore"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/pulse/async"
	"github.com/teranos/corpipe/stages"
	"github.com/teranos/corpipe/store"
)

// runtime holds the components a command works with. Everything shares
// one database connection.
type runtime struct {
	cfg      *am.Config
	conn     *sql.DB
	dialect  db.Dialect
	results  *store.SQLStore
	cache    pipeline.ResultStore
	source   docstore.Source
	writer   docstore.Writer
	lister   docstore.Lister
	queue    *async.Queue
	registry *pipeline.Registry
	logger   *zap.SugaredLogger
	closers  []func() error
}

// openDatabase opens and migrates the configured database
func openDatabase(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*sql.DB, db.Dialect, error) {
	switch cfg.Database.Driver {
	case am.DriverPostgres:
		conn, err := db.OpenPostgres(ctx, db.DefaultPostgresConfig(cfg.Database.URL), log)
		if err != nil {
			return nil, "", err
		}
		if err := db.Migrate(conn, db.DialectPostgres, log); err != nil {
			conn.Close()
			return nil, "", errors.Wrap(err, "failed to run migrations on postgres")
		}
		return conn, db.DialectPostgres, nil

	default:
		path := cfg.Database.Path
		if override := os.Getenv("DB_PATH"); override != "" {
			path = override
		}
		if path == "" {
			path = "corpipe.db"
		}
		conn, err := db.OpenWithMigrations(path, log)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to open database at %s", path)
		}
		return conn, db.DialectSQLite, nil
	}
}

// openRuntime loads the configuration and wires stores, the document
// source and the job queue
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return newRuntime(ctx, cfg, logger.Logger)
}

func newRuntime(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*runtime, error) {
	conn, dialect, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		conn:     conn,
		dialect:  dialect,
		results:  store.NewSQLStore(conn, dialect, log),
		queue:    async.NewQueue(conn, dialect),
		registry: stages.NewRegistry(),
		logger:   log,
		closers:  []func() error{conn.Close},
	}
	rt.cache = rt.results

	if err := rt.openSource(); err != nil {
		rt.Close()
		return nil, err
	}
	rt.openCache(ctx)
	return rt, nil
}

func (rt *runtime) openSource() error {
	switch rt.cfg.Documents.Source {
	case am.SourceObject:
		client, err := docstore.NewMinIOClient(rt.cfg.ObjectStore)
		if err != nil {
			return err
		}
		src := docstore.NewObjectSource(client, rt.cfg.ObjectStore.Region, rt.logger)
		rt.source, rt.writer, rt.lister = src, src, src
	default:
		src := docstore.NewSQLSource(rt.conn, rt.dialect, rt.logger)
		rt.source, rt.writer, rt.lister = src, src, src
	}
	return nil
}

// openCache wraps the result store in the Redis cache when enabled. An
// unreachable Redis leaves the SQL store in place.
func (rt *runtime) openCache(ctx context.Context) {
	if !rt.cfg.Redis.Enabled {
		return
	}
	client, err := store.NewRedisClient(ctx, rt.cfg.Redis)
	if err != nil {
		rt.logger.Warnw("Redis unavailable, reading results from the database only",
			"addr", rt.cfg.Redis.Addr,
			"error", err)
		return
	}
	rt.closers = append(rt.closers, client.Close)
	ttl := time.Duration(rt.cfg.Redis.TTLSeconds) * time.Second
	rt.cache = store.NewRedisCache(client, rt.results, ttl, rt.logger)
}

// newRunner builds a runner; noStore disables reads and writes
func (rt *runtime) newRunner(noStore bool) *pipeline.Runner {
	var results pipeline.ResultStore = rt.cache
	if noStore {
		results = nil
	}
	return pipeline.NewRunner(results, docstore.NewFetcher(rt.source), rt.logger)
}

// newWorkerPool builds a pool executing chain jobs from the queue. The
// pool may run jobs submitted by other processes, so its runner always
// carries the store; each plan's persist steps decide what is written.
// Only a standalone pool recovers orphaned jobs.
func (rt *runtime) newWorkerPool(ctx context.Context, workers int, standalone bool) *async.WorkerPool {
	poolCfg := async.PoolConfigFromAm(rt.cfg)
	poolCfg.Workers = workers
	poolCfg.RecoverOrphans = standalone

	registry := async.NewHandlerRegistry()
	registry.Register(pipeline.NewChainHandler(rt.registry, rt.newRunner(false), rt.queue, rt.logger))

	return async.NewWorkerPoolWithRegistry(ctx, rt.queue, poolCfg, rt.logger, registry,
		async.NewLimiter(rt.cfg.Pulse.MaxJobsPerMinute))
}

// pipelineOptions configures how a command executes its run
type pipelineOptions struct {
	Synchronous bool // in-process executor instead of the job queue
	NoStore     bool
	StartPool   bool // run queue workers inside this process
}

// newPipeline builds a pipeline and returns a stop function that shuts
// down any in-process workers
func (rt *runtime) newPipeline(ctx context.Context, opts pipelineOptions) (*pipeline.Pipeline, func(), error) {
	var executor pipeline.Executor
	stop := func() {}

	if opts.Synchronous {
		executor = pipeline.NewLocalExecutor(rt.newRunner(opts.NoStore), rt.cfg.Pipeline.Workers)
	} else {
		executor = pipeline.NewQueueExecutor(rt.queue, rt.cfg.Pipeline.PollInterval(), rt.logger)
		if opts.StartPool {
			pool := rt.newWorkerPool(ctx, max(rt.cfg.Pulse.Workers, 1), false)
			pool.Start()
			stop = pool.Stop
		}
	}

	var results pipeline.ResultStore = rt.cache
	if opts.NoStore {
		results = nil
	}
	p, err := pipeline.New(pipeline.Config{
		Registry:   rt.registry,
		Store:      results,
		Executor:   executor,
		ReadPolicy: pipeline.ReadPolicy(rt.cfg.Pipeline.ReadPolicy),
		Logger:     rt.logger,
	})
	if err != nil {
		stop()
		return nil, nil, err
	}
	return p, stop, nil
}

// runOptions derives run options from the configuration
func (rt *runtime) runOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.StoreFinal = rt.cfg.Pipeline.StoreFinal
	opts.StoreIntermediate = rt.cfg.Pipeline.StoreIntermediate
	return opts
}

// Close releases the connections in reverse order of opening
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Debugw("Close failed", "error", err)
		}
	}
}
