package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forumkit/lotteryd/internal/archive"
	"github.com/forumkit/lotteryd/internal/config"
	"github.com/forumkit/lotteryd/internal/lottery"
	"github.com/forumkit/lotteryd/internal/scheduler"
	"github.com/forumkit/lotteryd/internal/server"
	"github.com/forumkit/lotteryd/internal/server/handler"
	"github.com/forumkit/lotteryd/internal/server/ws"
	"github.com/forumkit/lotteryd/internal/validate"
)

// lotteryConfig maps the site-level config section onto the lifecycle
// package's settings.
func lotteryConfig(cfg *config.Config) lottery.Config {
	return lottery.Config{
		Enabled:            cfg.Lottery.Enabled,
		AllowedCategoryIDs: cfg.Lottery.AllowedCategoryIDs,
		ExcludedGroupIDs:   cfg.Lottery.ExcludedGroupIDs,
		LockDelay:          cfg.Lottery.PostLockDelay(),
	}
}

// newCreator builds the lottery creation service from wired dependencies.
func (a *App) newCreator(deps *Dependencies) *lottery.Creator {
	validator := validate.New(validate.Rules{
		MinParticipantsFloor: a.cfg.Lottery.MinParticipantsFloor,
		MaxWinners:           a.cfg.Lottery.MaxWinners,
		MaxSpecifiedPosts:    a.cfg.Lottery.MaxSpecifiedPosts,
		Location:             a.cfg.Lottery.Location(),
	}, nil)

	return lottery.NewCreator(
		deps.LotteryStore,
		deps.AuditStore,
		deps.Topics,
		deps.Users,
		deps.Forum,
		deps.SignalBus,
		validator,
		lotteryConfig(a.cfg),
		a.logger,
		nil,
	)
}

// newEngine builds the draw engine from wired dependencies.
func (a *App) newEngine(deps *Dependencies) *lottery.Engine {
	resolver := lottery.NewResolver(
		deps.Topics, deps.Users, deps.Groups, lotteryConfig(a.cfg), a.logger,
	)
	return lottery.NewEngine(
		deps.LotteryStore,
		deps.AuditStore,
		deps.Users,
		deps.Forum,
		deps.SignalBus,
		resolver,
		deps.Notifier,
		a.logger,
		nil,
		nil,
	)
}

// startServer registers the HTTP surface and the WebSocket hub on the
// errgroup. The hub bridges the Redis signal bus to connected clients.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil // clean shutdown
	})

	creator := a.newCreator(deps)
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, startedAt),
		Lottery: handler.NewLotteryHandler(
			creator, deps.LotteryStore, deps.AuditStore, a.logger,
		),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startWorker registers the background scheduler on the errgroup.
func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	engine := a.newEngine(deps)

	var archiver scheduler.Archiver
	if deps.BlobWriter != nil && a.cfg.Scheduler.ArchiveRetentionDays > 0 {
		retention := time.Duration(a.cfg.Scheduler.ArchiveRetentionDays) * 24 * time.Hour
		archiver = archive.New(
			deps.LotteryStore,
			deps.AuditStore,
			deps.BlobWriter,
			deps.Notifier,
			retention,
			a.logger,
			nil,
		)
	}

	sched := scheduler.New(
		deps.LotteryStore,
		deps.LockManager,
		engine,
		deps.Forum,
		deps.SignalBus,
		archiver,
		scheduler.Options{
			PollInterval: a.cfg.Scheduler.PollInterval.Duration,
			LockDelay:    a.cfg.Lottery.PostLockDelay(),
			BatchSize:    a.cfg.Scheduler.BatchSize,
			LockTTL:      a.cfg.Scheduler.LockTTL.Duration,
		},
		a.logger,
		nil,
	)

	g.Go(func() error {
		return sched.Run(ctx)
	})
}

// ServeMode runs only the HTTP ingest API and WebSocket hub. The mode
// implies the server; config validation rejects serve with server.enabled
// off.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs only the background draw, post-lock, and archive loops.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP surface and the background worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
	}
	a.startWorker(ctx, g, deps)
	return g.Wait()
}
