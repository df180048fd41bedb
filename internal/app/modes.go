package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bidvault/bidvault/internal/domain"
	"github.com/bidvault/bidvault/internal/server"
	"github.com/bidvault/bidvault/internal/server/handler"
	"github.com/bidvault/bidvault/internal/server/ws"
	"github.com/bidvault/bidvault/internal/service"
)

// sweepLockKey elects a single sweeper across server instances.
const sweepLockKey = "auction-sweep"

// services bundles the business-logic layer built on top of Dependencies.
type services struct {
	closer   *service.CloserService
	bids     *service.BidService
	auctions *service.AuctionService
	users    *service.UserService
}

// buildServices constructs the service layer. The closer is shared: the bid
// acceptor uses it for eager closes, the auction reads for lazy closes, and
// the sweep loop for the periodic pass.
func (a *App) buildServices(deps *Dependencies) *services {
	var mailer service.WinnerMailer
	if deps.Mailer != nil {
		mailer = deps.Mailer
	}
	var archiver service.AuctionArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}

	closer := service.NewCloserService(
		deps.AuctionStore,
		deps.BidStore,
		deps.UserStore,
		deps.SignalBus,
		mailer,
		archiver,
		a.cfg.Auction.SweepBatchSize,
		a.logger,
	)

	return &services{
		closer: closer,
		bids: service.NewBidService(
			deps.AuctionStore,
			deps.BidStore,
			deps.UserStore,
			deps.SignalBus,
			closer,
			a.cfg.Auction.AntiSnipeWindow.Duration,
			a.logger,
		),
		auctions: service.NewAuctionService(
			deps.AuctionStore,
			deps.BidStore,
			deps.SignalBus,
			closer,
			a.cfg.Auction.TopBids,
			a.logger,
		),
		users: service.NewUserService(deps.UserStore, a.logger),
	}
}

// buildServer assembles the HTTP server and WebSocket hub around the service
// layer.
func (a *App) buildServer(deps *Dependencies, svcs *services) (*server.Server, *ws.Hub) {
	hub := ws.NewHub(deps.SignalBus, svcs.bids, svcs.auctions, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres,
			"redis":    deps.Redis,
		}, a.logger),
		Auctions: handler.NewAuctionHandler(svcs.auctions, svcs.closer, a.logger),
		Bids:     handler.NewBidHandler(svcs.bids, a.logger),
		Users:    handler.NewUserHandler(svcs.users, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		BidRateLimit:  a.cfg.Server.BidRateLimit,
		BidRateWindow: a.cfg.Server.BidRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	return srv, hub
}

// ServeMode runs the HTTP API and WebSocket hub without the periodic sweep.
// Due auctions are still closed lazily on reads and eagerly on late bids.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs := a.buildServices(deps)
	srv, hub := a.buildServer(deps, svcs)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// SweepMode runs only the periodic closer sweep. A distributed lock ensures
// that with several instances running, each pass is executed by one sweeper.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode",
		slog.Duration("interval", a.cfg.Auction.SweepInterval.Duration),
	)

	svcs := a.buildServices(deps)
	return a.runSweepLoop(ctx, deps, svcs)
}

// FullMode runs the API server, the WebSocket hub, and the sweep loop in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs := a.buildServices(deps)
	srv, hub := a.buildServer(deps, svcs)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.runSweepLoop(ctx, deps, svcs)
	})

	return g.Wait()
}

// runSweepLoop ticks at the configured interval, takes the sweep lock, and
// closes due auctions. Lock contention means another instance is sweeping and
// is not an error. Pass failures are reported through the ops notifier.
func (a *App) runSweepLoop(ctx context.Context, deps *Dependencies, svcs *services) error {
	interval := a.cfg.Auction.SweepInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sweepOnce(ctx, deps, svcs, interval)
		}
	}
}

// sweepOnce runs a single lock-guarded sweep pass.
func (a *App) sweepOnce(ctx context.Context, deps *Dependencies, svcs *services, interval time.Duration) {
	unlock, err := deps.LockManager.Acquire(ctx, sweepLockKey, 2*interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "sweep skipped, another instance holds the lock")
			return
		}
		a.logger.ErrorContext(ctx, "sweep lock acquisition failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	closed, err := svcs.closer.CloseDueAuctions(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "sweep pass failed",
			slog.Int("closed", closed),
			slog.String("error", err.Error()),
		)
		if notifyErr := deps.Notifier.Notify(ctx, "sweep_error", "Auction sweep failed",
			fmt.Sprintf("closed %d auctions before failing: %v", closed, err),
		); notifyErr != nil {
			a.logger.WarnContext(ctx, "sweep failure notification failed",
				slog.String("error", notifyErr.Error()),
			)
		}
		return
	}

	if closed > 0 {
		a.logger.InfoContext(ctx, "sweep pass closed auctions",
			slog.Int("closed", closed),
		)
	}
}
