package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimpers/betchya/internal/crypto"
	"github.com/kimpers/betchya/internal/judge"
	"github.com/kimpers/betchya/internal/ledger"
	"github.com/kimpers/betchya/internal/pricefeed"
	"github.com/kimpers/betchya/internal/server"
	"github.com/kimpers/betchya/internal/server/handler"
	"github.com/kimpers/betchya/internal/server/ws"
	"github.com/kimpers/betchya/internal/service"
)

// signingDomain binds transaction signatures to this deployment.
func (a *App) signingDomain() crypto.Domain {
	return crypto.Domain{
		Name:              "Betchya",
		Version:           "1",
		ChainID:           a.cfg.Ledger.ChainID,
		VerifyingContract: crypto.EscrowAddress(a.cfg.Ledger.Admin()),
	}
}

// buildLedger constructs the sequencer over the journal and replays it.
func (a *App) buildLedger(ctx context.Context, deps *Dependencies) (*service.LedgerService, error) {
	genesis, err := a.cfg.Ledger.GenesisBalances()
	if err != nil {
		return nil, err
	}
	admin := a.cfg.Ledger.Admin()
	svc, err := service.NewLedgerService(service.LedgerConfig{
		Ledger: ledger.Config{
			Admin:   admin,
			Escrow:  crypto.EscrowAddress(admin),
			Genesis: genesis,
		},
		LockTTL:  a.cfg.Ledger.SequencerLockTTL.Duration,
		LockWait: a.cfg.Ledger.SequencerWait.Duration,
	}, crypto.NewVerifier(a.signingDomain()), deps.JournalStore, a.logger)
	if err != nil {
		return nil, err
	}

	svc.WithProjection(deps.BetStore).
		WithAudit(deps.AuditStore).
		WithMetrics(deps.Metrics)
	if deps.SignalBus != nil {
		svc.WithBus(deps.SignalBus)
	}
	if deps.LockManager != nil {
		svc.WithLocks(deps.LockManager)
	}
	if deps.Publisher != nil {
		svc.WithPublisher(deps.Publisher)
	}

	start := time.Now()
	if err := svc.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	st := svc.Status()
	a.logger.InfoContext(ctx, "ledger restored",
		slog.Uint64("version", st.Version),
		slog.Uint64("bets", st.Bets),
		slog.String("breaker", st.Breaker.String()),
		slog.Duration("took", time.Since(start)),
	)
	return svc, nil
}

func (a *App) buildArchive(deps *Dependencies, svc *service.LedgerService) *service.ArchiveService {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	return service.NewArchiveService(deps.Archiver, svc, retention, a.logger).WithMetrics(deps.Metrics)
}

// buildPriceJudge loads the judge key and binds a price oracle to it.
func (a *App) buildPriceJudge(deps *Dependencies, svc *service.LedgerService) (*judge.PriceJudge, error) {
	pk, err := crypto.Load(crypto.KeySource{
		Hex:      a.cfg.Judge.PrivateKey,
		File:     a.cfg.Judge.EncryptedKeyPath,
		Password: a.cfg.Judge.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("judge key: %w", err)
	}
	signer := crypto.NewSignerFromKey(pk, a.signingDomain())
	source := pricefeed.NewClient(a.cfg.Judge.PriceURL).WithRateLimiter(deps.RateLimiter)

	pj := judge.NewPriceJudge(
		judge.PriceConfig{
			Pair:           a.cfg.Judge.Pair,
			MaxPriceAge:    a.cfg.Judge.MaxPriceAge.Duration,
			UpdateInterval: a.cfg.Judge.UpdateInterval.Duration,
			ScanInterval:   a.cfg.Judge.ScanInterval.Duration,
		},
		source,
		deps.PriceCache,
		deps.SignalBus,
		judge.NewClient(signer, svc),
		signer.Address(),
		svc,
		a.logger,
	)
	return pj.WithMetrics(deps.Metrics), nil
}

// NodeMode runs the sequencer, the HTTP and websocket API, journal follow and
// the notification relay.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("node mode: %w", err)
	}

	var archive *service.ArchiveService
	if deps.Archiver != nil {
		archive = a.buildArchive(deps, svc)
	}
	a.startNode(ctx, g, deps, svc, nil, archive)

	return g.Wait()
}

// FullMode is NodeMode plus the price judge and the scheduled archive pass.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	var pj *judge.PriceJudge
	if a.cfg.Judge.Enabled {
		pj, err = a.buildPriceJudge(deps, svc)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		g.Go(func() error {
			return pj.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "judge.enabled is false; price judge not started")
	}

	var archive *service.ArchiveService
	if deps.Archiver != nil {
		archive = a.buildArchive(deps, svc)
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			return archive.Run(ctx, interval)
		})
	}

	a.startNode(ctx, g, deps, svc, pj, archive)

	return g.Wait()
}

// ArchiveMode replays the journal, runs one archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 is not configured")
	}
	svc, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	report, err := a.buildArchive(deps, svc).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("journal", report.Journal),
		slog.Int64("audit", report.Audit),
		slog.String("snapshot", report.SnapshotPath),
	)
	return nil
}

// startNode adds the API server, websocket hub, journal follower and
// notification relay to g. pj and archive are optional.
func (a *App) startNode(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.LedgerService,
	pj *judge.PriceJudge,
	archive *service.ArchiveService,
) {
	// Replicas that lose the sequencer lock still serve reads from an
	// up-to-date ledger.
	interval := a.cfg.Ledger.FollowInterval.Duration
	if interval > 0 {
		g.Go(func() error {
			return svc.Follow(ctx, interval)
		})
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Status:         func() any { return svc.Status() },
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Metrics:        deps.Metrics,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Relay(ctx, deps.SignalBus)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, svc, time.Now().UTC()),
		Tx:     handler.NewTxHandler(svc, a.logger),
		Query:  handler.NewQueryHandler(svc, a.logger),
	}
	if pj != nil {
		handlers.Judge = handler.NewJudgeHandler(pj, a.logger)
	}
	if archive != nil {
		handlers.Archive = handler.NewArchiveHandler(archive, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
