package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/board"
	"github.com/roach88/storydesk/internal/bus"
	"github.com/roach88/storydesk/internal/config"
	"github.com/roach88/storydesk/internal/desk"
	"github.com/roach88/storydesk/internal/logging"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/queue"
	"github.com/roach88/storydesk/internal/store"
)

// app is one process's wiring: store, controllers, bus and board.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *prometheus.Registry
	bus      *bus.Bus
	board    *board.Board
	desk     *desk.Service
	nc       *nats.Conn
	out      *OutputFormatter
}

// openApp loads config and wires every component. The caller must Close
// the app; Close flushes pending changes to the bus observers.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "path", cfg.Database.Path)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bus.New(bus.WithDebounce(cfg.Bus.Debounce), bus.WithMetrics(m), bus.WithLogger(logger))

	var scraper desk.Scraper
	if cfg.Scrape.Dir != "" {
		scraper = desk.FileScraper{Dir: cfg.Scrape.Dir}
	}
	svc := desk.New(desk.Config{
		Store:       st,
		Intake:      cfg.Intake.Thresholds(),
		Dedup:       cfg.Intake.Dedup(),
		Health:      cfg.Health,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Workers:     cfg.Queue.Workers,
		AutoPublish: cfg.Story.AutoPublishOnApprove,
		Generator:   queue.ParagraphGenerator{MaxSlides: cfg.Queue.MaxSlides},
		Scraper:     scraper,
		Notifier:    b,
		Metrics:     m,
		Logger:      logger,
	})

	brd := board.New(board.Config{
		Store:     st,
		Scorer:    svc.Scorer(),
		Gathering: svc.Gathering,
		Metrics:   m,
		Logger:    logger,
	})
	b.Subscribe(brd)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: reg,
		bus:      b,
		board:    brd,
		desk:     svc,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	// A NATS outage only disables the relay; local writes and the board are
	// unaffected.
	if cfg.NATS.URL != "" {
		node := cfg.NATS.Node
		if node == "" {
			node, _ = os.Hostname()
		}
		nc, err := bus.Connect(cfg.NATS.URL, "storydesk-"+node, logger)
		if err != nil {
			logger.Warn("change relay disabled", "error", err)
		} else {
			a.nc = nc
			b.Subscribe(bus.NewPublisher(nc, cfg.NATS.SubjectPrefix, node))
			if _, err := bus.NewRelay(b, node, logger).Subscribe(nc, cfg.NATS.SubjectPrefix); err != nil {
				logger.Warn("remote changes will not be received", "error", err)
			}
		}
	}

	return a, nil
}

// Close flushes pending changes and releases the database and NATS
// connection.
func (a *app) Close() {
	a.bus.Close()
	a.bus.Flush(context.Background())
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("error draining NATS connection", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// withApp opens the app, runs fn and closes the app.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}
