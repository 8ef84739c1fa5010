package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/engine"
	"github.com/rotaguard/rotaguard/analyzer/internal/exporter"
	"github.com/rotaguard/rotaguard/analyzer/internal/shipper"
	"github.com/rotaguard/rotaguard/analyzer/internal/snapshot"
	"github.com/rotaguard/rotaguard/analyzer/internal/store"
	"github.com/rotaguard/rotaguard/pkg/types"
)

const flushTimeout = 10 * time.Second

// runtimeState is what a policy reload swaps in as a unit.
type runtimeState struct {
	cfg    *config.Config
	engine *engine.Engine
}

func main() {
	configPath := flag.String("config", "policy.yaml", "path to policy file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	flag.Parse()

	// Records go to stdout, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("rotaguard-analyzer starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	st, err := build(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"snapshot", cfg.Snapshot.Path,
		"interval", cfg.Analysis.Interval,
		"trials", cfg.Simulation.Trials,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reports := store.New(cfg.Snapshot.TTL)
	enc := json.NewEncoder(os.Stdout)

	var ship *shipper.Shipper
	if url := cfg.Output.NATS.URL(); url != "" {
		ship = shipper.New(cfg.Output.NATS, url)
		slog.Info("shipping records to NATS", "prefix", cfg.Output.NATS.SubjectPrefix)
	}

	runOnce := func(st *runtimeState) error {
		w := window(st.cfg.Snapshot, time.Now())
		rep, err := st.engine.Run(ctx, w)
		if err != nil {
			return err
		}
		reports.Put(rep)
		if err := enc.Encode(rep); err != nil {
			slog.Warn("failed to write report", "schedule", rep.ScheduleID, "err", err)
		}
		if path := st.cfg.Output.MetricsFile; path != "" {
			entries := reports.List()
			all := make([]*types.Report, 0, len(entries))
			for _, e := range entries {
				all = append(all, e.Report)
			}
			if err := exporter.WriteFile(path, all); err != nil {
				slog.Warn("failed to write metrics file", "path", path, "err", err)
			}
		}
		if ship != nil {
			if err := ship.Ship(rep); err != nil {
				slog.Warn("failed to queue records", "schedule", rep.ScheduleID, "err", err)
			}
		}
		return nil
	}

	if *once {
		if err := runOnce(st); err != nil {
			slog.Error("analysis failed", "err", err)
			os.Exit(1)
		}
		if ship != nil {
			flush(ctx, ship)
		}
		return
	}

	var current atomic.Pointer[runtimeState]
	current.Store(st)
	reloaded := make(chan time.Duration, 1)

	// Watch the policy file; a reload rebuilds the engine, and threshold
	// history starts over with the new rule table.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			next, err := build(updated)
			if err != nil {
				slog.Error("reloaded policy rejected, keeping previous", "err", err)
				return
			}
			current.Store(next)
			select {
			case reloaded <- updated.Analysis.Interval:
			default:
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	go reports.Run(ctx)
	if ship != nil {
		go ship.Run(ctx)
	}

	ticker := time.NewTicker(cfg.Analysis.Interval)
	defer ticker.Stop()

	if err := runOnce(current.Load()); err != nil {
		slog.Error("analysis failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("rotaguard-analyzer shutting down")
			return
		case d := <-reloaded:
			ticker.Reset(d)
		case <-ticker.C:
			if err := runOnce(current.Load()); err != nil {
				slog.Error("analysis failed", "err", err)
			}
		}
	}
}

// flush gives the shipper a bounded chance to deliver queued records
// before a one-shot run exits. The drain loop is stopped only after Flush
// returns, so a record mid-publish is not cut off.
func flush(ctx context.Context, ship *shipper.Shipper) {
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ship.Run(runCtx)
		close(done)
	}()
	defer func() {
		stop()
		<-done
	}()

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := ship.Flush(flushCtx); err != nil {
		slog.Warn("records left unshipped", "pending", ship.Pending(), "err", err)
	}
}

// build wires an engine for cfg against its snapshot file.
func build(cfg *config.Config) (*runtimeState, error) {
	eng, err := engine.New(cfg, snapshot.NewFile(cfg.Snapshot.Path), hoursCheck(cfg.Analysis.HoursCeiling))
	if err != nil {
		return nil, err
	}
	return &runtimeState{cfg: cfg, engine: eng}, nil
}

// window resolves the analysis window: the fixed bounds when configured,
// otherwise [today, today+horizon) in UTC.
func window(cfg config.SnapshotConfig, now time.Time) types.Window {
	if !cfg.Start.IsZero() || !cfg.End.IsZero() {
		return types.Window{Start: cfg.Start, End: cfg.End}
	}
	start := now.UTC().Truncate(types.Day)
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = config.DefaultSnapshotHorizon
	}
	return types.Window{Start: start, End: start.Add(horizon)}
}

// hoursCheck is a stand-in compliance predicate used only by this binary
// because no external validator is wired; the engine has no compliance rule
// of its own. A person breaks it when their trailing hours exceed their own
// limit, or the policy ceiling when they have none.
func hoursCheck(ceiling float64) types.CompliancePredicate {
	return func(p types.Person, w types.Workload) ([]types.ViolationKind, error) {
		limit := p.MaxHours
		if limit <= 0 {
			limit = ceiling
		}
		if w.Hours > limit {
			return []types.ViolationKind{types.ViolationHoursExceeded}, nil
		}
		return nil, nil
	}
}
