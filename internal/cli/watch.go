package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/inflight/internal/metrics"
	"github.com/roach88/inflight/internal/tracker"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Session       SessionOptions
	Method        string
	Interval      time.Duration
	Rounds        int
	SweepInterval time.Duration
	MetricsAddr   string
}

// WatchRecord is one endpoint's outcome in one round.
type WatchRecord struct {
	Round    int            `json:"round"`
	ID       string         `json:"id"`
	Method   tracker.Method `json:"method"`
	Endpoint string         `json:"endpoint"`
	State    tracker.State  `json:"state"`
	Status   int            `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`

	// Reused is true when the round was answered by a retained record.
	Reused bool `json:"reused"`
}

// WatchResult summarizes a watch run.
type WatchResult struct {
	Rounds     int           `json:"rounds"`
	Dispatches int           `json:"dispatches"`
	Calls      int64         `json:"calls"`
	Failed     int           `json:"failed"`
	Swept      int           `json:"swept"`
	Records    []WatchRecord `json:"records"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <endpoint>...",
		Short: "Poll endpoints through the tracker",
		Long: `Dispatch the given endpoints every interval through one executor.

Each round dispatches every endpoint, waits for the records to settle and
cleans them up. With a retention window (--retain or a manifest policy)
later rounds reuse the retained record instead of calling the backend
again, until the window lapses and the collector sweeps it.

--metrics-addr serves Prometheus metrics at /metrics while watching.
--journal appends every lifecycle event to a SQLite journal.

Examples:
  inflight watch /papers/count --interval 1s --retain 5s
  inflight watch /papers /users/me --rounds 10 --format json
  inflight watch /papers --manifest areas.cue --area papers --metrics-addr :9090`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args, cmd)
		},
	}

	opts.Session.bindFlags(cmd)
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "GET", "request method")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "time between rounds")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 0, "stop after this many rounds (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.SweepInterval, "sweep-interval", 0, "collector tick (default $INFLIGHT_SWEEP_INTERVAL)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (default $INFLIGHT_METRICS_ADDR)")

	return cmd
}

func runWatch(opts *WatchOptions, endpoints []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.logger()

	if opts.Interval <= 0 {
		return NewExitError(ExitCommandError, "--interval must be positive")
	}
	if opts.Rounds < 0 {
		return NewExitError(ExitCommandError, "--rounds must not be negative")
	}
	method, err := tracker.ParseMethod(opts.Method)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --method", err)
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = opts.Config.SweepInterval
	}
	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = opts.Config.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	swept := &sweepCounter{}
	s, err := openSession(ctx, opts.Session.resolve(opts.RootOptions), opts.RootOptions, cmd.ErrOrStderr(), swept)
	if err != nil {
		return err
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	g, gctx := errgroup.WithContext(bgCtx)

	g.Go(func() error { return s.areas.Run(gctx) })
	g.Go(func() error { return tracker.NewCollector(s.exec, sweepInterval).Run(gctx) })

	var srv *http.Server
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			cancelBg()
			_ = g.Wait()
			_ = s.close(context.Background())
			return WrapExitError(ExitCommandError, "listen for metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(s.registry))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	result, watchErr := watch(gctx, s, opts, method, endpoints, formatter)

	// Reclaim retained records whose window elapsed since the last tick.
	for area, n := range s.areas.SweepAll() {
		if n > 0 {
			logger.Debug("final sweep", "area", area, "removed", n)
		}
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()
	if srv != nil {
		if err := srv.Shutdown(closeCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := s.close(closeCtx); err != nil {
		logger.Warn("session close failed", "error", err)
	}
	cancelBg()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "watch", err)
	}
	if watchErr != nil {
		return watchErr
	}

	result.Calls = s.calls.Load()
	result.Swept = int(swept.n.Load())
	if formatter.JSON() {
		return formatter.Respond(result, result.Failed > 0)
	}
	fmt.Fprintf(formatter.Writer, "%d rounds, %d dispatches, %d backend calls, %d failed, %d swept\n",
		result.Rounds, result.Dispatches, result.Calls, result.Failed, result.Swept)
	return nil
}

// watch runs rounds until the round limit or ctx ends. Cancellation is a
// normal stop, not an error.
func watch(ctx context.Context, s *session, opts *WatchOptions, method tracker.Method, endpoints []string, formatter *OutputFormatter) (WatchResult, error) {
	result := WatchResult{Records: []WatchRecord{}}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for round := 1; opts.Rounds == 0 || round <= opts.Rounds; round++ {
		records, err := watchRound(ctx, s, round, method, endpoints)
		if errors.Is(err, context.Canceled) {
			return result, nil
		}
		if err != nil {
			return result, err
		}

		result.Rounds = round
		result.Dispatches += len(records)
		for _, rec := range records {
			if rec.State == tracker.StateFailed {
				result.Failed++
			}
			if !formatter.JSON() {
				writeWatchRecord(formatter, rec)
			}
		}
		result.Records = append(result.Records, records...)

		if opts.Rounds != 0 && round == opts.Rounds {
			break
		}
		select {
		case <-ctx.Done():
			return result, nil
		case <-ticker.C:
		}
	}
	return result, nil
}

// watchRound dispatches every endpoint, then awaits and cleans up each one.
func watchRound(ctx context.Context, s *session, round int, method tracker.Method, endpoints []string) ([]WatchRecord, error) {
	ids := make([]string, len(endpoints))
	for i, endpoint := range endpoints {
		id, err := s.exec.Dispatch(method, endpoint, nil)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("dispatch %s", endpoint), err)
		}
		ids[i] = id
	}

	records := make([]WatchRecord, 0, len(ids))
	for _, id := range ids {
		snap, err := s.exec.Await(ctx, id)
		if errors.Is(err, tracker.ErrNotFound) {
			// Two endpoints in one round normalized to the same signature
			// and the first cleanup already removed the shared record.
			continue
		}
		if err != nil {
			return records, err
		}
		if err := s.exec.Cleanup(id, s.cleanupOptions(snap)...); err != nil {
			return records, WrapExitError(ExitCommandError, "cleanup", err)
		}
		records = append(records, WatchRecord{
			Round:    round,
			ID:       snap.ID,
			Method:   snap.Method,
			Endpoint: snap.Endpoint,
			State:    snap.State,
			Status:   snap.Status,
			Error:    snap.Error,
			Reused:   snap.Touches > 0,
		})
	}
	return records, nil
}

func writeWatchRecord(f *OutputFormatter, rec WatchRecord) {
	source := "backend"
	if rec.Reused {
		source = "retained"
	}
	line := fmt.Sprintf("round %d  %s %s  %s", rec.Round, rec.Method, rec.Endpoint, rec.State)
	if rec.Status != 0 {
		line += fmt.Sprintf(" %d", rec.Status)
	}
	if rec.Error != "" {
		line += " " + rec.Error
	}
	fmt.Fprintf(f.Writer, "%s  (%s, id=%s)\n", line, source, rec.ID)
}

// sweepCounter counts records the collector reclaimed.
type sweepCounter struct {
	tracker.NopObserver
	n atomic.Int64
}

func (c *sweepCounter) Removed(_ string, _ tracker.Snapshot, reason tracker.RemoveReason) {
	if reason == tracker.RemoveSwept {
		c.n.Add(1)
	}
}
