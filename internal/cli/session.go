package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/journal"
	"github.com/roach88/inflight/internal/manifest"
	"github.com/roach88/inflight/internal/metrics"
	"github.com/roach88/inflight/internal/telemetry"
	"github.com/roach88/inflight/internal/tracker"
	"github.com/roach88/inflight/internal/transport"
)

// defaultArea names the executor when no manifest is given.
const defaultArea = "cli"

// SessionOptions are the flags shared by commands that talk to a backend.
// Empty values fall back to the INFLIGHT_* configuration.
type SessionOptions struct {
	BaseURL  string
	Manifest string
	Area     string
	Token    string
	Journal  string
	Retain   time.Duration
	Trace    bool
}

func (o *SessionOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.BaseURL, "base-url", "", "backend root URL (default $INFLIGHT_BASE_URL)")
	cmd.Flags().StringVar(&o.Manifest, "manifest", "", "area manifest, .cue or .yaml (default $INFLIGHT_MANIFEST)")
	cmd.Flags().StringVar(&o.Area, "area", "", "manifest area to use")
	cmd.Flags().StringVar(&o.Token, "token", "", "bearer token (default $INFLIGHT_TOKEN)")
	cmd.Flags().StringVar(&o.Journal, "journal", "", "SQLite journal path (default $INFLIGHT_JOURNAL)")
	cmd.Flags().DurationVar(&o.Retain, "retain", 0, "retain settled records for this window on cleanup")
	cmd.Flags().BoolVar(&o.Trace, "trace", false, "export spans to stderr (default $INFLIGHT_TRACE)")
}

// resolve fills empty options from the loaded configuration.
func (o SessionOptions) resolve(root *RootOptions) SessionOptions {
	cfg := root.Config
	if o.BaseURL == "" {
		o.BaseURL = cfg.BaseURL
	}
	if o.Manifest == "" {
		o.Manifest = cfg.Manifest
	}
	if o.Token == "" {
		o.Token = cfg.Token
	}
	if o.Journal == "" {
		o.Journal = cfg.Journal
	}
	if o.Retain == 0 {
		o.Retain = cfg.RetentionTTL
	}
	o.Trace = o.Trace || cfg.Trace
	return o
}

// session is one executor wired to its transport and observers. areas holds
// exec alone and drives its settlement loop and shutdown.
type session struct {
	exec   *tracker.Executor
	areas  *tracker.Registry
	area   manifest.Area
	retain time.Duration
	logger *slog.Logger

	// calls counts transport executions, deduped dispatches excluded.
	calls atomic.Int64

	registry *prometheus.Registry
	journal  *journal.Journal
	shutdown func(context.Context) error
}

// openSession builds the executor stack. The caller must call close.
func openSession(ctx context.Context, opts SessionOptions, root *RootOptions, errOut io.Writer, extra ...tracker.Observer) (*session, error) {
	logger := root.logger()
	s := &session{
		area:     manifest.Area{Name: defaultArea, BaseURL: opts.BaseURL},
		retain:   opts.Retain,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: func(context.Context) error { return nil },
	}

	if opts.Manifest != "" {
		area, err := selectArea(opts.Manifest, opts.Area)
		if err != nil {
			return nil, err
		}
		if area.BaseURL == "" {
			area.BaseURL = opts.BaseURL
		}
		s.area = area
	}
	if s.area.BaseURL == "" {
		return nil, NewExitError(ExitCommandError, "no base URL: set --base-url or INFLIGHT_BASE_URL")
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "inflight",
		Enabled:     opts.Trace,
		Writer:      errOut,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "init tracing", err)
	}
	s.shutdown = shutdown

	observers := []tracker.Observer{metrics.New(s.registry)}
	observers = append(observers, extra...)
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			_ = s.shutdown(ctx)
			return nil, WrapExitError(ExitCommandError, "open journal", err)
		}
		s.journal = j
		observers = append(observers, j.Observer(ctx, tracker.SystemClock{}, logger))
	}

	httpTransport := transport.NewHTTP(s.area.BaseURL)
	counted := tracker.TransportFunc(func(ctx context.Context, req tracker.Request) (tracker.Response, error) {
		s.calls.Add(1)
		return httpTransport.Execute(ctx, req)
	})

	token := opts.Token
	s.exec = tracker.New(s.area.Name, counted,
		tracker.WithLogger(logger),
		tracker.WithObserver(observers...),
		tracker.WithCredentials(func() string { return token }),
		tracker.WithSweepOnDispatch(s.area.SweepOnDispatch),
		tracker.WithBaseContext(ctx),
	)
	s.areas = tracker.NewRegistry()
	if err := s.areas.Register(s.exec); err != nil {
		_ = s.shutdown(ctx)
		if s.journal != nil {
			_ = s.journal.Close()
		}
		return nil, WrapExitError(ExitCommandError, "register area", err)
	}

	logger.Debug("session opened",
		"area", s.area.Name,
		"base_url", s.area.BaseURL,
		"journal", opts.Journal != "",
		"trace", opts.Trace,
	)
	return s, nil
}

// selectArea loads the manifest and picks the named area. The name may be
// omitted when the manifest declares exactly one area.
func selectArea(path, name string) (manifest.Area, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return manifest.Area{}, WrapExitError(ExitCommandError, "load manifest", err)
	}
	if name == "" {
		if len(m.Areas) != 1 {
			return manifest.Area{}, NewExitError(ExitCommandError,
				fmt.Sprintf("manifest declares %d areas: choose one with --area (%v)", len(m.Areas), m.Names()))
		}
		return m.Areas[0], nil
	}
	area, ok := m.Area(name)
	if !ok {
		return manifest.Area{}, NewExitError(ExitCommandError,
			fmt.Sprintf("area %q not in manifest (%v)", name, m.Names()))
	}
	return area, nil
}

// cleanupOptions picks the retention for a settled record: an explicit
// --retain window first, then the manifest policy. No retention removes the
// record immediately.
func (s *session) cleanupOptions(snap tracker.Snapshot) []tracker.CleanupOption {
	if s.retain > 0 {
		return []tracker.CleanupOption{tracker.Retain(s.retain)}
	}
	return s.area.CleanupOptions(snap)
}

// close drains the executor, then releases the journal and flushes spans.
func (s *session) close(ctx context.Context) error {
	var errs []error
	if err := s.areas.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if err := s.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush spans: %w", err))
	}
	return errors.Join(errs...)
}
