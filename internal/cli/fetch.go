package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/inflight/internal/tracker"
)

// closeTimeout bounds draining outstanding calls when a command exits.
const closeTimeout = 5 * time.Second

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Session     SessionOptions
	Method      string
	Body        string
	Concurrency int
	Timeout     time.Duration
}

// FetchResult is the outcome of one fetch.
type FetchResult struct {
	Record tracker.Snapshot `json:"record"`

	// Dispatches is how many identical dispatches were issued.
	Dispatches int `json:"dispatches"`

	// DistinctIDs is how many operation ids those dispatches returned.
	DistinctIDs int `json:"distinct_ids"`

	// Calls is how many transport calls reached the backend.
	Calls int64 `json:"calls"`

	// Retained is true when cleanup kept the record instead of removing it.
	Retained bool `json:"retained"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <endpoint>",
		Short: "Dispatch a tracked request and print its record",
		Long: `Dispatch a request through the tracker, wait for it to settle and print
the record.

With --concurrency N the same request is dispatched N times at once. All
dispatches share one record, so the backend sees a single call.

Exit codes:
  0 - The request fulfilled
  1 - The request failed (HTTP error or transport error)
  2 - Command error (bad flags, unreadable manifest, etc.)

Examples:
  inflight fetch /papers --base-url http://localhost:8080
  inflight fetch /users --method POST --body '{"name":"ada"}'
  inflight fetch /papers/count --concurrency 8 --format json
  inflight fetch /papers --manifest areas.cue --area papers`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, args[0], cmd)
		},
	}

	opts.Session.bindFlags(cmd)
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "GET", "request method")
	cmd.Flags().StringVar(&opts.Body, "body", "", "JSON request body")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "n", 1, "identical dispatches to issue at once")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "time to wait for the request to settle")

	return cmd
}

func runFetch(opts *FetchOptions, endpoint string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Concurrency < 1 {
		return NewExitError(ExitCommandError, "--concurrency must be at least 1")
	}
	method, err := tracker.ParseMethod(opts.Method)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --method", err)
	}
	body, err := decodeBody(opts.Body)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --body", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := openSession(ctx, opts.Session.resolve(opts.RootOptions), opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var loop errgroup.Group
	loop.Go(func() error { return s.areas.Run(ctx) })

	formatter.VerboseLog("dispatching %s %s x%d", method, endpoint, opts.Concurrency)
	result, fetchErr := fetch(ctx, s, tracker.Request{Method: method, Endpoint: endpoint, Body: body}, opts.Concurrency)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()
	if err := s.close(closeCtx); err != nil {
		opts.logger().Warn("session close failed", "error", err)
	}
	_ = loop.Wait()

	if fetchErr != nil {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeDispatch, fetchErr.Error(), nil)
		}
		return fetchErr
	}
	result.Calls = s.calls.Load()

	failed := result.Record.State == tracker.StateFailed
	if formatter.JSON() {
		if err := formatter.Respond(result, failed); err != nil {
			return err
		}
	} else {
		formatter.WriteSnapshot(result.Record)
		fmt.Fprintf(formatter.Writer, "dispatches: %d (ids: %d, backend calls: %d)\n",
			result.Dispatches, result.DistinctIDs, result.Calls)
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("request failed: %s", result.Record.Error))
	}
	return nil
}

// fetch dispatches req n times concurrently, waits for the shared record to
// settle and releases it.
func fetch(ctx context.Context, s *session, req tracker.Request, n int) (FetchResult, error) {
	ids := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			id, err := s.exec.DispatchRequest(req)
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return FetchResult{}, WrapExitError(ExitCommandError, "dispatch", err)
	}

	distinct := make(map[string]bool, 1)
	for _, id := range ids {
		distinct[id] = true
	}

	snap, err := s.exec.Await(ctx, ids[0])
	if err != nil {
		return FetchResult{}, WrapExitError(ExitFailure, "await", err)
	}

	cleanup := s.cleanupOptions(snap)
	for id := range distinct {
		if err := s.exec.Cleanup(id, cleanup...); err != nil {
			return FetchResult{}, WrapExitError(ExitCommandError, "cleanup", err)
		}
	}

	return FetchResult{
		Record:      snap,
		Dispatches:  n,
		DistinctIDs: len(distinct),
		Retained:    len(cleanup) > 0,
	}, nil
}

// decodeBody parses a JSON request body. Empty input means no body.
func decodeBody(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}
