package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/manifest"
	"github.com/roach88/inflight/internal/tracker"
	"github.com/roach88/inflight/internal/transport"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Path   string        `json:"path"`
	Areas  []AreaSummary `json:"areas,omitempty"`
	Errors []string      `json:"errors,omitempty"`
}

// AreaSummary describes one validated area.
type AreaSummary struct {
	Name            string `json:"name"`
	BaseURL         string `json:"base_url,omitempty"`
	SweepOnDispatch bool   `json:"sweep_on_dispatch"`
	Policies        int    `json:"policies"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate an area manifest",
		Long: `Load a CUE or YAML area manifest, check it against the schema and build
one executor per area without dispatching anything.

The path defaults to $INFLIGHT_MANIFEST.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config.Manifest
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if path == "" {
		return NewExitError(ExitCommandError, "no manifest: pass a path or set INFLIGHT_MANIFEST")
	}

	result := ValidationResult{Path: path}
	m, err := manifest.Load(path)
	if err == nil {
		err = buildAreas(m, opts.logger())
	}
	if err != nil {
		result.Errors = flattenErrors(err)
		if formatter.JSON() {
			_ = formatter.Respond(result, true)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s\n", path)
			for _, e := range result.Errors {
				fmt.Fprintf(formatter.Writer, "  %s\n", e)
			}
		}
		return WrapExitError(ExitFailure, "manifest invalid", err)
	}

	result.Valid = true
	for _, area := range m.Areas {
		result.Areas = append(result.Areas, AreaSummary{
			Name:            area.Name,
			BaseURL:         area.BaseURL,
			SweepOnDispatch: area.SweepOnDispatch,
			Policies:        len(area.Policies),
		})
	}

	if formatter.JSON() {
		return formatter.Respond(result, false)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s: %d area(s)\n", path, len(result.Areas))
	for _, a := range result.Areas {
		fmt.Fprintf(formatter.Writer, "  %s  base_url=%q policies=%d sweep_on_dispatch=%t\n",
			a.Name, a.BaseURL, a.Policies, a.SweepOnDispatch)
	}
	return nil
}

// buildAreas constructs the registry the manifest describes and closes it.
func buildAreas(m *manifest.Manifest, logger *slog.Logger) error {
	reg, err := m.Build(func(a manifest.Area) tracker.Transport {
		return transport.NewHTTP(a.BaseURL)
	}, tracker.WithLogger(logger))
	if err != nil {
		return err
	}
	return reg.Close(context.Background())
}

// flattenErrors expands joined errors into one message per leaf.
func flattenErrors(err error) []string {
	var out []string
	var walk func(error)
	walk = func(err error) {
		var ve *manifest.ValidationError
		if errors.As(err, &ve) {
			if joined, ok := unwrapJoined(err); ok {
				for _, e := range joined {
					walk(e)
				}
				return
			}
			out = append(out, ve.Error())
			return
		}
		out = append(out, err.Error())
	}
	walk(err)
	return out
}

// unwrapJoined descends single-error wrappers until it reaches a join.
func unwrapJoined(err error) ([]error, bool) {
	for err != nil {
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			return j.Unwrap(), true
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
