package manifest

import (
	"fmt"

	"github.com/roach88/inflight/internal/tracker"
)

// TransportFactory creates the transport for an area.
type TransportFactory func(area Area) tracker.Transport

// Build constructs one executor per area and registers them.
// opts apply to every executor; areas with SweepOnDispatch also get lazy GC.
func (m *Manifest) Build(newTransport TransportFactory, opts ...tracker.Option) (*tracker.Registry, error) {
	reg := tracker.NewRegistry()
	for _, area := range m.Areas {
		areaOpts := append([]tracker.Option{}, opts...)
		if area.SweepOnDispatch {
			areaOpts = append(areaOpts, tracker.WithSweepOnDispatch(true))
		}

		exec := tracker.New(area.Name, newTransport(area), areaOpts...)
		if err := reg.Register(exec); err != nil {
			return nil, fmt.Errorf("build area %s: %w", area.Name, err)
		}
	}
	return reg, nil
}
