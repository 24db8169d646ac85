// Package manifest declares feature areas and their retention policies.
//
// A manifest lists the areas an application tracks (papers, users, ...)
// with the backend each one talks to and the retention each signature gets
// on cleanup. It is written in CUE or YAML:
//
//	areas: [{
//		name:     "papers"
//		base_url: "https://api.example.test"
//		policies: [{method: "GET", prefix: "/papers/count", retain: true, ttl: "5s"}]
//	}]
//
// Retention stays explicit: a policy only supplies the options a caller
// passes to Cleanup.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/inflight/internal/tracker"
)

// Manifest is the set of declared areas.
type Manifest struct {
	Areas []Area `json:"areas" yaml:"areas"`
}

// Area is one independent tracker.
type Area struct {
	Name            string   `json:"name" yaml:"name"`
	BaseURL         string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SweepOnDispatch bool     `json:"sweep_on_dispatch,omitempty" yaml:"sweep_on_dispatch,omitempty"`
	Policies        []Policy `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// Policy is the cleanup retention for signatures whose endpoint starts with
// Prefix. An empty Method or "*" matches every verb.
type Policy struct {
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Retain bool   `json:"retain,omitempty" yaml:"retain,omitempty"`
	TTL    string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// ValidationError describes one invalid manifest entry.
type ValidationError struct {
	Area    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Area == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("area %q: %s: %s", e.Area, e.Field, e.Message)
}

// Validate checks names, methods and retention windows. All problems are
// reported, joined.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Areas) == 0 {
		errs = append(errs, &ValidationError{Field: "areas", Message: "no areas declared"})
	}

	seen := make(map[string]bool)
	for i, area := range m.Areas {
		if area.Name == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("areas[%d].name", i), Message: "required"})
			continue
		}
		if seen[area.Name] {
			errs = append(errs, &ValidationError{Area: area.Name, Field: "name", Message: "duplicate area"})
		}
		seen[area.Name] = true

		for j, p := range area.Policies {
			field := fmt.Sprintf("policies[%d]", j)
			if !p.matchesAnyMethod() {
				if _, err := tracker.ParseMethod(p.Method); err != nil {
					errs = append(errs, &ValidationError{Area: area.Name, Field: field + ".method", Message: err.Error()})
				}
			}
			if !strings.HasPrefix(p.Prefix, "/") {
				errs = append(errs, &ValidationError{Area: area.Name, Field: field + ".prefix", Message: "must start with /"})
			}
			if _, err := p.Duration(); err != nil {
				errs = append(errs, &ValidationError{Area: area.Name, Field: field + ".ttl", Message: err.Error()})
			}
		}
	}
	return errors.Join(errs...)
}

// Area returns the area called name.
func (m *Manifest) Area(name string) (Area, bool) {
	for _, a := range m.Areas {
		if a.Name == name {
			return a, true
		}
	}
	return Area{}, false
}

// Names returns the area names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Areas))
	for i, a := range m.Areas {
		names[i] = a.Name
	}
	sort.Strings(names)
	return names
}

// Duration parses the policy TTL. An empty TTL is zero.
func (p Policy) Duration() (time.Duration, error) {
	if p.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", p.TTL, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative ttl %q", p.TTL)
	}
	return d, nil
}

// CleanupOptions returns the options a caller passes to Cleanup under this
// policy. A policy without retention yields none: immediate removal.
func (p Policy) CleanupOptions() []tracker.CleanupOption {
	if !p.Retain {
		return nil
	}
	d, err := p.Duration()
	if err != nil {
		return nil
	}
	return []tracker.CleanupOption{tracker.Retain(d)}
}

func (p Policy) matchesAnyMethod() bool {
	return p.Method == "" || p.Method == "*"
}

func (p Policy) matches(sig tracker.Signature) bool {
	if !strings.HasPrefix(sig.Endpoint, p.Prefix) {
		return false
	}
	return p.matchesAnyMethod() || strings.EqualFold(p.Method, string(sig.Method))
}

// Lookup returns the policy with the longest prefix matching sig. A policy
// naming the method beats a wildcard one of the same length.
func (a Area) Lookup(sig tracker.Signature) (Policy, bool) {
	var (
		best  Policy
		found bool
	)
	for _, p := range a.Policies {
		if !p.matches(sig) {
			continue
		}
		switch {
		case !found,
			len(p.Prefix) > len(best.Prefix),
			len(p.Prefix) == len(best.Prefix) && best.matchesAnyMethod() && !p.matchesAnyMethod():
			best, found = p, true
		}
	}
	return best, found
}

// CleanupOptions returns the retention options for a record in this area.
func (a Area) CleanupOptions(snap tracker.Snapshot) []tracker.CleanupOption {
	p, ok := a.Lookup(snap.Signature())
	if !ok {
		return nil
	}
	return p.CleanupOptions()
}
