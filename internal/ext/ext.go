// Package ext implements the extension capability gate: a named boolean
// lookup consulted before permitting non-default behavior.
package ext

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Known capability names.
const (
	// SpecifyPorts permits sessions on non-default UDP ports.
	SpecifyPorts = "specify-ports"

	// DynamicSessions permits creating sessions from unmatched inbound
	// packets.
	DynamicSessions = "dynamic-sessions"

	// Authentication permits configuring authenticated sessions.
	Authentication = "authentication"
)

// ErrUnknownCapability indicates a name outside the known capability set.
var ErrUnknownCapability = errors.New("unknown capability")

// known is the set of recognized capability names.
var known = map[string]struct{}{
	SpecifyPorts:    {},
	DynamicSessions: {},
	Authentication:  {},
}

// Gate answers capability queries. The zero value has every capability
// disabled. A Gate is built once at startup and read-only afterward.
type Gate struct {
	enabled map[string]struct{}
}

// NewGate builds a gate with the given capabilities enabled. Unknown
// names are rejected so configuration typos surface at startup.
func NewGate(names ...string) (*Gate, error) {
	g := &Gate{enabled: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("capability %q: %w", name, ErrUnknownCapability)
		}
		g.enabled[name] = struct{}{}
	}
	return g, nil
}

// IsEnabled reports whether the named capability is enabled.
func (g *Gate) IsEnabled(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.enabled[name]
	return ok
}

// Enabled returns the enabled capability names, sorted.
func (g *Gate) Enabled() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.enabled))
	for name := range g.enabled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
