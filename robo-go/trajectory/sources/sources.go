// Package sources registers the per-source step mappers that harmonize each robot
// collection's native schema into the canonical trajectory schema. Which native action
// fields feed which canonical slot is configured here per source, never inferred.
package sources

import (
	"sort"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// MapFn converts one native step into the canonical schema. Implementations must be
// pure: no shared state, same output for the same input.
type MapFn func(trajectory.NativeStep) (trajectory.Step, error)

var registry = map[string]MapFn{
	"toto":                   TotoStepMap,
	"bridge":                 BridgeStepMap,
	"jaco_play":              JacoPlayStepMap,
	"berkeley_cable_routing": BerkeleyCableRoutingStepMap,
}

// Get returns the registered mapper for the named source.
func Get(name string) (MapFn, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("no step mapper registered for source %q (registered: %v)", name, Names())
	}
	return fn, nil
}

// Register adds a mapper for a new source name. Registering a duplicate name is an error.
func Register(name string, fn MapFn) error {
	if _, ok := registry[name]; ok {
		return errors.Errorf("step mapper for source %q already registered", name)
	}
	registry[name] = fn
	return nil
}

// Names lists the registered source names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
