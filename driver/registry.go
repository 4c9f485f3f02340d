package driver

import (
	"context"
	"sort"

	"github.com/xaionaro-go/xsync"
)

// Factory constructs a driver instance. Exactly one instance is bound to
// a video output for its whole lifetime.
type Factory func(ctx context.Context) Abstract

type registryEntry struct {
	factory Factory

	// priority orders automatic probing: higher is tried first.
	priority int
}

var (
	registryLocker xsync.Mutex
	registry       = map[string]registryEntry{}
)

// Register adds a driver factory under the given name. Higher priority
// drivers are probed first when no explicit driver is requested.
// Registering the same name twice replaces the previous entry.
func Register(name string, priority int, factory Factory) {
	registryLocker.Do(context.TODO(), func() {
		registry[name] = registryEntry{
			factory:  factory,
			priority: priority,
		}
	})
}

// Get returns the factory for a registered name.
func Get(ctx context.Context, name string) (Factory, error) {
	return xsync.DoR2(ctx, &registryLocker, func() (Factory, error) {
		e, ok := registry[name]
		if !ok {
			return nil, ErrUnknownDriver{Name: name}
		}
		return e.factory, nil
	})
}

// Names returns all registered driver names in probing order.
func Names(ctx context.Context) []string {
	return xsync.DoR1(ctx, &registryLocker, func() []string {
		names := make([]string, 0, len(registry))
		for name := range registry {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := registry[names[i]], registry[names[j]]
			if a.priority != b.priority {
				return a.priority > b.priority
			}
			return names[i] < names[j]
		})
		return names
	})
}
