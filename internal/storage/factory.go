// factory.go implements the storage backend registry and factory, mapping backend type
// strings (local, s3, azure, gcs, minio) to constructor functions and dispatching NewStorage calls.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aspr-photos/intake/internal/config"
)

// Factory function type for creating storage backends
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Registered returns the names of all registered backends, sorted.
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the configured backend and wraps it with the circuit
// breaker and metrics decorators.
func NewStorage(cfg *config.Config) (Storage, error) {
	name := cfg.Storage.DefaultBackend
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %q (registered: %s)", name, strings.Join(Registered(), ", "))
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", name, err)
	}

	return Wrap(name, backend, cfg.Storage.Breaker), nil
}
