// services/hal/registry.go
package hal

import (
	"fmt"
	"sync"

	"linuxhal-go/dispatch"
	"linuxhal-go/resource"
)

// BuildInput is provided to a device builder to construct a peripheral
// backend wired to the shared registry and dispatcher.
type BuildInput struct {
	ID     string
	Params any

	Registry   *resource.Registry
	Dispatcher *dispatch.Dispatcher
}

// Builder constructs a peripheral backend from config.
type Builder interface {
	Build(in BuildInput) (Peripheral, error)
}

var (
	muBuilders sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder installs a builder for a given device type string.
// It panics on duplicate registration to catch mistakes at start-up.
func RegisterBuilder(deviceType string, b Builder) {
	muBuilders.Lock()
	defer muBuilders.Unlock()
	if deviceType == "" {
		panic("hal: empty device type for builder")
	}
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("hal: builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

// findBuilder looks up a registered builder by type.
func findBuilder(deviceType string) (Builder, bool) {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}
