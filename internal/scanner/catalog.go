package scanner

import (
	"context"
	"sync"
)

// Catalog caches a backend's device list. Enumeration is slow on real
// hardware, so the list is reused until Invalidate is called (by the
// hotplug monitor, or explicitly by the user asking for a refresh).
type Catalog struct {
	backend Backend

	mu      sync.Mutex
	devices []DeviceDescriptor
	valid   bool
}

// NewCatalog wraps backend with an enumeration cache.
func NewCatalog(backend Backend) *Catalog {
	return &Catalog{backend: backend}
}

// Backend returns the wrapped backend.
func (c *Catalog) Backend() Backend { return c.backend }

// Devices returns the cached device list, enumerating on first use.
func (c *Catalog) Devices(ctx context.Context) ([]DeviceDescriptor, error) {
	c.mu.Lock()
	if c.valid {
		out := append([]DeviceDescriptor(nil), c.devices...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	devices, err := c.backend.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.devices = devices
	c.valid = true
	c.mu.Unlock()
	return append([]DeviceDescriptor(nil), devices...), nil
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.devices = nil
	c.mu.Unlock()
}

// Open opens a device through the backend.
func (c *Catalog) Open(ctx context.Context, id string) (Handle, error) {
	return c.backend.Open(ctx, id)
}
