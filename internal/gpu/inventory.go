// Package gpu exposes the locally visible GPU set as a thin cache over the
// engine client. There is no background polling: callers invalidate after an
// engine restart or backend switch.
package gpu

import (
	"context"
	"sync"

	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Inventory caches one GPU enumeration until invalidated.
type Inventory struct {
	client engine.Client

	mu     sync.Mutex
	cached []types.GPUDevice
	valid  bool
}

// NewInventory builds an inventory over the given engine client.
func NewInventory(client engine.Client) *Inventory {
	return &Inventory{client: client}
}

// List returns the cached device set, enumerating through the engine on the
// first call after construction or invalidation. The returned slice is a
// copy.
func (inv *Inventory) List(ctx context.Context) ([]types.GPUDevice, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if !inv.valid {
		gpus, err := inv.client.ListGPUs(ctx)
		if err != nil {
			return nil, err
		}
		inv.cached = gpus
		inv.valid = true
	}
	out := make([]types.GPUDevice, len(inv.cached))
	copy(out, inv.cached)
	return out, nil
}

// Invalidate drops the cached enumeration.
func (inv *Inventory) Invalidate() {
	inv.mu.Lock()
	inv.valid = false
	inv.cached = nil
	inv.mu.Unlock()
}
