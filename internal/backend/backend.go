// Package backend glues the catalog, engine client, GPU inventory and run
// orchestrator into the one service surface the HTTP layer exposes to the
// presentation client.
package backend

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/internal/catalog"
	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/internal/gpu"
	"github.com/MHubAI/SlicerMHubRunner/internal/orchestrator"
	"github.com/MHubAI/SlicerMHubRunner/internal/registry"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Backend implements the daemon's public operations.
type Backend struct {
	catalog *catalog.Service
	eng     engine.Client
	orch    *orchestrator.Orchestrator
	gpus    *gpu.Inventory
	log     zerolog.Logger
	started time.Time
}

// New wires a Backend from its collaborators.
func New(cat *catalog.Service, eng engine.Client, orch *orchestrator.Orchestrator, inv *gpu.Inventory, log zerolog.Logger) *Backend {
	return &Backend{
		catalog: cat,
		eng:     eng,
		orch:    orch,
		gpus:    inv,
		log:     log,
		started: time.Now(),
	}
}

// snapshot returns the current catalog snapshot, refreshing lazily on the
// first use.
func (b *Backend) snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	if snap := b.catalog.Snapshot(); snap != nil {
		return snap, nil
	}
	return b.catalog.Refresh(ctx)
}

// localImages lists engine images, degrading to an empty set when the
// engine is unreachable so the catalog stays browsable.
func (b *Backend) localImages(ctx context.Context) []types.LocalImage {
	images, err := b.eng.ListImages(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("image list unavailable; treating all models as not present")
		return nil
	}
	return images
}

// ListModels returns the catalog joined with local image status.
func (b *Backend) ListModels(ctx context.Context) (types.ModelsResponse, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return types.ModelsResponse{}, err
	}
	return types.ModelsResponse{
		Models:        registry.Reconcile(snap, b.localImages(ctx)),
		RefreshedUnix: snap.RefreshedAt.Unix(),
	}, nil
}

// GetModel returns one descriptor with its local status.
func (b *Backend) GetModel(ctx context.Context, id string) (types.ModelWithStatus, error) {
	if _, err := b.snapshot(ctx); err != nil {
		return types.ModelWithStatus{}, err
	}
	m, err := b.catalog.Get(id)
	if err != nil {
		return types.ModelWithStatus{}, err
	}
	return types.ModelWithStatus{Model: m, Status: registry.StatusOf(m, b.localImages(ctx))}, nil
}

// SearchModels returns catalog entries matching query, with local status.
func (b *Backend) SearchModels(ctx context.Context, query string) (types.ModelsResponse, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return types.ModelsResponse{}, err
	}
	matched := &catalog.Snapshot{Models: b.catalog.Search(query), RefreshedAt: snap.RefreshedAt}
	return types.ModelsResponse{
		Models:        registry.Reconcile(matched, b.localImages(ctx)),
		RefreshedUnix: snap.RefreshedAt.Unix(),
	}, nil
}

// RefreshCatalog forces a catalog refresh and returns the model count.
func (b *Backend) RefreshCatalog(ctx context.Context) (int, error) {
	snap, err := b.catalog.Refresh(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap.Models), nil
}

// PullModelImage pulls or updates the image behind a model id, forwarding
// engine progress lines.
func (b *Backend) PullModelImage(ctx context.Context, id string, onLine func(string)) error {
	if _, err := b.snapshot(ctx); err != nil {
		return err
	}
	m, err := b.catalog.Get(id)
	if err != nil {
		return err
	}
	return b.orch.PullImage(ctx, m.Image, func(ev engine.PullEvent) {
		if onLine != nil {
			onLine(ev.Line)
		}
	})
}

// RemoveModelImage removes the local image behind a model id.
func (b *Backend) RemoveModelImage(ctx context.Context, id string) error {
	if _, err := b.snapshot(ctx); err != nil {
		return err
	}
	m, err := b.catalog.Get(id)
	if err != nil {
		return err
	}
	return b.orch.RemoveImage(ctx, m.Image)
}

// ListGPUs returns the device inventory, invalidating the cache first when
// refresh is set.
func (b *Backend) ListGPUs(ctx context.Context, refresh bool) ([]types.GPUDevice, error) {
	if refresh {
		b.gpus.Invalidate()
	}
	return b.gpus.List(ctx)
}

// Submit enqueues a run and returns its job id.
func (b *Backend) Submit(req types.RunRequest) (string, error) {
	return b.orch.Submit(req)
}

// Job returns one job view.
func (b *Backend) Job(id string) (types.JobView, error) {
	j := b.orch.Registry().Get(id)
	if j == nil {
		return types.JobView{}, orchestrator.ErrJobNotFound(id)
	}
	return j.View(), nil
}

// Jobs returns all retained jobs.
func (b *Backend) Jobs() []types.JobView {
	return b.orch.Registry().Views()
}

// SubscribeLogs returns a job's ordered log stream.
func (b *Backend) SubscribeLogs(ctx context.Context, id string) (<-chan string, error) {
	return b.orch.SubscribeLogs(ctx, id)
}

// Cancel requests termination of one job.
func (b *Backend) Cancel(id string) error {
	return b.orch.Cancel(id)
}

// KillAll cancels every non-terminal job.
func (b *Backend) KillAll() types.KillAllResponse {
	return b.orch.KillAll()
}

// ClearJob drops one terminal job from the registry.
func (b *Backend) ClearJob(id string) error {
	return b.orch.Registry().Clear(id)
}

// ClearJobs drops all terminal jobs and returns how many were removed.
func (b *Backend) ClearJobs() int {
	return b.orch.Registry().ClearAll()
}

// Ready reports whether the engine answers its availability probe.
func (b *Backend) Ready(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := b.eng.Version(probe)
	return err == nil
}

// Status summarizes the daemon for the client status panel.
func (b *Backend) Status(ctx context.Context) types.StatusResponse {
	resp := types.StatusResponse{
		Backend:        types.BackendInfo{Name: b.eng.Name()},
		ActiveJobs:     b.orch.Registry().ActiveCount(),
		TotalJobs:      b.orch.Registry().Len(),
		UptimeSeconds:  int64(time.Since(b.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if v, err := b.eng.Version(probe); err == nil {
		resp.Backend.Version = v
		resp.Backend.Available = true
	}
	if snap := b.catalog.Snapshot(); snap != nil {
		resp.CatalogModels = len(snap.Models)
		resp.CatalogRefreshedUnix = snap.RefreshedAt.Unix()
	}
	return resp
}
