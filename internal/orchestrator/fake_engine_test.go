package orchestrator

import (
	"context"
	"sync"

	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// fakeEngine is a scriptable engine.Client for state machine tests.
type fakeEngine struct {
	mu      sync.Mutex
	images  map[string]bool
	gpus    []types.GPUDevice
	listErr error

	pullErr   error
	pulled    []string
	pullLines []string

	createErr error
	created   int

	logLines []string
	exitCode int
	waitCh   chan struct{} // non-nil: Wait blocks until closed
	killErr  error
	killed   []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{images: map[string]bool{}}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Version(ctx context.Context) (string, error) { return "fake 1.0", nil }

func (f *fakeEngine) ListImages(ctx context.Context) ([]types.LocalImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []types.LocalImage
	for ref, present := range f.images {
		if present {
			out = append(out, types.LocalImage{Ref: ref})
		}
	}
	return out, nil
}

func (f *fakeEngine) PullImage(ctx context.Context, ref string, onEvent func(engine.PullEvent)) error {
	f.mu.Lock()
	err := f.pullErr
	lines := f.pullLines
	f.mu.Unlock()
	for _, l := range lines {
		if onEvent != nil {
			onEvent(engine.PullEvent{Line: l})
		}
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	f.pulled = append(f.pulled, ref)
	f.images[ref] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return engine.ErrNotFound(ref)
	}
	delete(f.images, ref)
	return nil
}

func (f *fakeEngine) CreateAndStart(ctx context.Context, spec engine.RunSpec) (engine.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return engine.ContainerHandle{}, f.createErr
	}
	f.created++
	return engine.ContainerHandle{ID: "ctr-1", Backend: "fake"}, nil
}

func (f *fakeEngine) StreamLogs(ctx context.Context, h engine.ContainerHandle, onLine func(string)) error {
	f.mu.Lock()
	lines := f.logLines
	wait := f.waitCh
	f.mu.Unlock()
	for _, l := range lines {
		onLine(l)
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeEngine) Wait(ctx context.Context, h engine.ContainerHandle) (int, error) {
	f.mu.Lock()
	wait := f.waitCh
	code := f.exitCode
	f.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	return code, nil
}

func (f *fakeEngine) Kill(ctx context.Context, h engine.ContainerHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, h.ID)
	if f.waitCh != nil {
		select {
		case <-f.waitCh:
		default:
			close(f.waitCh)
		}
	}
	return nil
}

func (f *fakeEngine) ListGPUs(ctx context.Context) ([]types.GPUDevice, error) {
	return f.gpus, nil
}

// fakeResolver maps model ids to descriptors without a live catalog.
type fakeResolver struct {
	models map[string]types.Model
}

func (r *fakeResolver) Get(id string) (types.Model, error) {
	if m, ok := r.models[id]; ok {
		return m, nil
	}
	return types.Model{}, ErrJobNotFound(id)
}
