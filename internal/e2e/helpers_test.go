package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/internal/backend"
	"github.com/MHubAI/SlicerMHubRunner/internal/catalog"
	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/internal/gpu"
	"github.com/MHubAI/SlicerMHubRunner/internal/httpapi"
	"github.com/MHubAI/SlicerMHubRunner/internal/orchestrator"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

const indexBody = `{"data":[
  {"id":"totalsegmentator","name":"totalsegmentator","label":"TotalSegmentator",
   "categories":["Segmentation"],
   "inputs":[{"format":"DICOM","label":"CT scan"}]}
]}`

// scriptedEngine simulates container runs without a real engine binary.
type scriptedEngine struct {
	mu       sync.Mutex
	images   map[string]bool
	logLines []string
	exitCode int
	blockRun chan struct{} // non-nil: Wait blocks until closed
	killed   int
}

func newScriptedEngine(presentImages ...string) *scriptedEngine {
	imgs := make(map[string]bool, len(presentImages))
	for _, ref := range presentImages {
		imgs[ref] = true
	}
	return &scriptedEngine{images: imgs}
}

func (e *scriptedEngine) Name() string { return "docker" }

func (e *scriptedEngine) Version(ctx context.Context) (string, error) {
	return "Docker version 27.1.1", nil
}

func (e *scriptedEngine) ListImages(ctx context.Context) ([]types.LocalImage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.LocalImage
	for ref := range e.images {
		out = append(out, types.LocalImage{Ref: ref})
	}
	return out, nil
}

func (e *scriptedEngine) PullImage(ctx context.Context, ref string, onEvent func(engine.PullEvent)) error {
	if onEvent != nil {
		onEvent(engine.PullEvent{Line: "latest: Pulling from " + ref})
		onEvent(engine.PullEvent{Line: "Status: Downloaded newer image for " + ref})
	}
	e.mu.Lock()
	e.images[ref] = true
	e.mu.Unlock()
	return nil
}

func (e *scriptedEngine) RemoveImage(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.images[ref] {
		return engine.ErrImageNotFound(ref)
	}
	delete(e.images, ref)
	return nil
}

func (e *scriptedEngine) CreateAndStart(ctx context.Context, spec engine.RunSpec) (engine.ContainerHandle, error) {
	return engine.ContainerHandle{ID: "ctr-e2e", Backend: "docker"}, nil
}

func (e *scriptedEngine) StreamLogs(ctx context.Context, h engine.ContainerHandle, onLine func(string)) error {
	e.mu.Lock()
	lines := e.logLines
	block := e.blockRun
	e.mu.Unlock()
	for _, l := range lines {
		onLine(l)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *scriptedEngine) Wait(ctx context.Context, h engine.ContainerHandle) (int, error) {
	e.mu.Lock()
	block := e.blockRun
	code := e.exitCode
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	return code, nil
}

func (e *scriptedEngine) Kill(ctx context.Context, h engine.ContainerHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed++
	if e.blockRun != nil {
		select {
		case <-e.blockRun:
		default:
			close(e.blockRun)
		}
	}
	return nil
}

func (e *scriptedEngine) ListGPUs(ctx context.Context) ([]types.GPUDevice, error) {
	return []types.GPUDevice{{Index: 0, Name: "NVIDIA RTX A4000", MemoryMB: 16376, Available: true}}, nil
}

// newServer wires catalog + orchestrator + backend over the scripted engine
// and returns the running HTTP test server.
func newServer(t *testing.T, eng *scriptedEngine) *httptest.Server {
	t.Helper()
	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(indexBody))
	}))
	t.Cleanup(index.Close)

	cat := catalog.New(catalog.Options{Endpoint: index.URL, ImageRepo: "mhubai/"})
	orch := orchestrator.New(orchestrator.Options{
		Engine:  eng,
		Catalog: cat,
		Config:  orchestrator.Config{AutoPull: true, AllowConcurrentSameInput: true},
	})
	t.Cleanup(orch.Shutdown)

	svc := backend.New(cat, eng, orch, gpu.NewInventory(eng), zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return srv
}
