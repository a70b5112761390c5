package engine

import (
	"context"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// ContainerHandle identifies one live container owned by a client. Handles
// are opaque to callers; only the client that created a handle may act on it.
type ContainerHandle struct {
	// Engine-native container id (docker) or container name (udocker).
	ID string
	// Backend that owns the handle.
	Backend string
}

// PullEvent is one progress line emitted during an image pull.
type PullEvent struct {
	Line string
}

// RunSpec describes a container the client should create and start.
type RunSpec struct {
	Image     string
	InputDir  string   // mounted read-only at the container input path
	OutputDir string   // mounted read-write at the container output path
	GPUs      []int    // device indices; nil/empty means CPU-only
	Args      []string // appended after the image reference
}

// Client is the capability interface over a local container engine.
// All blocking calls take a context and honor its cancellation.
type Client interface {
	// Name returns the backend identity ("docker" or "udocker").
	Name() string

	// Version probes the engine and returns its version string.
	// Fails with EngineUnavailable when the engine cannot be reached.
	Version(ctx context.Context) (string, error)

	// ListImages returns locally present images matching the configured
	// repository filter. Fails with EngineUnavailable.
	ListImages(ctx context.Context) ([]types.LocalImage, error)

	// PullImage fetches ref and emits progress events until the pull
	// finishes or ctx is cancelled. A cancelled pull is abandoned; layers
	// the engine already committed are left as-is.
	PullImage(ctx context.Context, ref string, onEvent func(PullEvent)) error

	// RemoveImage deletes a local image. Fails with ImageInUse when a
	// container still references it, NotFound when absent.
	RemoveImage(ctx context.Context, ref string) error

	// CreateAndStart creates and starts a container for spec.
	// Fails with EngineUnavailable, ImageNotFound or InvalidMount.
	CreateAndStart(ctx context.Context, spec RunSpec) (ContainerHandle, error)

	// StreamLogs delivers container output lines to onLine from the
	// current position until the container exits or ctx is cancelled.
	StreamLogs(ctx context.Context, h ContainerHandle, onLine func(string)) error

	// Wait blocks until the container reaches a terminal state and
	// returns its exit code. Cancellable via ctx.
	Wait(ctx context.Context, h ContainerHandle) (int, error)

	// Kill terminates the container. Killing an already-terminated
	// container is a no-op success.
	Kill(ctx context.Context, h ContainerHandle) error

	// ListGPUs enumerates locally visible GPU devices.
	ListGPUs(ctx context.Context) ([]types.GPUDevice, error)
}
