package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Container mount points expected by model images.
const (
	containerInputPath  = "/app/data/input_data"
	containerOutputPath = "/app/data/output_data"
)

// DockerClient drives a docker-compatible CLI executable.
type DockerClient struct {
	executable  string
	imageFilter string // repository prefix, e.g. "mhubai/"
	run         commandRunner
	env         []string
	log         zerolog.Logger
}

// DockerOptions configures a DockerClient.
type DockerOptions struct {
	// Executable is the docker binary; defaults to "docker" on PATH.
	Executable string
	// ImageFilter restricts ListImages to repositories with this prefix.
	ImageFilter string
	// Logger for engine-level diagnostics.
	Logger zerolog.Logger
}

// NewDockerClient constructs a client for the primary docker backend.
func NewDockerClient(opts DockerOptions) *DockerClient {
	exe := strings.TrimSpace(opts.Executable)
	if exe == "" {
		exe = "docker"
	}
	return &DockerClient{
		executable:  exe,
		imageFilter: opts.ImageFilter,
		run:         osRunner{},
		env:         buildEnv(exe),
		log:         opts.Logger,
	}
}

func (c *DockerClient) Name() string { return "docker" }

func (c *DockerClient) Version(ctx context.Context) (string, error) {
	out, _, code, err := c.run.Output(ctx, c.env, c.executable, "--version")
	if err != nil || code != 0 {
		return "", ErrEngineUnavailable("docker unavailable: " + c.executable)
	}
	return strings.TrimSpace(out), nil
}

func (c *DockerClient) ListImages(ctx context.Context) ([]types.LocalImage, error) {
	args := []string{"images", "--format", "{{.Repository}}:{{.Tag}}|{{.Digest}}|{{.Size}}|{{.CreatedAt}}"}
	if c.imageFilter != "" {
		args = append(args, "--filter", "reference="+c.imageFilter+"*")
	}
	out, stderr, code, err := c.run.Output(ctx, c.env, c.executable, args...)
	if err != nil {
		return nil, ErrEngineUnavailable("docker images: " + err.Error())
	}
	if code != 0 {
		return nil, ErrEngineUnavailable("docker images: " + firstLine(stderr))
	}
	return parseDockerImages(out), nil
}

// parseDockerImages converts `docker images --format` output lines into
// LocalImage entries. Dangling (<none>) tags are skipped.
func parseDockerImages(out string) []types.LocalImage {
	var images []types.LocalImage
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		ref := parts[0]
		if strings.Contains(ref, "<none>") {
			continue
		}
		digest := parts[1]
		if digest == "<none>" {
			digest = ""
		}
		images = append(images, types.LocalImage{
			Ref:     ref,
			Digest:  digest,
			Size:    parts[2],
			Created: parts[3],
		})
	}
	return images
}

func (c *DockerClient) PullImage(ctx context.Context, ref string, onEvent func(PullEvent)) error {
	code, err := c.run.Stream(ctx, c.env, func(line string) {
		if onEvent != nil {
			onEvent(PullEvent{Line: line})
		}
	}, c.executable, "pull", ref)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPull(ref, err)
	}
	if code != 0 {
		return ErrPull(ref, fmt.Errorf("docker pull exited %d", code))
	}
	return nil
}

func (c *DockerClient) RemoveImage(ctx context.Context, ref string) error {
	_, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "rmi", ref)
	if err != nil {
		return ErrEngineUnavailable("docker rmi: " + err.Error())
	}
	if code != 0 {
		low := strings.ToLower(stderr)
		switch {
		case strings.Contains(low, "no such image"):
			return ErrNotFound(ref)
		case strings.Contains(low, "image is being used") || strings.Contains(low, "conflict"):
			return ErrImageInUse(ref)
		default:
			return ErrEngineUnavailable("docker rmi: " + firstLine(stderr))
		}
	}
	return nil
}

func (c *DockerClient) CreateAndStart(ctx context.Context, spec RunSpec) (ContainerHandle, error) {
	if err := validateMountDir(spec.InputDir); err != nil {
		return ContainerHandle{}, err
	}
	if err := validateMountDir(spec.OutputDir); err != nil {
		return ContainerHandle{}, err
	}

	args := []string{"create", "-t", "--network=none", "--pull=never"}
	args = append(args, gpuArgs(spec.GPUs)...)
	args = append(args,
		"-v", spec.InputDir+":"+containerInputPath+":ro",
		"-v", spec.OutputDir+":"+containerOutputPath+":rw",
		spec.Image,
	)
	args = append(args, spec.Args...)

	c.log.Debug().Str("image", spec.Image).Strs("args", args).Msg("docker create")
	out, stderr, code, err := c.run.Output(ctx, c.env, c.executable, args...)
	if err != nil {
		return ContainerHandle{}, ErrEngineUnavailable("docker create: " + err.Error())
	}
	if code != 0 {
		low := strings.ToLower(stderr)
		if strings.Contains(low, "no such image") || strings.Contains(low, "unable to find image") {
			return ContainerHandle{}, ErrImageNotFound(spec.Image)
		}
		return ContainerHandle{}, ErrEngineUnavailable("docker create: " + firstLine(stderr))
	}
	id := firstLine(out)
	if id == "" {
		return ContainerHandle{}, ErrEngineUnavailable("docker create returned no container id")
	}

	_, stderr, code, err = c.run.Output(ctx, c.env, c.executable, "start", id)
	if err != nil || code != 0 {
		// Container never ran; remove the created shell best-effort.
		rmCtx := context.WithoutCancel(ctx)
		_, _, _, _ = c.run.Output(rmCtx, c.env, c.executable, "rm", "-f", id)
		return ContainerHandle{}, ErrEngineUnavailable("docker start: " + firstLine(stderr))
	}
	return ContainerHandle{ID: id, Backend: "docker"}, nil
}

// gpuArgs translates device indices into a docker --gpus request.
// nil means CPU-only; an explicit empty selection also stays CPU-only,
// matching the request contract (empty = CPU).
func gpuArgs(gpus []int) []string {
	if len(gpus) == 0 {
		return nil
	}
	idx := make([]string, len(gpus))
	for i, g := range gpus {
		idx[i] = strconv.Itoa(g)
	}
	return []string{"--gpus", "device=" + strings.Join(idx, ",")}
}

func (c *DockerClient) StreamLogs(ctx context.Context, h ContainerHandle, onLine func(string)) error {
	_, err := c.run.Stream(ctx, c.env, onLine, c.executable, "logs", "--follow", h.ID)
	if err != nil && ctx.Err() == nil {
		return ErrEngineUnavailable("docker logs: " + err.Error())
	}
	return nil
}

func (c *DockerClient) Wait(ctx context.Context, h ContainerHandle) (int, error) {
	out, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "wait", h.ID)
	if err != nil {
		return -1, err
	}
	if code != 0 {
		return -1, ErrNotFound(firstLine(stderr))
	}
	exit, convErr := strconv.Atoi(firstLine(out))
	if convErr != nil {
		return -1, fmt.Errorf("docker wait: unexpected output %q", firstLine(out))
	}
	// The container is done; drop its filesystem shell.
	rmCtx := context.WithoutCancel(ctx)
	_, _, _, _ = c.run.Output(rmCtx, c.env, c.executable, "rm", h.ID)
	return exit, nil
}

func (c *DockerClient) Kill(ctx context.Context, h ContainerHandle) error {
	_, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "kill", h.ID)
	if err != nil {
		return ErrEngineUnavailable("docker kill: " + err.Error())
	}
	if code != 0 {
		low := strings.ToLower(stderr)
		if strings.Contains(low, "no such container") {
			// Already gone: nothing left to remove either.
			return nil
		}
		// Killing a container that already exited is a no-op success, but
		// its filesystem shell is still around.
		if !strings.Contains(low, "is not running") {
			return ErrEngineUnavailable("docker kill: " + firstLine(stderr))
		}
	}
	// Killed containers never reach the Wait cleanup, so drop the shell here.
	rmCtx := context.WithoutCancel(ctx)
	_, _, _, _ = c.run.Output(rmCtx, c.env, c.executable, "rm", h.ID)
	return nil
}

func (c *DockerClient) ListGPUs(ctx context.Context) ([]types.GPUDevice, error) {
	out, _, code, err := c.run.Output(ctx, c.env, "nvidia-smi",
		"--query-gpu="+nvidiaSMIQuery, "--format=csv,noheader,nounits")
	if err != nil || code != 0 {
		// No nvidia-smi means no visible GPUs, not an engine failure.
		return nil, nil
	}
	return parseNvidiaSMI(out), nil
}

const nvidiaSMIQuery = "index,name,memory.total,memory.used"

// parseNvidiaSMI reads `nvidia-smi --query-gpu` CSV lines. A device counts as
// available while under a quarter of its memory is allocated; a model run
// holds most of the device for its duration, so anything past that is busy.
func parseNvidiaSMI(out string) []types.GPUDevice {
	var gpus []types.GPUDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 4)
		if len(parts) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		dev := types.GPUDevice{Index: idx, Name: strings.TrimSpace(parts[1]), Available: true}
		if len(parts) >= 3 {
			if mem, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
				dev.MemoryMB = mem
			}
		}
		if len(parts) == 4 && dev.MemoryMB > 0 {
			if used, err := strconv.Atoi(strings.TrimSpace(parts[3])); err == nil {
				dev.Available = used*4 < dev.MemoryMB
			}
		}
		gpus = append(gpus, dev)
	}
	return gpus
}

// validateMountDir rejects paths that do not exist or are not directories.
func validateMountDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidMount("(empty)")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return ErrInvalidMount(path)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
